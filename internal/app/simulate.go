package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"tempmon/internal/models"
	"tempmon/internal/threshold"
	"tempmon/internal/transport"
)

// SimulateAlert evaluates one reading for machine through the configured
// state store and notifiers, as if it had arrived from the transport.
func (a *App) SimulateAlert(ctx context.Context, machine string, value float64) error {
	if machine == "" {
		return errors.New("machine is required")
	}

	tr, closeTransports, err := a.openTransports()
	if err != nil {
		return err
	}
	defer closeTransports()

	engine, _, closeEngine, err := a.openEngine(ctx, tr.out)
	if err != nil {
		return err
	}
	defer closeEngine()

	reading := models.Reading{
		EntityID:  machine,
		Value:     value,
		Timestamp: time.Now(),
		Topic:     transport.MachineTopic(a.Config.Engine.TopicPrefix, machine),
	}
	d, err := engine.Handle(ctx, reading)
	if err != nil {
		return err
	}

	printDecision(os.Stdout, d)
	return nil
}

func printDecision(w io.Writer, d threshold.Decision) {
	reason := "suppressed"
	if d.Publish {
		reason = d.Notification("").Reason()
	}
	fmt.Fprintf(w, "%s machine=%s value=%.3f alert=%s (%d) low=%.3f high=%.3f publish=%t reason=%s\n",
		transport.FormatTimestamp(d.Timestamp),
		d.Entity,
		d.Value,
		d.Alert,
		int(d.Alert),
		d.Spec.Low.Value,
		d.Spec.High.Value,
		d.Publish,
		reason,
	)
}
