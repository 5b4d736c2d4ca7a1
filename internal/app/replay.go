package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"tempmon/internal/alerting"
	"tempmon/internal/models"
	"tempmon/internal/state"
	"tempmon/internal/threshold"
	"tempmon/internal/transport"
)

type replayStats struct {
	rows      int
	skipped   int
	published int
}

// Replay feeds readings from a CSV file (machine,temperature,timestamp)
// through a fresh engine with empty state and prints every decision. With
// DryRun nothing is published or audited.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.CSVPath == "" {
		return errors.New("--csv is required")
	}
	file, err := os.Open(opts.CSVPath)
	if err != nil {
		return err
	}
	defer file.Close()

	var notifier alerting.Notifier
	if opts.DryRun {
		a.Logger.Warn().Msg("replay dry-run: alerts are not published")
	} else {
		tr, closeTransports, err := a.openTransports()
		if err != nil {
			return err
		}
		defer closeTransports()

		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		var drain func()
		notifier, drain = a.newNotifier(tr.out, store)
		defer drain()
	}

	// replay never touches the live state store
	engine := a.newEngine(state.NewMemory(), notifier)

	stats, err := replayCSV(ctx, engine, file, os.Stdout, a.Config.Engine.TopicPrefix, a.Logger)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Int("rows", stats.rows).
		Int("skipped", stats.skipped).
		Int("published", stats.published).
		Msg("replay finished")
	return nil
}

func replayCSV(ctx context.Context, engine *threshold.Engine, in io.Reader, out io.Writer, prefix string, logger zerolog.Logger) (replayStats, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var stats replayStats
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		line++
		if err != nil {
			return stats, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "machine") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.rows++
		reading, err := parseReplayRecord(record, prefix)
		if err != nil {
			stats.skipped++
			logger.Warn().Err(err).Int("line", line).Msg("skipping replay row")
			continue
		}

		d, err := engine.Handle(ctx, reading)
		if err != nil {
			stats.skipped++
			continue
		}
		if d.Publish {
			stats.published++
		}
		printDecision(out, d)
	}
}

func parseReplayRecord(record []string, prefix string) (models.Reading, error) {
	if len(record) < 3 {
		return models.Reading{}, fmt.Errorf("%w: expected machine,temperature,timestamp", transport.ErrMalformed)
	}
	machine := strings.TrimSpace(record[0])
	if machine == "" {
		return models.Reading{}, fmt.Errorf("%w: machine missing", transport.ErrMalformed)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: temperature: %v", transport.ErrMalformed, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return models.Reading{}, fmt.Errorf("%w: temperature %q is not finite", transport.ErrMalformed, record[1])
	}
	ts, err := transport.ParseTimestamp(record[2])
	if err != nil {
		return models.Reading{}, err
	}
	return models.Reading{
		EntityID:  machine,
		Value:     value,
		Timestamp: ts,
		Topic:     transport.MachineTopic(prefix, machine),
	}, nil
}
