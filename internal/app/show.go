package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"tempmon/internal/models"
	"tempmon/internal/storage"
)

// Show prints the most recent audited alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Machine, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	return writeAlertTable(os.Stdout, alerts)
}

func writeAlertTable(w io.Writer, alerts []storage.AlertRecord) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time\tMachine\tAlert\tValue\tLow\tHigh\tReason")

	for _, rec := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.SampleTS.Format(time.RFC3339),
			rec.Machine,
			models.Alert(rec.AlertVal),
			formatDecimal(rec.Value, 2),
			formatDecimal(rec.ThresholdLow, 2),
			formatDecimal(rec.ThresholdHigh, 2),
			rec.Reason,
		)
	}

	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
