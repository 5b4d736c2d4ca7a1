package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"tempmon/internal/storage"
)

const defaultExportWindow = 7 * 24 * time.Hour

// Export renders the alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	alerts, err := store.ListAlertsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	alerts = filterMachine(alerts, opts.Machine)
	if len(alerts) == 0 {
		a.Logger.Info().Msg("no alerts found for export window")
		return nil
	}

	downsampled := downsampleAlerts(alerts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(alerts)).Int("exported", len(downsampled)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSVFile(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeAlertsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleAlerts(alerts []storage.AlertRecord, max int) []storage.AlertRecord {
	if max <= 0 || len(alerts) <= max {
		return alerts
	}
	if max == 1 {
		return alerts[len(alerts)-1:]
	}

	result := make([]storage.AlertRecord, 0, max)
	step := float64(len(alerts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(alerts) {
			idx = len(alerts) - 1
		}
		result = append(result, alerts[idx])
	}
	return result
}

func writeAlertsCSVFile(path string, alerts []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeAlertsCSV(file, alerts)
}

func writeAlertsCSV(w io.Writer, alerts []storage.AlertRecord) error {
	writer := csv.NewWriter(w)

	header := []string{"sample_ts", "machine", "alert_val", "value", "threshold_low", "threshold_high", "reason"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range alerts {
		record := []string{
			rec.SampleTS.Format(time.RFC3339),
			rec.Machine,
			strconv.Itoa(rec.AlertVal),
			rec.Value.String(),
			rec.ThresholdLow.String(),
			rec.ThresholdHigh.String(),
			rec.Reason,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeAlertsPNG plots the alerted value per machine on the primary axis and
// the alert state on the secondary axis.
func writeAlertsPNG(path string, alerts []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	graph := alertChart(alerts)

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func alertChart(alerts []storage.AlertRecord) chart.Chart {
	type machineSeries struct {
		x      []time.Time
		values []float64
		states []float64
	}
	byMachine := make(map[string]*machineSeries)
	minTS, maxTS := alerts[0].SampleTS, alerts[0].SampleTS
	minV, maxV := math.Inf(1), math.Inf(-1)

	for _, rec := range alerts {
		s, ok := byMachine[rec.Machine]
		if !ok {
			s = &machineSeries{}
			byMachine[rec.Machine] = s
		}
		v := rec.Value.InexactFloat64()
		s.x = append(s.x, rec.SampleTS)
		s.values = append(s.values, v)
		s.states = append(s.states, float64(rec.AlertVal))

		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
		if rec.SampleTS.Before(minTS) {
			minTS = rec.SampleTS
		}
		if rec.SampleTS.After(maxTS) {
			maxTS = rec.SampleTS
		}
	}
	if !maxTS.After(minTS) {
		maxTS = minTS.Add(time.Minute)
	}
	pad := (maxV - minV) * 0.1
	if pad == 0 {
		pad = 1
	}

	machines := make([]string, 0, len(byMachine))
	for m := range byMachine {
		machines = append(machines, m)
	}
	sort.Strings(machines)

	series := make([]chart.Series, 0, 2*len(machines))
	for _, m := range machines {
		s := byMachine[m]
		series = append(series,
			chart.TimeSeries{
				Name:    m + " °C",
				XValues: s.x,
				YValues: s.values,
			},
			chart.TimeSeries{
				Name:    m + " AlertVal",
				XValues: s.x,
				YValues: s.states,
				YAxis:   chart.YAxisSecondary,
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
				},
			},
		)
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
			Range: &chart.ContinuousRange{
				Min: chart.TimeToFloat64(minTS),
				Max: chart.TimeToFloat64(maxTS),
			},
		},
		YAxis: chart.YAxis{
			Name:           "Temperature (°C)",
			ValueFormatter: valueFormatter,
			Range:          &chart.ContinuousRange{Min: minV - pad, Max: maxV + pad},
		},
		YAxisSecondary: chart.YAxis{
			Name:           "AlertVal",
			ValueFormatter: valueFormatter,
			Range:          &chart.ContinuousRange{Min: -1.5, Max: 1.5},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph
}

func filterMachine(alerts []storage.AlertRecord, machine string) []storage.AlertRecord {
	if machine == "" {
		return alerts
	}
	kept := alerts[:0:0]
	for _, rec := range alerts {
		if rec.Machine == machine {
			kept = append(kept, rec)
		}
	}
	return kept
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
