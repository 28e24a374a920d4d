package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/service"
	"cost-anomaly-engine/internal/storage"
)

// Export writes a tenant's anomalies as CSV and/or charts one service's
// daily spend with its anomalies marked as PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PNGPath != "" && (opts.Service == "" || opts.Provider == "") {
		return errors.New("--png requires --service and --provider")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.export(ctx, store, store, opts)
}

func (a *App) export(ctx context.Context, anomalies service.AnomalyStore, totals storage.DailyTotaler, opts ExportOptions) error {
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	from, to := exportWindow(time.Now().UTC(), opts)
	if from.After(to) {
		return errors.New("from must not be after to")
	}

	filters := anomaly.Filters{Service: opts.Service, Provider: opts.Provider, StartDate: &from, EndDate: &to}
	list, err := service.NewQuery(anomalies, a.Logger).GetAnomaliesForTenant(ctx, opts.TenantID, filters)
	if err != nil {
		return err
	}

	if opts.CSVPath != "" {
		if err := writeAnomaliesCSV(opts.CSVPath, list); err != nil {
			return err
		}
		a.Logger.Info().Int("anomalies", len(list)).Str("path", opts.CSVPath).Msg("anomalies exported")
	}

	if opts.PNGPath == "" {
		return nil
	}
	series, err := totals.DailyTotals(ctx, opts.TenantID, opts.Service, opts.Provider, from, to)
	if err != nil {
		return anomaly.Dependency("daily totals", err)
	}
	if len(series) < 2 {
		a.Logger.Info().Int("days", len(series)).Msg("not enough spend history to chart")
		return nil
	}

	downsampled := downsampleTotals(series, opts.MaxPoints)
	if err := writeSpendPNG(opts.PNGPath, opts.Service+" ("+opts.Provider+")", downsampled, list); err != nil {
		return err
	}
	a.Logger.Info().Int("total", len(series)).Int("exported", len(downsampled)).Str("path", opts.PNGPath).Msg("spend chart exported")
	return nil
}

// exportWindow defaults to MaxPoints days ending yesterday.
func exportWindow(now time.Time, opts ExportOptions) (time.Time, time.Time) {
	to := anomaly.Yesterday(now)
	if opts.To != nil {
		to = anomaly.Day(*opts.To)
	}
	from := to.AddDate(0, 0, -(opts.MaxPoints - 1))
	if opts.From != nil {
		from = anomaly.Day(*opts.From)
	}
	return from, to
}

func downsampleTotals(totals []storage.DailyTotal, max int) []storage.DailyTotal {
	if max <= 1 || len(totals) <= max {
		return totals
	}

	result := make([]storage.DailyTotal, 0, max)
	step := float64(len(totals)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(totals) {
			idx = len(totals) - 1
		}
		result = append(result, totals[idx])
	}
	return result
}

func writeAnomaliesCSV(path string, list []anomaly.Anomaly) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"id", "tenant_id", "anomaly_date", "provider", "service", "expected_cost", "actual_cost", "deviation_pct", "severity", "status", "detected_at", "resolved_at", "resolved_by", "resolution_note"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, item := range list {
		resolvedAt, resolvedBy, note := "", "", ""
		if item.ResolvedAt != nil {
			resolvedAt = item.ResolvedAt.UTC().Format(time.RFC3339)
		}
		if item.ResolvedBy != nil {
			resolvedBy = *item.ResolvedBy
		}
		if item.ResolutionNote != nil {
			note = *item.ResolutionNote
		}
		record := []string{
			item.ID,
			item.TenantID,
			item.Date.Format(anomaly.DateLayout),
			item.Provider,
			item.Service,
			item.ExpectedCost.String(),
			item.ActualCost.String(),
			item.DeviationPct.String(),
			string(item.Severity),
			string(item.Status),
			item.DetectedAt.UTC().Format(time.RFC3339),
			resolvedAt,
			resolvedBy,
			note,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSpendPNG(path, title string, totals []storage.DailyTotal, list []anomaly.Anomaly) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(totals))
	spend := make([]float64, len(totals))
	for i, total := range totals {
		x[i] = total.Date
		spend[i] = total.Total.InexactFloat64()
	}

	markers := make([]chart.Value2, 0, len(list))
	for _, item := range list {
		markers = append(markers, chart.Value2{
			XValue: chart.TimeToFloat64(item.Date),
			YValue: item.ActualCost.InexactFloat64(),
			Label:  string(item.Severity),
		})
	}

	moneyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Daily spend",
			ValueFormatter: moneyFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Spend",
				XValues: x,
				YValues: spend,
			},
		},
	}
	if len(markers) > 0 {
		graph.Series = append(graph.Series, chart.AnnotationSeries{
			Name:        "Anomalies",
			Annotations: markers,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
