package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/service"
)

// ListAnomalies prints a tenant's anomalies matching the filters.
func (a *App) ListAnomalies(ctx context.Context, opts ListOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	list, err := service.NewQuery(store, a.Logger).GetAnomaliesForTenant(ctx, opts.TenantID, opts.Filters)
	if err != nil {
		return err
	}
	if opts.JSON {
		return writeJSON(os.Stdout, list)
	}
	return writeAnomalyTable(os.Stdout, list)
}

// Investigate marks an anomaly as under investigation.
func (a *App) Investigate(ctx context.Context, opts TransitionOptions) error {
	return a.transition(ctx, func(r *service.Resolver) (anomaly.Anomaly, error) {
		return r.Investigate(ctx, opts.ID, opts.Actor)
	})
}

// Resolve closes an anomaly, optionally as a dismissal of expected spend.
func (a *App) Resolve(ctx context.Context, opts TransitionOptions, dismiss bool) error {
	return a.transition(ctx, func(r *service.Resolver) (anomaly.Anomaly, error) {
		if dismiss {
			return r.Dismiss(ctx, opts.ID, opts.Actor, opts.Note)
		}
		return r.Resolve(ctx, opts.ID, opts.Actor, opts.Note)
	})
}

// Reopen returns a resolved anomaly to open.
func (a *App) Reopen(ctx context.Context, opts TransitionOptions) error {
	return a.transition(ctx, func(r *service.Resolver) (anomaly.Anomaly, error) {
		return r.Reopen(ctx, opts.ID, opts.Actor)
	})
}

func (a *App) transition(ctx context.Context, apply func(*service.Resolver) (anomaly.Anomaly, error)) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	updated, err := apply(service.NewResolver(store, a.Logger))
	if err != nil {
		return err
	}
	return writeAnomalyTable(os.Stdout, []anomaly.Anomaly{updated})
}

func writeAnomalyTable(out io.Writer, list []anomaly.Anomaly) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "no anomalies found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tDate\tTenant\tProvider\tService\tExpected\tActual\tDeviation%\tSeverity\tStatus\tDetected (UTC)\tNote")

	for _, item := range list {
		tenant := item.Tenant.Name
		if tenant == "" {
			tenant = item.TenantID
		}
		note := ""
		if item.ResolutionNote != nil {
			note = sanitizeInline(*item.ResolutionNote)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			item.ID,
			item.Date.Format(anomaly.DateLayout),
			tenant,
			item.Provider,
			item.Service,
			formatDecimal(item.ExpectedCost, 2),
			formatDecimal(item.ActualCost, 2),
			formatDecimal(item.DeviationPct, 2),
			item.Severity,
			item.Status,
			item.DetectedAt.UTC().Format(time.RFC3339),
			note,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
