package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/service"
)

// Analyze runs detection once for a tenant account and prints the result as JSON.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, stopBus := a.startBus(ctx)
	defer stopBus()

	detector := a.newDetector(store, store, bus, nil)
	res, err := detector.AnalyzeRecentCosts(ctx, opts.TenantID, opts.CloudAccountID, opts.Date)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, res)
}

// Backfill runs detection for every day in [From, To], oldest first.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	start := anomaly.Day(opts.From)
	end := anomaly.Day(opts.To)
	if start.After(end) {
		return errors.New("backfill range is empty; check --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, stopBus := a.startBus(ctx)
	defer stopBus()

	detector := a.newDetector(store, store, bus, nil)
	processed, failed, detected, err := a.backfillDays(ctx, detector, opts.TenantID, opts.CloudAccountID, start, end)
	if err != nil {
		return err
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Int("anomalies", detected).Msg("backfill finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d days failed; check logs", failed, processed+failed)
	}
	return nil
}

// backfillDays stops on validation errors, which would repeat for every
// day, and counts other failures.
func (a *App) backfillDays(ctx context.Context, detector *service.Detector, tenantID, accountID string, start, end time.Time) (processed, failed, detected int, err error) {
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return processed, failed, detected, ctx.Err()
		default:
		}

		res, runErr := detector.AnalyzeRecentCosts(ctx, tenantID, accountID, day)
		if errors.Is(runErr, anomaly.ErrValidation) {
			return processed, failed, detected, runErr
		}
		if runErr != nil {
			failed++
			a.Logger.Error().Err(runErr).Str("date", day.Format(anomaly.DateLayout)).Msg("backfill day failed")
			continue
		}
		processed++
		detected += res.AnomaliesDetected
	}
	return processed, failed, detected, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
