package app

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/service"
	"cost-anomaly-engine/internal/storage"
)

const (
	simulatedTenant  = "simulated-tenant"
	simulatedAccount = "simulated-account"
)

// SimulateOptions describe a synthetic spend history.
type SimulateOptions struct {
	Service      string
	Provider     string
	Baseline     decimal.Decimal
	Actual       decimal.Decimal
	HistoryDays  int
	PNGPath      string
	OutputWriter io.Writer
}

// SimulateAnomaly seeds an in-memory ledger with HistoryDays of Baseline
// spend followed by Actual spend yesterday, then runs detection through the
// event bus so configured alert channels fire. Nothing touches the database.
func (a *App) SimulateAnomaly(ctx context.Context, opts SimulateOptions) (service.Result, error) {
	if opts.Service == "" || opts.Provider == "" {
		return service.Result{}, errors.New("service and provider are required")
	}
	if !opts.Baseline.IsPositive() || opts.Actual.IsNegative() {
		return service.Result{}, errors.New("baseline must be positive and actual non-negative")
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 14
	}
	if opts.OutputWriter == nil {
		opts.OutputWriter = os.Stdout
	}

	now := time.Now().UTC()
	day := anomaly.Yesterday(now)
	store := storage.NewMemoryStore()
	store.AddTenant(simulatedTenant, "Simulation")
	store.AddAccount(storage.Account{ID: simulatedAccount, TenantID: simulatedTenant, Provider: opts.Provider, Active: true})
	for i := opts.HistoryDays; i >= 1; i-- {
		store.AddRecords(simulatedRecord(opts, day.AddDate(0, 0, -i), opts.Baseline))
	}
	store.AddRecords(simulatedRecord(opts, day, opts.Actual))

	bus, stopBus := a.startBus(ctx)
	detector := a.newDetector(store, store, bus, func() time.Time { return now })
	res, err := detector.AnalyzeRecentCosts(ctx, simulatedTenant, simulatedAccount, day)
	stopBus()
	if err != nil {
		return service.Result{}, err
	}

	if opts.PNGPath != "" {
		if err := a.export(ctx, store, store, ExportOptions{
			TenantID:  simulatedTenant,
			Service:   opts.Service,
			Provider:  opts.Provider,
			PNGPath:   opts.PNGPath,
			MaxPoints: opts.HistoryDays + 1,
		}); err != nil {
			return res, err
		}
	}

	return res, writeJSON(opts.OutputWriter, res)
}

func simulatedRecord(opts SimulateOptions, day time.Time, amount decimal.Decimal) anomaly.CostRecord {
	return anomaly.CostRecord{
		TenantID:       simulatedTenant,
		CloudAccountID: simulatedAccount,
		Date:           day,
		Provider:       opts.Provider,
		Service:        opts.Service,
		Amount:         amount,
		Currency:       "USD",
	}
}
