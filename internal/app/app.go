package app

import (
	"context"
	"errors"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cost-anomaly-engine/internal/alerting"
	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/baseline"
	"cost-anomaly-engine/internal/config"
	"cost-anomaly-engine/internal/eventbus"
	"cost-anomaly-engine/internal/scheduler"
	"cost-anomaly-engine/internal/service"
	"cost-anomaly-engine/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newNotifiers() []alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	var notifiers []alerting.Notifier
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
	}
	return notifiers
}

// startBus starts the event bus with alert routing subscribed. The returned
// stop func drains pending events.
func (a *App) startBus(ctx context.Context) (*eventbus.Bus, func()) {
	bus := eventbus.New(eventbus.Options{
		Buffer:          a.Config.EventBus.Buffer,
		DeliveryTimeout: a.Config.EventBus.DeliveryTimeout,
	}, a.Logger)

	router := alerting.NewRouter(anomaly.Severity(a.Config.Alerting.MinSeverity), a.Logger, a.newNotifiers()...)
	if router.Enabled() {
		bus.Subscribe(anomaly.TopicDetected, "alerting", router.Handle)
	} else {
		a.Logger.Debug().Msg("no alert channels configured")
	}

	go bus.Run(ctx)
	return bus, bus.Close
}

func (a *App) newDetector(ledger service.Ledger, store service.AnomalyStore, publisher service.Publisher, now func() time.Time) *service.Detector {
	calc := baseline.New(ledger, baseline.Options{WindowDays: a.Config.Detection.BaselineWindowDays})
	return service.NewDetector(ledger, calc, store, publisher, service.DetectorOptions{
		ThresholdPct: decimal.NewFromFloat(a.Config.Detection.ThresholdPct),
		Now:          now,
	}, a.Logger)
}

// Run executes the long-running daily detection service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, stopBus := a.startBus(ctx)
	defer stopBus()

	detector := a.newDetector(store, store, bus, nil)
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		Offset:       a.Config.Scheduler.Offset,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	a.Logger.Info().Msg("starting anomaly detection service")
	err = sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, sweepErr := a.sweep(ctx, store, store, detector, anomaly.Yesterday(at))
		return sweepErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("anomaly detection service stopped")
	return nil
}

// SweepSummary reports one pass over all active accounts.
type SweepSummary struct {
	Accounts  int
	Failed    int
	Anomalies int
	Skipped   bool
}

// sweep analyses day for every active account. Accounts run concurrently up
// to detection.concurrency; a failing account is logged and does not cancel
// the others. locker may be nil.
func (a *App) sweep(ctx context.Context, accounts storage.AccountLister, locker storage.AdvisoryLocker, detector *service.Detector, day time.Time) (SweepSummary, error) {
	if locker != nil {
		unlock, acquired, err := locker.TryAdvisoryLock(ctx, a.Config.Scheduler.AdvisoryLockKey)
		if err != nil {
			return SweepSummary{}, err
		}
		if !acquired {
			a.Logger.Info().Msg("another replica holds the detection lock; skipping sweep")
			return SweepSummary{Skipped: true}, nil
		}
		defer unlock()
	}

	list, err := accounts.ListAccounts(ctx)
	if err != nil {
		return SweepSummary{}, anomaly.Dependency("list accounts", err)
	}

	var (
		failed   atomic.Int64
		detected atomic.Int64
		group    errgroup.Group
	)
	group.SetLimit(a.Config.Detection.Concurrency)

	for _, acc := range list {
		acc := acc
		group.Go(func() error {
			runCtx := ctx
			if a.Config.Detection.RunTimeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(ctx, a.Config.Detection.RunTimeout)
				defer cancel()
			}

			res, runErr := detector.AnalyzeRecentCosts(runCtx, acc.TenantID, acc.ID, day)
			if runErr != nil {
				failed.Add(1)
				a.Logger.Error().Err(runErr).
					Str("tenant_id", acc.TenantID).
					Str("cloud_account_id", acc.ID).
					Msg("account detection failed")
				return nil
			}
			detected.Add(int64(res.AnomaliesDetected))
			return nil
		})
	}
	_ = group.Wait()

	summary := SweepSummary{
		Accounts:  len(list),
		Failed:    int(failed.Load()),
		Anomalies: int(detected.Load()),
	}
	a.Logger.Info().
		Str("date", day.Format(anomaly.DateLayout)).
		Int("accounts", summary.Accounts).
		Int("failed", summary.Failed).
		Int("anomalies", summary.Anomalies).
		Msg("detection sweep finished")
	return summary, nil
}

// Migrate applies the database schema.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("schema applied")
	return nil
}

// AnalyzeOptions select one detection run.
type AnalyzeOptions struct {
	TenantID       string
	CloudAccountID string
	Date           time.Time
}

// ExportOptions hold parameters for exporting anomalies and spend history.
type ExportOptions struct {
	TenantID  string
	Service   string
	Provider  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ListOptions configure the anomalies command.
type ListOptions struct {
	TenantID string
	Filters  anomaly.Filters
	JSON     bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	TenantID       string
	CloudAccountID string
	From           time.Time
	To             time.Time
}

// TransitionOptions describe a resolution workflow action.
type TransitionOptions struct {
	ID    string
	Actor string
	Note  string
}
