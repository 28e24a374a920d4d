package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/baseline"
)

// Ledger is the read side of the cost ledger.
type Ledger interface {
	SumByServiceProvider(ctx context.Context, tenantID, cloudAccountID string, date time.Time) ([]anomaly.ServiceTotal, error)
	baseline.AmountLister
}

// AnomalyStore persists detected anomalies.
type AnomalyStore interface {
	// FindOpen returns the non-resolved anomaly for key, or nil.
	FindOpen(ctx context.Context, key anomaly.Key) (*anomaly.Anomaly, error)
	// Create inserts a unless a non-resolved anomaly already holds its key,
	// in which case created is false and nothing is written.
	Create(ctx context.Context, a anomaly.Anomaly) (stored anomaly.Anomaly, created bool, err error)
	List(ctx context.Context, tenantID string, f anomaly.Filters) ([]anomaly.Anomaly, error)
}

// StatusStore applies resolution workflow transitions.
type StatusStore interface {
	Transition(ctx context.Context, t Transition) (anomaly.Anomaly, error)
}

// Transition moves an anomaly from one of From to To. Stores return
// anomaly.ErrNotFound for unknown IDs and anomaly.ErrConflict when the
// current status is not in From or To would break duplicate suppression.
type Transition struct {
	ID   string
	From []anomaly.Status
	To   anomaly.Status
	By   string
	Note string
	At   time.Time
}

// ScanRecorder stores per-account bookkeeping about detection runs.
type ScanRecorder interface {
	RecordScan(ctx context.Context, tenantID, cloudAccountID string, at time.Time, detected int) error
}

// Publisher hands events to the event bus without waiting on subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// BaselineSource computes expected cost for a service.
type BaselineSource interface {
	Compute(ctx context.Context, tenantID, service, provider string, before time.Time) (baseline.Result, bool, error)
	WindowDays() int
}

// DefaultThresholdPct is the absolute deviation at or below which spend is normal.
var DefaultThresholdPct = decimal.NewFromInt(50)
