package anomaly

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopicDetected is the event bus topic for newly created anomalies.
const TopicDetected = "cost.anomaly.detected"

// Status tracks an anomaly through the resolution workflow.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusResolved:
		return true
	}
	return false
}

// CostRecord is one ledger row written by the ingestion pipelines.
type CostRecord struct {
	TenantID       string
	CloudAccountID string
	Date           time.Time
	Provider       string
	Service        string
	Amount         decimal.Decimal
	Currency       string
	Tags           map[string]string
	Metadata       map[string]any
}

// ServiceTotal is a day's spend summed per (service, provider).
type ServiceTotal struct {
	Service  string
	Provider string
	Total    decimal.Decimal
}

// Key identifies the slot guarded by duplicate suppression.
type Key struct {
	TenantID string
	Service  string
	Provider string
	Date     time.Time
}

// RootCause is the structured note the detector attaches to an anomaly.
type RootCause struct {
	Summary            string `json:"summary"`
	Direction          string `json:"direction"`
	BaselineSamples    int    `json:"baseline_samples"`
	BaselineWindowDays int    `json:"baseline_window_days,omitempty"`
}

// TenantSummary is the owning tenant's display data.
type TenantSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Anomaly is a detected deviation of one day's service spend from baseline.
type Anomaly struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Date           time.Time       `json:"date"`
	Service        string          `json:"service"`
	Provider       string          `json:"provider"`
	ResourceID     *string         `json:"resource_id,omitempty"`
	ExpectedCost   decimal.Decimal `json:"expected_cost"`
	ActualCost     decimal.Decimal `json:"actual_cost"`
	DeviationPct   decimal.Decimal `json:"deviation_pct"`
	Severity       Severity        `json:"severity"`
	Status         Status          `json:"status"`
	RootCause      *RootCause      `json:"root_cause,omitempty"`
	DetectedAt     time.Time       `json:"detected_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy     *string         `json:"resolved_by,omitempty"`
	ResolutionNote *string         `json:"resolution_note,omitempty"`
	Tenant         TenantSummary   `json:"tenant"`
}

// Key returns the duplicate-suppression key of the anomaly.
func (a Anomaly) Key() Key {
	return Key{TenantID: a.TenantID, Service: a.Service, Provider: a.Provider, Date: a.Date}
}

// Event is published once for every anomaly the detector creates.
type Event struct {
	TenantID     string          `json:"tenant_id"`
	AnomalyID    string          `json:"anomaly_id"`
	Provider     string          `json:"provider"`
	Service      string          `json:"service"`
	Severity     Severity        `json:"severity"`
	ExpectedCost decimal.Decimal `json:"expected_cost"`
	ActualCost   decimal.Decimal `json:"actual_cost"`
	DeviationPct decimal.Decimal `json:"deviation_pct"`
	Date         time.Time       `json:"date"`
}

// NewEvent builds the notification payload for a created anomaly.
func NewEvent(a Anomaly) Event {
	return Event{
		TenantID:     a.TenantID,
		AnomalyID:    a.ID,
		Provider:     a.Provider,
		Service:      a.Service,
		Severity:     a.Severity,
		ExpectedCost: a.ExpectedCost,
		ActualCost:   a.ActualCost,
		DeviationPct: a.DeviationPct,
		Date:         a.Date,
	}
}

// Filters narrows a tenant's anomaly listing. Zero values leave a
// dimension unconstrained; all set fields are ANDed.
type Filters struct {
	Status    Status
	Severity  Severity
	Provider  string
	Service   string
	StartDate *time.Time
	EndDate   *time.Time
}

// Validate rejects unknown enum values and inverted date ranges.
func (f Filters) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return Validationf("unknown status %q", f.Status)
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return Validationf("unknown severity %q", f.Severity)
	}
	if f.StartDate != nil && f.EndDate != nil && Day(*f.StartDate).After(Day(*f.EndDate)) {
		return Validationf("start date %s is after end date %s",
			f.StartDate.Format(DateLayout), f.EndDate.Format(DateLayout))
	}
	return nil
}

// Match reports whether a satisfies every set filter.
func (f Filters) Match(a Anomaly) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Provider != "" && a.Provider != f.Provider {
		return false
	}
	if f.Service != "" && a.Service != f.Service {
		return false
	}
	if f.StartDate != nil && a.Date.Before(Day(*f.StartDate)) {
		return false
	}
	if f.EndDate != nil && a.Date.After(Day(*f.EndDate)) {
		return false
	}
	return true
}

// DateLayout is the day-granular layout used on the CLI and in logs.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Yesterday returns the UTC midnight preceding now's calendar day.
func Yesterday(now time.Time) time.Time {
	return Day(now).AddDate(0, 0, -1)
}
