package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cost-anomaly-engine/internal/anomaly"
)

// DetectorOptions tune the detection run.
type DetectorOptions struct {
	ThresholdPct decimal.Decimal
	Now          func() time.Time
}

// Result summarises one detection run.
type Result struct {
	AnomaliesDetected int               `json:"anomalies_detected"`
	Anomalies         []anomaly.Anomaly `json:"anomalies"`
}

// Detector compares a day's service spend with its baseline and records anomalies.
type Detector struct {
	ledger    Ledger
	baseline  BaselineSource
	store     AnomalyStore
	publisher Publisher
	scans     ScanRecorder
	logger    zerolog.Logger

	threshold decimal.Decimal
	now       func() time.Time
}

// NewDetector wires the detection orchestrator. publisher may be nil.
func NewDetector(ledger Ledger, base BaselineSource, store AnomalyStore, publisher Publisher, opts DetectorOptions, logger zerolog.Logger) *Detector {
	threshold := opts.ThresholdPct
	if threshold.IsZero() || threshold.IsNegative() {
		threshold = DefaultThresholdPct
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var scans ScanRecorder
	if r, ok := store.(ScanRecorder); ok {
		scans = r
	}

	return &Detector{
		ledger:    ledger,
		baseline:  base,
		store:     store,
		publisher: publisher,
		scans:     scans,
		logger:    logger.With().Str("component", "detector").Logger(),
		threshold: threshold,
		now:       now,
	}
}

// AnalyzeRecentCosts runs detection for one tenant account and day. A zero
// analysisDate analyses yesterday (UTC). Any ledger or store failure fails
// the whole run; no partial result is returned.
func (d *Detector) AnalyzeRecentCosts(ctx context.Context, tenantID, cloudAccountID string, analysisDate time.Time) (Result, error) {
	tenantID = strings.TrimSpace(tenantID)
	cloudAccountID = strings.TrimSpace(cloudAccountID)
	if tenantID == "" {
		return Result{}, anomaly.Validationf("tenant id is required")
	}
	if cloudAccountID == "" {
		return Result{}, anomaly.Validationf("cloud account id is required")
	}

	now := d.now()
	day := anomaly.Yesterday(now)
	if !analysisDate.IsZero() {
		day = anomaly.Day(analysisDate)
	}
	if day.After(anomaly.Day(now)) {
		return Result{}, anomaly.Validationf("analysis date %s is in the future", day.Format(anomaly.DateLayout))
	}

	logger := d.logger.With().
		Str("tenant_id", tenantID).
		Str("cloud_account_id", cloudAccountID).
		Str("date", day.Format(anomaly.DateLayout)).
		Logger()

	totals, err := d.ledger.SumByServiceProvider(ctx, tenantID, cloudAccountID, day)
	if err != nil {
		return Result{}, anomaly.Dependency("aggregate daily spend", err)
	}

	result := Result{Anomalies: make([]anomaly.Anomaly, 0)}
	if len(totals) == 0 {
		logger.Debug().Msg("no spend recorded for analysis date")
		d.recordScan(ctx, tenantID, cloudAccountID, 0)
		return result, nil
	}

	for _, total := range totals {
		created, err := d.analyzeService(ctx, logger, tenantID, day, total)
		if err != nil {
			return Result{}, err
		}
		if created != nil {
			result.Anomalies = append(result.Anomalies, *created)
		}
	}
	result.AnomaliesDetected = len(result.Anomalies)

	logger.Info().
		Int("services", len(totals)).
		Int("anomalies", result.AnomaliesDetected).
		Msg("cost analysis complete")

	d.recordScan(ctx, tenantID, cloudAccountID, result.AnomaliesDetected)
	return result, nil
}

func (d *Detector) analyzeService(ctx context.Context, logger zerolog.Logger, tenantID string, day time.Time, total anomaly.ServiceTotal) (*anomaly.Anomaly, error) {
	svcLog := logger.With().Str("service", total.Service).Str("provider", total.Provider).Logger()

	base, ok, err := d.baseline.Compute(ctx, tenantID, total.Service, total.Provider, day)
	if err != nil {
		return nil, anomaly.Dependency("compute baseline", err)
	}
	if !ok || base.Sum.IsZero() {
		svcLog.Debug().Msg("no baseline history; skipping")
		return nil, nil
	}

	deviation := base.Deviation(total.Total)
	magnitude := deviation.Abs()
	if magnitude.LessThanOrEqual(d.threshold) {
		svcLog.Debug().Str("deviation_pct", deviation.StringFixed(2)).Msg("within threshold")
		return nil, nil
	}

	key := anomaly.Key{TenantID: tenantID, Service: total.Service, Provider: total.Provider, Date: day}
	existing, err := d.store.FindOpen(ctx, key)
	if err != nil {
		return nil, anomaly.Dependency("find open anomaly", err)
	}
	if existing != nil {
		svcLog.Debug().Str("anomaly_id", existing.ID).Msg("open anomaly already recorded; suppressing duplicate")
		return nil, nil
	}

	severity := anomaly.Classify(magnitude)
	record := anomaly.Anomaly{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Date:         day,
		Service:      total.Service,
		Provider:     total.Provider,
		ExpectedCost: base.Expected,
		ActualCost:   total.Total,
		DeviationPct: deviation,
		Severity:     severity,
		Status:       anomaly.StatusOpen,
		RootCause:    d.rootCause(base.Expected, deviation, base.Samples),
		DetectedAt:   d.now().UTC(),
	}

	stored, created, err := d.store.Create(ctx, record)
	if err != nil {
		return nil, anomaly.Dependency("create anomaly", err)
	}
	if !created {
		svcLog.Debug().Msg("concurrent run recorded this anomaly first; suppressing duplicate")
		return nil, nil
	}

	svcLog.Info().
		Str("anomaly_id", stored.ID).
		Str("severity", string(stored.Severity)).
		Str("expected", stored.ExpectedCost.StringFixed(2)).
		Str("actual", stored.ActualCost.StringFixed(2)).
		Str("deviation_pct", stored.DeviationPct.StringFixed(2)).
		Msg("cost anomaly detected")

	d.publish(ctx, svcLog, stored)
	return &stored, nil
}

// publish never fails the run; delivery is the bus's concern.
func (d *Detector) publish(ctx context.Context, logger zerolog.Logger, a anomaly.Anomaly) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, anomaly.TopicDetected, anomaly.NewEvent(a)); err != nil {
		logger.Warn().Err(err).Str("anomaly_id", a.ID).Msg("failed to publish anomaly event")
	}
}

func (d *Detector) recordScan(ctx context.Context, tenantID, cloudAccountID string, detected int) {
	if d.scans == nil {
		return
	}
	if err := d.scans.RecordScan(ctx, tenantID, cloudAccountID, d.now().UTC(), detected); err != nil {
		d.logger.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("cloud_account_id", cloudAccountID).
			Msg("failed to record scan bookkeeping")
	}
}

func (d *Detector) rootCause(expected, deviation decimal.Decimal, samples int) *anomaly.RootCause {
	direction := "up"
	verb := "above"
	if deviation.IsNegative() {
		direction = "down"
		verb = "below"
	}
	return &anomaly.RootCause{
		Summary:            fmt.Sprintf("daily spend %s%% %s baseline of %s", deviation.Abs().StringFixed(2), verb, expected.StringFixed(2)),
		Direction:          direction,
		BaselineSamples:    samples,
		BaselineWindowDays: d.baseline.WindowDays(),
	}
}

