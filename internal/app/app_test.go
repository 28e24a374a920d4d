package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/config"
	"cost-anomaly-engine/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: 24 * time.Hour, AdvisoryLockKey: 42},
		Detection: config.DetectionConfig{
			ThresholdPct:       50,
			BaselineWindowDays: 30,
			Concurrency:        2,
			RunTimeout:         time.Minute,
		},
		EventBus: config.EventBusConfig{Buffer: 16, DeliveryTimeout: time.Second},
		Alerting: config.AlertingConfig{MinSeverity: "low"},
		Export:   config.ExportConfig{MaxDataPoints: 30},
	}
}

func testApp() *App {
	return NewApp(testConfig(), zerolog.Nop())
}

var sweepDay = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

func seedAccount(store *storage.MemoryStore, tenant, account string, actual int64) {
	store.AddAccount(storage.Account{ID: account, TenantID: tenant, Provider: "aws", Active: true})
	for i := 1; i <= 5; i++ {
		store.AddRecords(anomaly.CostRecord{TenantID: tenant, CloudAccountID: account, Date: sweepDay.AddDate(0, 0, -i), Provider: "aws", Service: "ec2", Amount: decimal.NewFromInt(100)})
	}
	store.AddRecords(anomaly.CostRecord{TenantID: tenant, CloudAccountID: account, Date: sweepDay, Provider: "aws", Service: "ec2", Amount: decimal.NewFromInt(actual)})
}

type fakeLocker struct {
	acquired bool
	unlocked atomic.Bool
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.unlocked.Store(true) }, true, nil
}

func TestSweepAnalysesEveryActiveAccount(t *testing.T) {
	a := testApp()
	store := storage.NewMemoryStore()
	seedAccount(store, "t1", "acc1", 700)
	seedAccount(store, "t2", "acc2", 180)
	seedAccount(store, "t3", "acc3", 110)
	store.AddAccount(storage.Account{ID: "dormant", TenantID: "t4", Provider: "aws", Active: false})

	locker := &fakeLocker{acquired: true}
	detector := a.newDetector(store, store, nil, func() time.Time { return sweepDay.Add(26 * time.Hour) })
	summary, err := a.sweep(context.Background(), store, locker, detector, sweepDay)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Accounts != 3 || summary.Failed != 0 || summary.Anomalies != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !locker.unlocked.Load() {
		t.Fatal("advisory lock must be released after the sweep")
	}

	accounts, _ := store.ListAccounts(context.Background())
	for _, acc := range accounts {
		if acc.LastScanAt == nil {
			t.Fatalf("account %s was not stamped", acc.ID)
		}
	}
}

func TestSweepSkipsWithoutLock(t *testing.T) {
	a := testApp()
	store := storage.NewMemoryStore()
	seedAccount(store, "t1", "acc1", 700)

	detector := a.newDetector(store, store, nil, func() time.Time { return sweepDay.Add(26 * time.Hour) })
	summary, err := a.sweep(context.Background(), store, &fakeLocker{}, detector, sweepDay)
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Skipped || summary.Accounts != 0 {
		t.Fatalf("sweep should be skipped, got %+v", summary)
	}
}

func TestBackfillDaysCountsAnomalies(t *testing.T) {
	a := testApp()
	store := storage.NewMemoryStore()
	seedAccount(store, "t1", "acc1", 700)

	detector := a.newDetector(store, store, nil, func() time.Time { return sweepDay.Add(26 * time.Hour) })
	processed, failed, detected, err := a.backfillDays(context.Background(), detector, "t1", "acc1", sweepDay.AddDate(0, 0, -2), sweepDay)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 3 || failed != 0 || detected != 1 {
		t.Fatalf("processed=%d failed=%d detected=%d", processed, failed, detected)
	}

	if _, _, _, err := a.backfillDays(context.Background(), detector, "", "acc1", sweepDay, sweepDay); err == nil {
		t.Fatal("validation errors must abort the backfill")
	}
}

func TestSimulateAnomalyDrivesAlerting(t *testing.T) {
	var texts []string
	sent := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		texts = append(texts, body["text"])
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		sent <- struct{}{}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Alerting = config.AlertingConfig{
		Enabled:     true,
		MinSeverity: "medium",
		Telegram: config.TelegramConfig{
			Enabled:  true,
			BotToken: "token",
			ChatID:   "chat",
			APIBase:  srv.URL,
			Timeout:  time.Second,
		},
	}
	a := NewApp(cfg, zerolog.Nop())

	var out bytes.Buffer
	res, err := a.SimulateAnomaly(context.Background(), SimulateOptions{
		Service:      "ec2",
		Provider:     "aws",
		Baseline:     decimal.NewFromInt(100),
		Actual:       decimal.NewFromInt(700),
		HistoryDays:  7,
		OutputWriter: &out,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AnomaliesDetected != 1 || res.Anomalies[0].Severity != anomaly.SeverityCritical {
		t.Fatalf("unexpected result %+v", res)
	}

	select {
	case <-sent:
	default:
		t.Fatal("stopping the bus must deliver the pending alert")
	}
	if len(texts) != 1 || !strings.Contains(texts[0], "CRITICAL") {
		t.Fatalf("unexpected alerts %q", texts)
	}
	if !strings.Contains(out.String(), `"anomalies_detected": 1`) {
		t.Fatalf("result not printed:\n%s", out.String())
	}
}

func TestExportWritesAnomaliesCSV(t *testing.T) {
	a := testApp()
	store := storage.NewMemoryStore()
	seed := anomaly.Anomaly{
		ID:           "a1",
		TenantID:     "t1",
		Provider:     "aws",
		Service:      "ec2",
		Date:         sweepDay,
		Severity:     anomaly.SeverityHigh,
		Status:       anomaly.StatusOpen,
		ExpectedCost: decimal.NewFromInt(100),
		ActualCost:   decimal.NewFromInt(350),
		DeviationPct: decimal.NewFromInt(250),
		DetectedAt:   sweepDay.Add(26 * time.Hour),
	}
	if _, _, err := store.Create(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "out", "anomalies.csv")
	from, to := sweepDay.AddDate(0, 0, -3), sweepDay
	if err := a.export(context.Background(), store, store, ExportOptions{TenantID: "t1", CSVPath: path, From: &from, To: &to}); err != nil {
		t.Fatal(err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "a1" || rows[1][8] != "high" || rows[1][2] != "2024-04-10" {
		t.Fatalf("unexpected csv rows %v", rows)
	}
}

func TestExportWindowDefaults(t *testing.T) {
	now := time.Date(2024, 4, 11, 9, 0, 0, 0, time.UTC)
	from, to := exportWindow(now, ExportOptions{MaxPoints: 30})
	if !to.Equal(sweepDay) || !from.Equal(sweepDay.AddDate(0, 0, -29)) {
		t.Fatalf("window = [%s, %s]", from, to)
	}
}

func TestDownsampleTotalsKeepsEndpoints(t *testing.T) {
	totals := make([]storage.DailyTotal, 10)
	for i := range totals {
		totals[i] = storage.DailyTotal{Date: sweepDay.AddDate(0, 0, i), Total: decimal.NewFromInt(int64(i))}
	}
	got := downsampleTotals(totals, 4)
	if len(got) != 4 || !got[0].Date.Equal(totals[0].Date) || !got[3].Date.Equal(totals[9].Date) {
		t.Fatalf("unexpected downsample %+v", got)
	}
}

func TestWriteAnomalyTable(t *testing.T) {
	note := "reserved\ninstance"
	var out bytes.Buffer
	err := writeAnomalyTable(&out, []anomaly.Anomaly{{
		ID:             "a1",
		TenantID:       "t1",
		Tenant:         anomaly.TenantSummary{ID: "t1", Name: "Acme"},
		Provider:       "aws",
		Service:        "ec2",
		Date:           sweepDay,
		Severity:       anomaly.SeverityLow,
		Status:         anomaly.StatusResolved,
		ResolutionNote: &note,
	}})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Acme", "2024-04-10", "resolved", "reserved instance"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("table missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := writeAnomalyTable(&out, nil); err != nil || !strings.Contains(out.String(), "no anomalies found") {
		t.Fatalf("empty table output %q err=%v", out.String(), err)
	}
}
