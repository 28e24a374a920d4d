package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/service"
)

func memDay(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func record(account string, d int, svc, provider string, amount int64) anomaly.CostRecord {
	return anomaly.CostRecord{
		TenantID:       "t1",
		CloudAccountID: account,
		Date:           memDay(d),
		Provider:       provider,
		Service:        svc,
		Amount:         decimal.NewFromInt(amount),
	}
}

func TestMemorySumByServiceProvider(t *testing.T) {
	m := NewMemoryStore()
	m.AddRecords(
		record("acc1", 2, "ec2", "aws", 10),
		record("acc1", 2, "s3", "aws", 5),
		record("acc1", 2, "ec2", "aws", 15),
		record("acc2", 2, "ec2", "aws", 100),
		record("acc1", 3, "ec2", "aws", 1000),
	)

	totals, err := m.SumByServiceProvider(context.Background(), "t1", "acc1", memDay(2).Add(13*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 {
		t.Fatalf("expected 2 groups, got %+v", totals)
	}
	if totals[0].Service != "ec2" || !totals[0].Total.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("ec2 total = %+v", totals[0])
	}
	if totals[1].Service != "s3" || !totals[1].Total.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("s3 total = %+v", totals[1])
	}
}

func TestMemoryListAmountsWindow(t *testing.T) {
	m := NewMemoryStore()
	m.AddRecords(
		record("acc1", 1, "ec2", "aws", 1),
		record("acc2", 5, "ec2", "aws", 2),
		record("acc1", 9, "ec2", "aws", 3),
		record("acc1", 10, "ec2", "aws", 4),
		record("acc1", 9, "ec2", "gcp", 5),
	)

	all, err := m.ListAmounts(context.Background(), "t1", "ec2", "aws", time.Time{}, memDay(10))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("unbounded history should span accounts and exclude the analysis day, got %v", all)
	}

	windowed, err := m.ListAmounts(context.Background(), "t1", "ec2", "aws", memDay(5), memDay(10))
	if err != nil {
		t.Fatal(err)
	}
	if len(windowed) != 2 {
		t.Fatalf("window [5,10) should hold 2 records, got %v", windowed)
	}
}

func TestMemoryDailyTotals(t *testing.T) {
	m := NewMemoryStore()
	m.AddRecords(
		record("acc1", 4, "ec2", "aws", 7),
		record("acc1", 2, "ec2", "aws", 1),
		record("acc2", 2, "ec2", "aws", 2),
		record("acc1", 9, "ec2", "aws", 50),
	)

	totals, err := m.DailyTotals(context.Background(), "t1", "ec2", "aws", memDay(1), memDay(4))
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 || !totals[0].Date.Equal(memDay(2)) || !totals[0].Total.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}

func TestMemoryCreateSuppressesOpenDuplicates(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	a := anomaly.Anomaly{ID: "a1", TenantID: "t1", Service: "ec2", Provider: "aws", Date: memDay(3), Status: anomaly.StatusOpen, Severity: anomaly.SeverityLow}

	if _, created, err := m.Create(ctx, a); err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	dup := a
	dup.ID = "a2"
	if _, created, err := m.Create(ctx, dup); err != nil || created {
		t.Fatalf("duplicate should be suppressed: created=%v err=%v", created, err)
	}

	if _, err := m.Transition(ctx, service.Transition{
		ID:   "a1",
		From: []anomaly.Status{anomaly.StatusOpen},
		To:   anomaly.StatusResolved,
		By:   "ops",
		At:   memDay(4),
	}); err != nil {
		t.Fatal(err)
	}
	if _, created, err := m.Create(ctx, dup); err != nil || !created {
		t.Fatalf("resolved anomaly must free the key: created=%v err=%v", created, err)
	}
}

func TestMemoryTransitionErrors(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if _, _, err := m.Create(ctx, anomaly.Anomaly{ID: "a1", TenantID: "t1", Service: "ec2", Provider: "aws", Date: memDay(3), Status: anomaly.StatusOpen}); err != nil {
		t.Fatal(err)
	}

	_, err := m.Transition(ctx, service.Transition{ID: "nope", From: []anomaly.Status{anomaly.StatusOpen}, To: anomaly.StatusResolved})
	if !errors.Is(err, anomaly.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = m.Transition(ctx, service.Transition{ID: "a1", From: []anomaly.Status{anomaly.StatusResolved}, To: anomaly.StatusOpen})
	if !errors.Is(err, anomaly.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryRecordScan(t *testing.T) {
	m := NewMemoryStore()
	m.AddAccount(Account{ID: "acc1", TenantID: "t1", Provider: "aws", Active: true})
	m.AddAccount(Account{ID: "acc0", TenantID: "t1", Provider: "aws", Active: false})

	at := memDay(6).Add(2 * time.Hour)
	if err := m.RecordScan(context.Background(), "t1", "acc1", at, 3); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordScan(context.Background(), "t1", "unknown", at, 3); err != nil {
		t.Fatalf("unknown account should be ignored, got %v", err)
	}

	accounts, err := m.ListAccounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 {
		t.Fatalf("only active accounts should be listed, got %+v", accounts)
	}
	acc := accounts[0]
	if acc.LastScanAt == nil || !acc.LastScanAt.Equal(at) || acc.LastAnomalyCount == nil || *acc.LastAnomalyCount != 3 {
		t.Fatalf("scan bookkeeping not stored: %+v", acc)
	}
}

func TestMemoryListAmountsSumsEachDay(t *testing.T) {
	m := NewMemoryStore()
	m.AddRecords(
		record("acc1", 3, "ec2", "aws", 50),
		record("acc1", 1, "ec2", "aws", 50),
		record("acc1", 1, "ec2", "aws", 50),
		record("acc2", 3, "ec2", "aws", 50),
	)

	amounts, err := m.ListAmounts(context.Background(), "t1", "ec2", "aws", time.Time{}, memDay(4))
	if err != nil {
		t.Fatal(err)
	}
	if len(amounts) != 2 || !amounts[0].Equal(decimal.NewFromInt(100)) || !amounts[1].Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected one summed amount per day, got %v", amounts)
	}
}
