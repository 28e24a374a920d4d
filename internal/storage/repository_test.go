package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cost-anomaly-engine/internal/anomaly"
)

func TestBuildListQueryNoFilters(t *testing.T) {
	query, args := buildListQuery("t1", anomaly.Filters{})
	if len(args) != 1 || args[0] != "t1" {
		t.Fatalf("unexpected args: %#v", args)
	}
	if !strings.Contains(query, "WHERE a.tenant_id = $1\n    ORDER BY") {
		t.Fatalf("tenant scope missing:\n%s", query)
	}
}

func TestBuildListQueryPlaceholders(t *testing.T) {
	start := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	query, args := buildListQuery("t1", anomaly.Filters{
		Status:    anomaly.StatusOpen,
		Severity:  anomaly.SeverityCritical,
		Provider:  "aws",
		StartDate: &start,
		EndDate:   &end,
	})

	for _, want := range []string{
		"a.status = $2",
		"a.severity = $3",
		"a.provider = $4",
		"a.anomaly_date >= $5",
		"a.anomaly_date <= $6",
		"WHEN 'critical' THEN 4",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("query missing %q:\n%s", want, query)
		}
	}
	if strings.Contains(query, "a.service =") {
		t.Fatal("unset service filter must not constrain the query")
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if got := args[4].(time.Time); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start date not truncated to day: %v", got)
	}
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	if _, err := s.List(context.Background(), "t1", anomaly.Filters{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := NewStore(nil).TryAdvisoryLock(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestListAmountsSQLGroupsByDay(t *testing.T) {
	if !strings.Contains(listAmountsSQL, "SUM(amount)") || !strings.Contains(listAmountsSQL, "GROUP BY usage_date") {
		t.Fatalf("baseline history must be summed per day:\n%s", listAmountsSQL)
	}
}
