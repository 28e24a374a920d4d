package baseline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubLedger struct {
	amounts    []decimal.Decimal
	err        error
	gotFrom    time.Time
	gotBefore  time.Time
	gotService string
}

func (s *stubLedger) ListAmounts(ctx context.Context, tenantID, service, provider string, from, before time.Time) ([]decimal.Decimal, error) {
	s.gotFrom = from
	s.gotBefore = before
	s.gotService = service
	return s.amounts, s.err
}

func decimals(vals ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestComputeMean(t *testing.T) {
	ledger := &stubLedger{amounts: decimals(90, 100, 110)}
	calc := New(ledger, Options{})
	day := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	res, ok, err := calc.Compute(context.Background(), "t1", "ec2", "aws", day)
	if err != nil || !ok {
		t.Fatalf("expected baseline, got ok=%v err=%v", ok, err)
	}
	if !res.Expected.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("mean = %s, want 100", res.Expected)
	}
	if res.Samples != 3 {
		t.Fatalf("samples = %d, want 3", res.Samples)
	}
	if !ledger.gotFrom.IsZero() {
		t.Fatalf("unbounded window must pass zero from, got %s", ledger.gotFrom)
	}
	if !ledger.gotBefore.Equal(day) {
		t.Fatalf("upper bound must be the analysis day itself (exclusive), got %s", ledger.gotBefore)
	}
}

func TestComputeEmptyHistory(t *testing.T) {
	calc := New(&stubLedger{}, Options{WindowDays: 30})
	_, ok, err := calc.Compute(context.Background(), "t1", "new-svc", "aws", time.Now())
	if err != nil {
		t.Fatalf("empty history must not error: %v", err)
	}
	if ok {
		t.Fatal("empty history must yield no baseline")
	}
}

func TestComputeRollingWindow(t *testing.T) {
	ledger := &stubLedger{amounts: decimals(10)}
	calc := New(ledger, Options{WindowDays: 30})
	day := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)

	if _, _, err := calc.Compute(context.Background(), "t1", "s3", "aws", day); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if !ledger.gotFrom.Equal(want) {
		t.Fatalf("window start = %s, want %s", ledger.gotFrom, want)
	}
}

func TestComputePropagatesLedgerError(t *testing.T) {
	boom := errors.New("ledger down")
	calc := New(&stubLedger{err: boom}, Options{})
	if _, _, err := calc.Compute(context.Background(), "t1", "s3", "aws", time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected ledger error, got %v", err)
	}
}

func TestDeviationIsExactForRepeatingMean(t *testing.T) {
	ledger := &stubLedger{amounts: decimals(1, 1, 2)}
	res, ok, err := New(ledger, Options{}).Compute(context.Background(), "t1", "ec2", "aws", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	if err != nil || !ok {
		t.Fatalf("expected baseline, got ok=%v err=%v", ok, err)
	}
	if !res.Sum.Equal(decimal.NewFromInt(4)) || res.Samples != 3 {
		t.Fatalf("sum=%s samples=%d", res.Sum, res.Samples)
	}

	cases := map[int64]string{4: "200", 8: "500", 2: "50", 1: "-25"}
	for actual, want := range cases {
		if got := res.Deviation(decimal.NewFromInt(actual)); !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("deviation(%d) = %s, want %s", actual, got, want)
		}
	}
}
