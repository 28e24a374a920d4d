package baseline

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AmountLister reads historical ledger spend for one service.
type AmountLister interface {
	// ListAmounts returns one summed amount per day with spend in
	// [from, before), oldest first. A zero from leaves the window unbounded.
	ListAmounts(ctx context.Context, tenantID, service, provider string, from, before time.Time) ([]decimal.Decimal, error)
}

// Options tune the baseline window.
type Options struct {
	// WindowDays caps history to the N days preceding the analysis date.
	// Zero or negative uses all history.
	WindowDays int
}

// Result describes a computed baseline. Expected is Sum/Samples rounded to
// decimal.DivisionPrecision; use Deviation for exact comparisons.
type Result struct {
	Expected decimal.Decimal
	Sum      decimal.Decimal
	Samples  int
}

// Deviation is the signed percentage difference of actual from the mean,
// computed as (actual*n - sum)*100/sum so it is exact whenever the true
// value terminates. Sum must be non-zero.
func (r Result) Deviation(actual decimal.Decimal) decimal.Decimal {
	n := decimal.NewFromInt(int64(r.Samples))
	return actual.Mul(n).Sub(r.Sum).Mul(hundred).Div(r.Sum)
}

var hundred = decimal.NewFromInt(100)

// Calculator derives the expected cost of a service from its history.
type Calculator struct {
	ledger AmountLister
	opts   Options
}

// New constructs a Calculator.
func New(ledger AmountLister, opts Options) *Calculator {
	return &Calculator{ledger: ledger, opts: opts}
}

// WindowDays reports the configured lookback.
func (c *Calculator) WindowDays() int {
	if c.opts.WindowDays < 0 {
		return 0
	}
	return c.opts.WindowDays
}

// Compute returns the mean daily spend strictly before the given day. The
// bool is false when there is no history.
func (c *Calculator) Compute(ctx context.Context, tenantID, service, provider string, before time.Time) (Result, bool, error) {
	var from time.Time
	if days := c.WindowDays(); days > 0 {
		from = before.AddDate(0, 0, -days)
	}

	amounts, err := c.ledger.ListAmounts(ctx, tenantID, service, provider, from, before)
	if err != nil {
		return Result{}, false, err
	}

	mean, ok := Mean(amounts)
	if !ok {
		return Result{}, false, nil
	}
	return Result{Expected: mean, Sum: decimal.Sum(amounts[0], amounts[1:]...), Samples: len(amounts)}, true, nil
}

// Mean is the plain arithmetic mean; no smoothing or outlier rejection.
func Mean(values []decimal.Decimal) (decimal.Decimal, bool) {
	if len(values) == 0 {
		return decimal.Zero, false
	}
	return decimal.Avg(values[0], values[1:]...), true
}
