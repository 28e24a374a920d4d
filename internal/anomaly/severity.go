package anomaly

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Severity tiers, derived only from the absolute deviation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var (
	mediumFloor   = decimal.NewFromInt(100)
	highFloor     = decimal.NewFromInt(200)
	criticalFloor = decimal.NewFromInt(500)
)

// Classify maps an absolute deviation percentage to a tier. Each tier is
// inclusive at its upper bound: 100 is low, 200 medium, 500 high.
// Callers drop deviations at or below the anomaly threshold first.
func Classify(absDeviationPct decimal.Decimal) Severity {
	switch {
	case absDeviationPct.GreaterThan(criticalFloor):
		return SeverityCritical
	case absDeviationPct.GreaterThan(highFloor):
		return SeverityHigh
	case absDeviationPct.GreaterThan(mediumFloor):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Valid reports whether s is a known tier.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders tiers by seriousness. Sorting on the label itself would
// put medium above high.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AtLeast reports whether s is as serious as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Sort orders anomalies by severity rank desc, then date desc, then
// detection time desc.
func Sort(list []Anomaly) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra > rb
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.DetectedAt.After(b.DetectedAt)
	})
}
