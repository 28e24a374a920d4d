package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a cloud account enrolled for daily anomaly scans.
type Account struct {
	ID               string
	TenantID         string
	Provider         string
	Active           bool
	LastScanAt       *time.Time
	LastAnomalyCount *int
}

// DailyTotal is one day's summed spend for a service.
type DailyTotal struct {
	Date  time.Time
	Total decimal.Decimal
}
