package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"cost-anomaly-engine/internal/anomaly"
)

// Query is the read path over detected anomalies.
type Query struct {
	store  AnomalyStore
	logger zerolog.Logger
}

// NewQuery constructs the query service.
func NewQuery(store AnomalyStore, logger zerolog.Logger) *Query {
	return &Query{store: store, logger: logger.With().Str("component", "query").Logger()}
}

// GetAnomaliesForTenant lists a tenant's anomalies matching every set
// filter, ordered by severity then date, most serious and most recent first.
func (q *Query) GetAnomaliesForTenant(ctx context.Context, tenantID string, f anomaly.Filters) ([]anomaly.Anomaly, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, anomaly.Validationf("tenant id is required")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.StartDate != nil {
		start := anomaly.Day(*f.StartDate)
		f.StartDate = &start
	}
	if f.EndDate != nil {
		end := anomaly.Day(*f.EndDate)
		f.EndDate = &end
	}

	list, err := q.store.List(ctx, tenantID, f)
	if err != nil {
		return nil, anomaly.Dependency("list anomalies", err)
	}

	q.logger.Debug().Str("tenant_id", tenantID).Int("count", len(list)).Msg("anomalies listed")
	return list, nil
}
