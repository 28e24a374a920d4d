package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"cost-anomaly-engine/internal/anomaly"
)

// Router fans anomaly events out to notifiers at or above a severity floor.
type Router struct {
	notifiers   []Notifier
	minSeverity anomaly.Severity
	logger      zerolog.Logger
}

// NewRouter builds a router. An invalid minSeverity admits every event.
func NewRouter(minSeverity anomaly.Severity, logger zerolog.Logger, notifiers ...Notifier) *Router {
	if !minSeverity.Valid() {
		minSeverity = anomaly.SeverityLow
	}
	return &Router{
		notifiers:   notifiers,
		minSeverity: minSeverity,
		logger:      logger.With().Str("component", "alert_router").Logger(),
	}
}

// Handle is an event bus handler for anomaly.TopicDetected.
func (r *Router) Handle(ctx context.Context, payload any) error {
	event, ok := payload.(anomaly.Event)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	if !event.Severity.AtLeast(r.minSeverity) {
		r.logger.Debug().Str("anomaly_id", event.AnomalyID).Str("severity", string(event.Severity)).Msg("below alert floor")
		return nil
	}

	var errs []error
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Enabled reports whether any notifier is configured.
func (r *Router) Enabled() bool {
	return len(r.notifiers) > 0
}
