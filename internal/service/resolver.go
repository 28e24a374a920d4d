package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cost-anomaly-engine/internal/anomaly"
)

const dismissPrefix = "dismissed: "

// Resolver drives the status workflow of existing anomalies. It never
// creates anomalies.
type Resolver struct {
	store  StatusStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewResolver constructs the resolution workflow.
func NewResolver(store StatusStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With().Str("component", "resolver").Logger(),
		now:    time.Now,
	}
}

// Investigate marks an open anomaly as under investigation.
func (r *Resolver) Investigate(ctx context.Context, id, actor string) (anomaly.Anomaly, error) {
	return r.apply(ctx, Transition{
		ID:   id,
		From: []anomaly.Status{anomaly.StatusOpen},
		To:   anomaly.StatusInvestigating,
		By:   actor,
	})
}

// Resolve closes an open or investigating anomaly.
func (r *Resolver) Resolve(ctx context.Context, id, actor, note string) (anomaly.Anomaly, error) {
	return r.apply(ctx, Transition{
		ID:   id,
		From: []anomaly.Status{anomaly.StatusOpen, anomaly.StatusInvestigating},
		To:   anomaly.StatusResolved,
		By:   actor,
		Note: strings.TrimSpace(note),
	})
}

// Dismiss resolves an anomaly judged to be expected spend.
func (r *Resolver) Dismiss(ctx context.Context, id, actor, reason string) (anomaly.Anomaly, error) {
	return r.Resolve(ctx, id, actor, dismissPrefix+strings.TrimSpace(reason))
}

// Reopen returns a resolved anomaly to open. It conflicts when another
// non-resolved anomaly has since taken the same key.
func (r *Resolver) Reopen(ctx context.Context, id, actor string) (anomaly.Anomaly, error) {
	return r.apply(ctx, Transition{
		ID:   id,
		From: []anomaly.Status{anomaly.StatusResolved},
		To:   anomaly.StatusOpen,
		By:   actor,
	})
}

func (r *Resolver) apply(ctx context.Context, t Transition) (anomaly.Anomaly, error) {
	t.ID = strings.TrimSpace(t.ID)
	t.By = strings.TrimSpace(t.By)
	if t.ID == "" {
		return anomaly.Anomaly{}, anomaly.Validationf("anomaly id is required")
	}
	if t.By == "" {
		return anomaly.Anomaly{}, anomaly.Validationf("actor is required")
	}
	t.At = r.now().UTC()

	updated, err := r.store.Transition(ctx, t)
	if err != nil {
		return anomaly.Anomaly{}, anomaly.Dependency("transition anomaly", err)
	}

	r.logger.Info().
		Str("anomaly_id", updated.ID).
		Str("status", string(updated.Status)).
		Str("actor", t.By).
		Msg("anomaly status changed")
	return updated, nil
}
