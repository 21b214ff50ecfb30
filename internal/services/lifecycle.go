// Package services – LifecycleService
//
// This file implements LifecycleService, the cleanup engine behind the
// opportunity state machine:
//
//	pending --(expiry passed)--> expired    --(next cycle)-----> deleted
//	pending --(dismiss)-------> dismissed  --(5 min retention)-> deleted
//	pending --(response posted)-> responded (terminal, kept)
//
// Expired rows are removed in the same cycle that marks them; dismissed rows
// survive a short retention window so an accidental dismissal can still be
// seen. Deletions are hard: responses referencing a removed opportunity are
// deleted first, so the store never holds orphans and the dedup unique index
// never holds tombstones.

package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-engage-backend/internal/observability"
	"github.com/tbourn/go-engage-backend/internal/repo"

	"go.opentelemetry.io/otel"
)

// defaultDismissedRetention is how long dismissed opportunities stay in the
// store before a cleanup cycle removes them.
const defaultDismissedRetention = 5 * time.Minute

// CycleResult summarizes one cleanup cycle.
type CycleResult struct {
	// Expired is how many pending rows were marked expired.
	Expired int64 `json:"expired"`
	// DeletedExpired is how many expired rows were removed, including ones
	// marked in this same cycle.
	DeletedExpired int64 `json:"deleted_expired"`
	// DeletedDismissed is how many dismissed rows past retention were
	// removed.
	DeletedDismissed int64 `json:"deleted_dismissed"`
	// DeletedResponses is how many responses were removed with their
	// opportunities.
	DeletedResponses int64 `json:"deleted_responses"`
}

// LifecycleService sweeps the opportunity store on a fixed cadence. Every
// mutation it performs is idempotent, so overlapping cycles are harmless.
type LifecycleService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Retention is how long dismissed opportunities stay visible before
	// deletion. Zero means defaultDismissedRetention.
	Retention time.Duration
}

// RunCycle executes one cleanup cycle in a single transaction: mark newly
// expired rows, collect every deletable opportunity, cascade-delete their
// responses, then hard-delete the opportunities themselves. Expired rows are
// deleted in the same cycle that marked them, so nothing lingers.
func (s *LifecycleService) RunCycle(ctx context.Context) (*CycleResult, error) {
	tr := otel.Tracer("services/LifecycleService")
	ctx, span := tr.Start(ctx, "RunCycle")
	defer span.End()

	now := time.Now().UTC()
	cutoff := now.Add(-s.retention())

	var res CycleResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := repo.MarkExpiredOpportunities(ctx, tx, now)
		if err != nil {
			return err
		}
		res.Expired = marked

		ids, err := repo.ListCleanupIDs(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		responses, err := repo.DeleteResponsesByOpportunityIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		res.DeletedResponses = responses

		expired, err := repo.DeleteExpiredOpportunities(ctx, tx)
		if err != nil {
			return err
		}
		res.DeletedExpired = expired

		dismissed, err := repo.DeleteDismissedOpportunitiesBefore(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		res.DeletedDismissed = dismissed
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.OpportunitiesExpired.Add(float64(res.Expired))
	observability.CleanupDeleted.WithLabelValues("expired").Add(float64(res.DeletedExpired))
	observability.CleanupDeleted.WithLabelValues("dismissed").Add(float64(res.DeletedDismissed))
	observability.CleanupDeleted.WithLabelValues("responses").Add(float64(res.DeletedResponses))

	if res.Expired+res.DeletedExpired+res.DeletedDismissed+res.DeletedResponses > 0 {
		log.Info().
			Int64("expired", res.Expired).
			Int64("deleted_expired", res.DeletedExpired).
			Int64("deleted_dismissed", res.DeletedDismissed).
			Int64("deleted_responses", res.DeletedResponses).
			Msg("cleanup cycle complete")
	}
	return &res, nil
}

func (s *LifecycleService) retention() time.Duration {
	if s.Retention > 0 {
		return s.Retention
	}
	return defaultDismissedRetention
}
