// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Opportunity model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an opportunity is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - When an insert collides with the (account_id, platform_post_id)
//     unique index, CreateOpportunity returns ErrDuplicate so discovery
//     can treat the row as already ingested.
//   - On other DB errors (connectivity, constraint issues), the raw gorm
//     error is propagated.
//
// Functions:
//
//   - CreateOpportunity(ctx, db, o) -> error
//     Inserts an opportunity row, assigning a UUID when unset.
//
//   - OpportunityExists(ctx, db, accountID, platformPostID) -> (bool, error)
//     Dedup pre-check on the (account, platform post) pair.
//
//   - GetOpportunity(ctx, db, id) -> *domain.Opportunity, error
//     Fetches a single opportunity, or ErrNotFound if missing.
//
//   - CountOpportunities / ListOpportunitiesPage
//     Filtered, score-descending pagination for the review surface.
//
//   - UpdateOpportunityStatus(ctx, db, id, from, to) -> error
//     Conditional state transition; ErrNotFound when no row matched.
//
//   - MarkExpiredOpportunities / ListCleanupIDs /
//     DeleteExpiredOpportunities / DeleteDismissedOpportunitiesBefore
//     Bulk lifecycle sweeps used by the cleanup cycle.
//
// This repository is designed to be wrapped by higher-level services
// (see services.DiscoveryService and services.LifecycleService) which
// enforce business rules and cross-aggregate behavior.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-engage-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an insert collided with a unique index,
// e.g. an opportunity already ingested for the same (account, post) pair
// or a response version raced by a concurrent generation.
var ErrDuplicate = errors.New("duplicate")

// isDuplicate reports whether err is a unique-constraint violation.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations,
// so the message is matched in addition to gorm's translated sentinel.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateOpportunity inserts the given opportunity row. The ID is assigned
// a random UUID when empty and CreatedAt is set to UTC when zero; all other
// fields are persisted as provided by the caller.
//
// Returns ErrDuplicate when the (account_id, platform_post_id) unique index
// rejects the row, which discovery treats as an idempotent skip.
func CreateOpportunity(ctx context.Context, db *gorm.DB, o *domain.Opportunity) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// OpportunityExists reports whether an opportunity already exists for the
// given account and platform post. Used as the cheap dedup pre-check before
// scoring; the unique index remains the authoritative guard.
func OpportunityExists(ctx context.Context, db *gorm.DB, accountID, platformPostID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("account_id = ? AND platform_post_id = ?", accountID, platformPostID).
		Count(&n).Error
	return n > 0, err
}

// GetOpportunity fetches a single opportunity by ID. If the record does not
// exist, it returns ErrNotFound. On other DB errors, the raw error is
// returned.
func GetOpportunity(ctx context.Context, db *gorm.DB, id string) (*domain.Opportunity, error) {
	var o domain.Opportunity
	if err := db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// CountOpportunities returns the number of opportunities for accountID
// matching the optional status and discoveryType filters (empty string
// means "any").
func CountOpportunities(ctx context.Context, db *gorm.DB, accountID, status, discoveryType string) (int64, error) {
	var total int64
	err := opportunityFilter(db.WithContext(ctx), accountID, status, discoveryType).
		Count(&total).Error
	return total, err
}

// ListOpportunitiesPage returns a page of opportunities for accountID,
// ordered by total score descending with a deterministic tie-break
// (DiscoveredAt DESC, ID ASC). Use CountOpportunities for pagination
// metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListOpportunitiesPage(ctx context.Context, db *gorm.DB, accountID, status, discoveryType string, offset, limit int) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	err := opportunityFilter(db.WithContext(ctx), accountID, status, discoveryType).
		Order("score_total DESC, discovered_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// opportunityFilter composes the shared WHERE clause for list/count queries.
func opportunityFilter(q *gorm.DB, accountID, status, discoveryType string) *gorm.DB {
	q = q.Model(&domain.Opportunity{}).Where("account_id = ?", accountID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if discoveryType != "" {
		q = q.Where("discovery_type = ?", discoveryType)
	}
	return q
}

// UpdateOpportunityStatus transitions an opportunity from one status to
// another as a single conditional UPDATE. If no rows are affected (missing
// row or a different current status), it returns ErrNotFound; callers that
// need to distinguish the two cases should re-fetch the row.
func UpdateOpportunityStatus(ctx context.Context, db *gorm.DB, id, from, to string) error {
	res := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkExpiredOpportunities bulk-transitions pending opportunities whose
// ExpiresAt has passed to the expired status and returns the number of rows
// changed. Safe to run repeatedly; already-expired rows are not touched.
func MarkExpiredOpportunities(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("status = ? AND expires_at < ?", domain.OpportunityStatusPending, now).
		Update("status", domain.OpportunityStatusExpired)
	return res.RowsAffected, res.Error
}

// ListCleanupIDs returns the IDs of opportunities eligible for hard
// deletion: every expired row, plus dismissed rows whose last update is at
// or before dismissedBefore.
func ListCleanupIDs(ctx context.Context, db *gorm.DB, dismissedBefore time.Time) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("status = ? OR (status = ? AND updated_at <= ?)",
			domain.OpportunityStatusExpired, domain.OpportunityStatusDismissed, dismissedBefore).
		Pluck("id", &ids).Error
	return ids, err
}

// DeleteExpiredOpportunities hard-deletes all expired opportunities and
// returns the number of rows removed.
func DeleteExpiredOpportunities(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ?", domain.OpportunityStatusExpired).
		Delete(&domain.Opportunity{})
	return res.RowsAffected, res.Error
}

// DeleteDismissedOpportunitiesBefore hard-deletes dismissed opportunities
// whose last update is at or before cutoff and returns the number of rows
// removed. Recently dismissed rows stay visible until the retention window
// elapses.
func DeleteDismissedOpportunitiesBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", domain.OpportunityStatusDismissed, cutoff).
		Delete(&domain.Opportunity{})
	return res.RowsAffected, res.Error
}
