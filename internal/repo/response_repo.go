// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Response
// model.
//
// The repository follows a "thin" approach: it performs persistence and
// simple query composition, leaving lifecycle rules to the services package.
//
// Error semantics:
//   - CreateResponse returns ErrDuplicate when the (opportunity_id, version)
//     unique index rejects the row, i.e. a concurrent generation claimed the
//     same version number first.
//   - The conditional updates (UpdateResponseText, DismissResponse,
//     MarkResponsePosted) guard on status = 'draft' and return ErrNotFound
//     when no row matched; the service layer re-fetches to tell a missing
//     row from a non-draft one.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-engage-backend/internal/domain"
)

// CreateResponse inserts a response row. The ID is assigned a random UUID
// when empty and CreatedAt is set to UTC when zero. Returns ErrDuplicate if
// the (opportunity_id, version) pair already exists.
func CreateResponse(ctx context.Context, db *gorm.DB, r *domain.Response) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetResponse fetches a response by ID.
func GetResponse(ctx context.Context, db *gorm.DB, id string) (*domain.Response, error) {
	var r domain.Response
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResponses returns every response for an opportunity ordered by
// version ascending, so callers see the drafting history oldest first.
func ListResponses(ctx context.Context, db *gorm.DB, opportunityID string) ([]domain.Response, error) {
	var out []domain.Response
	err := db.WithContext(ctx).
		Where("opportunity_id = ?", opportunityID).
		Order("version ASC").
		Find(&out).Error
	return out, err
}

// MaxResponseVersion uses a raw aggregate so a missing table surfaces as an
// error. Returns 0 when the opportunity has no responses yet.
func MaxResponseVersion(ctx context.Context, db *gorm.DB, opportunityID string) (int, error) {
	var v int
	err := db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(version), 0) FROM responses WHERE opportunity_id = ?", opportunityID).
		Scan(&v).Error
	return v, err
}

// DismissDraftResponses marks every draft for the opportunity as dismissed
// with DismissedAt = now, and returns the number of rows changed. Used to
// retire superseded drafts when a new version is generated.
func DismissDraftResponses(ctx context.Context, db *gorm.DB, opportunityID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Response{}).
		Where("opportunity_id = ? AND status = ?", opportunityID, domain.ResponseStatusDraft).
		Updates(map[string]any{
			"status":       domain.ResponseStatusDismissed,
			"dismissed_at": now,
		})
	return res.RowsAffected, res.Error
}

// UpdateResponseText replaces the text of a draft response. If no rows are
// affected (missing row or non-draft status), it returns ErrNotFound.
func UpdateResponseText(ctx context.Context, db *gorm.DB, id, text string) error {
	res := db.WithContext(ctx).
		Model(&domain.Response{}).
		Where("id = ? AND status = ?", id, domain.ResponseStatusDraft).
		Update("text", text)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DismissResponse transitions a draft response to dismissed and stamps
// DismissedAt. If no rows are affected (missing row or non-draft status),
// it returns ErrNotFound.
func DismissResponse(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Response{}).
		Where("id = ? AND status = ?", id, domain.ResponseStatusDraft).
		Updates(map[string]any{
			"status":       domain.ResponseStatusDismissed,
			"dismissed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkResponsePosted transitions a draft response to posted and records the
// platform post identity returned by the adapter. If no rows are affected
// (missing row or non-draft status), it returns ErrNotFound.
func MarkResponsePosted(ctx context.Context, db *gorm.DB, id, platformPostID, platformPostURL string, postedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Response{}).
		Where("id = ? AND status = ?", id, domain.ResponseStatusDraft).
		Updates(map[string]any{
			"status":            domain.ResponseStatusPosted,
			"platform_post_id":  platformPostID,
			"platform_post_url": platformPostURL,
			"posted_at":         postedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteResponsesByOpportunityIDs hard-deletes every response referencing
// the given opportunity IDs and returns the number of rows removed. A nil
// or empty id list is a no-op.
func DeleteResponsesByOpportunityIDs(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Where("opportunity_id IN ?", ids).
		Delete(&domain.Response{})
	return res.RowsAffected, res.Error
}
