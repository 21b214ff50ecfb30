// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Schedule
// model, which carries per (account, discovery type) run bookkeeping.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-engage-backend/internal/domain"
)

// CreateSchedule inserts a schedule row, assigning a UUID when unset.
// Returns ErrDuplicate when the (account_id, discovery_type) pair already
// has a schedule.
func CreateSchedule(ctx context.Context, db *gorm.DB, s *domain.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetSchedule fetches the schedule row for one (account, discovery type)
// pair.
func GetSchedule(ctx context.Context, db *gorm.DB, accountID, discoveryType string) (*domain.Schedule, error) {
	var s domain.Schedule
	err := db.WithContext(ctx).
		Where("account_id = ? AND discovery_type = ?", accountID, discoveryType).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListEnabledSchedules returns every enabled schedule row, ordered by
// account then type so dispatch order is deterministic.
func ListEnabledSchedules(ctx context.Context, db *gorm.DB) ([]domain.Schedule, error) {
	var out []domain.Schedule
	err := db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("account_id ASC, discovery_type ASC").
		Find(&out).Error
	return out, err
}

// RecordScheduleRun stamps a successful run: LastRunAt is set to ranAt and
// any prior error is cleared. Returns ErrNotFound if the row is missing.
func RecordScheduleRun(ctx context.Context, db *gorm.DB, id string, ranAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Schedule{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run_at": ranAt,
			"last_error":  "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordScheduleError persists the failure message of the most recent run
// without touching LastRunAt, so the next run retries the same window.
// Returns ErrNotFound if the row is missing.
func RecordScheduleError(ctx context.Context, db *gorm.DB, id, msg string) error {
	res := db.WithContext(ctx).
		Model(&domain.Schedule{}).
		Where("id = ?", id).
		Update("last_error", msg)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
