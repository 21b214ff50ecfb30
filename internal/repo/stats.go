// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for cycle logging and the operational health endpoint. Each function is
// context-aware and safe to call from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-engage-backend/internal/domain"
)

// OpportunityStatusCounts returns the number of opportunities per status
// across all accounts. Statuses with no rows are absent from the map.
//
// Return values:
//   - counts: status -> row count
//   - err:    database error, if any
func OpportunityStatusCounts(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// OpportunityStats returns aggregate metadata for an account's
// opportunities: the total number of rows and the most recent DiscoveredAt
// among those rows.
//
// It executes two lightweight queries against the opportunities table
// scoped to the provided accountID. When the account has no opportunities,
// the returned count is 0 and lastDiscoveredAt is nil.
//
// Return values:
//   - count:            total opportunities for accountID
//   - lastDiscoveredAt: pointer to the greatest DiscoveredAt, or nil if no rows
//   - err:              database error, if any
func OpportunityStats(ctx context.Context, db *gorm.DB, accountID string) (count int64, lastDiscoveredAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Opportunity{}).Where("account_id = ?", accountID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest discovered_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		DiscoveredAt time.Time
	}
	if err = q.Select("discovered_at").Order("discovered_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.DiscoveredAt, nil
}
