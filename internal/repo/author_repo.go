// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Author model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-engage-backend/internal/domain"
)

// UpsertAuthor creates or refreshes the cached author identified by
// (platform, platform_user_id). Existing rows get their profile fields,
// follower count, and LastSeenAt updated; missing rows are inserted. When a
// concurrent discovery run wins the insert race, the winner's row is
// refreshed instead.
//
// The returned author always carries the persisted row's ID.
func UpsertAuthor(ctx context.Context, db *gorm.DB, a *domain.Author) (*domain.Author, error) {
	var existing domain.Author
	err := db.WithContext(ctx).
		Where("platform = ? AND platform_user_id = ?", a.Platform, a.PlatformUserID).
		First(&existing).Error
	if err == nil {
		return refreshAuthor(ctx, db, &existing, a)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cerr := db.WithContext(ctx).Create(a).Error
	if cerr == nil {
		return a, nil
	}
	if !isDuplicate(cerr) {
		return nil, cerr
	}

	// Lost the insert race; refresh the winner's row instead.
	if ferr := db.WithContext(ctx).
		Where("platform = ? AND platform_user_id = ?", a.Platform, a.PlatformUserID).
		First(&existing).Error; ferr != nil {
		return nil, ferr
	}
	return refreshAuthor(ctx, db, &existing, a)
}

// refreshAuthor applies the latest sighting data onto an existing row.
func refreshAuthor(ctx context.Context, db *gorm.DB, existing, a *domain.Author) (*domain.Author, error) {
	updates := map[string]any{
		"handle":         a.Handle,
		"display_name":   a.DisplayName,
		"bio":            a.Bio,
		"follower_count": a.FollowerCount,
		"last_seen_at":   a.LastSeenAt,
	}
	if err := db.WithContext(ctx).Model(existing).Updates(updates).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

// GetAuthor fetches an author by ID.
func GetAuthor(ctx context.Context, db *gorm.DB, id string) (*domain.Author, error) {
	var a domain.Author
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAuthorsByIDs returns the authors whose IDs appear in ids, keyed by ID.
// Missing IDs are simply absent from the map; callers tolerate gaps rather
// than failing a whole listing.
func GetAuthorsByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.Author, error) {
	out := make(map[string]domain.Author, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Author
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, a := range rows {
		out[a.ID] = a
	}
	return out, nil
}
