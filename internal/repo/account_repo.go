// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Account
// and Profile models.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-engage-backend/internal/domain"
)

// CreateProfile inserts a profile row, assigning a UUID when unset.
func CreateProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(p).Error
}

// GetProfile fetches a profile by ID.
func GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfileKeywords replaces a profile's keyword list. Used at startup
// to keep the stored profile in sync with the configured environment.
// Returns ErrNotFound if the profile does not exist.
func UpdateProfileKeywords(ctx context.Context, db *gorm.DB, id string, keywords []string) error {
	res := db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("id = ?", id).
		Update("keywords", keywords)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateAccount inserts an account row, assigning a UUID when unset.
// Returns ErrDuplicate when the (platform, handle) pair already exists.
func CreateAccount(ctx context.Context, db *gorm.DB, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetAccount fetches an account by ID.
func GetAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByHandle fetches an account by its (platform, handle) pair.
// Used by startup seeding to find the configured account.
func GetAccountByHandle(ctx context.Context, db *gorm.DB, platform, handle string) (*domain.Account, error) {
	var a domain.Account
	err := db.WithContext(ctx).
		Where("platform = ? AND handle = ?", platform, handle).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}
