package domain

import "time"

// Profile represents the owner's engagement profile: who they are, how they
// want to sound, and which topics they care about. It is a read-mostly input
// for discovery keyword matching and response generation prompts.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Name: display name used when describing the owner in prompts.
//   - Voice: tone and style guidance for generated drafts.
//   - Principles: hard rules the owner wants every draft to respect.
//   - Interests: free-text description of topics worth engaging on.
//   - Keywords: search and scoring keywords, stored as a JSON array.
type Profile struct {
	ID         string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name       string    `json:"name"       gorm:"type:varchar(255);not null"`
	Voice      string    `json:"voice"      gorm:"type:text"`
	Principles string    `json:"principles" gorm:"type:text"`
	Interests  string    `json:"interests"  gorm:"type:text"`
	Keywords   []string  `json:"keywords"   gorm:"serializer:json;type:text"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// Account represents a platform account operated on behalf of a profile.
// Credentials are not stored here; they come from the environment at
// startup so the database never holds secrets.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ProfileID: foreign key to the owning profile (cascade).
//   - Platform: source platform identifier (e.g. "bluesky").
//   - Handle: account handle on the platform (unique per platform).
type Account struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ProfileID string    `json:"profile_id" gorm:"type:char(36);not null;index"`
	Platform  string    `json:"platform"   gorm:"type:varchar(32);not null;uniqueIndex:ux_accounts_platform_handle,priority:1"`
	Handle    string    `json:"handle"     gorm:"type:varchar(255);not null;uniqueIndex:ux_accounts_platform_handle,priority:2"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Profile is the owning engagement profile. Accounts are cascade-deleted
	// if their profile is removed.
	Profile Profile `json:"-" gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }

// Schedule holds the discovery cadence and run bookkeeping for one
// (account, discovery type) pair. Keeping LastRunAt and LastError on the
// per-type row means a failing search run never blocks reply discovery,
// and vice versa.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - AccountID: owning account (unique together with DiscoveryType).
//   - DiscoveryType: "replies" or "search" (enforced by DB constraint).
//   - Enabled: whether the dispatcher considers this row at all.
//   - Cron: standard five-field cron expression.
//   - LastRunAt: completion time of the last successful run; nil before
//     the first success. Doubles as the incremental fetch watermark.
//   - LastError: failure message of the most recent run, cleared on success.
type Schedule struct {
	ID            string     `json:"id"             gorm:"type:char(36);primaryKey"`
	AccountID     string     `json:"account_id"     gorm:"type:char(36);not null;uniqueIndex:ux_schedules_account_type,priority:1"`
	DiscoveryType string     `json:"discovery_type" gorm:"type:varchar(16);not null;check:discovery_type IN ('replies','search');uniqueIndex:ux_schedules_account_type,priority:2"`
	Enabled       bool       `json:"enabled"        gorm:"not null;default:true"`
	Cron          string     `json:"cron"           gorm:"type:varchar(64);not null"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastError     string     `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Account is the platform account this schedule drives. Schedules are
	// cascade-deleted if their account is removed.
	Account Account `json:"-" gorm:"foreignKey:AccountID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Schedule.
func (Schedule) TableName() string { return "schedules" }
