// Package domain defines the persistence models for discovered engagement
// opportunities, cached platform authors, and drafted responses. These types
// are mapped with GORM and form the core data layer of the engagement
// assistant.
package domain

import "time"

// Opportunity status values. An opportunity is created as "pending" and
// moves to exactly one of the terminal states below.
const (
	OpportunityStatusPending   = "pending"
	OpportunityStatusDismissed = "dismissed"
	OpportunityStatusExpired   = "expired"
	OpportunityStatusResponded = "responded"
)

// Response status values. A response starts as a "draft" and is either
// posted to the platform or dismissed.
const (
	ResponseStatusDraft     = "draft"
	ResponseStatusPosted    = "posted"
	ResponseStatusDismissed = "dismissed"
)

// Discovery run types. "replies" pulls replies and mentions addressed to
// the account; "search" runs keyword queries from the owning profile.
const (
	DiscoveryTypeReplies = "replies"
	DiscoveryTypeSearch  = "search"
)

// PlatformBluesky is the identifier stored for accounts, authors, and
// opportunities sourced from Bluesky.
const PlatformBluesky = "bluesky"

// ValidOpportunityStatus reports whether s is a recognized opportunity status.
func ValidOpportunityStatus(s string) bool {
	switch s {
	case OpportunityStatusPending, OpportunityStatusDismissed,
		OpportunityStatusExpired, OpportunityStatusResponded:
		return true
	}
	return false
}

// ValidResponseStatus reports whether s is a recognized response status.
func ValidResponseStatus(s string) bool {
	switch s {
	case ResponseStatusDraft, ResponseStatusPosted, ResponseStatusDismissed:
		return true
	}
	return false
}

// ValidDiscoveryType reports whether t is a recognized discovery run type.
func ValidDiscoveryType(t string) bool {
	return t == DiscoveryTypeReplies || t == DiscoveryTypeSearch
}

// Author is a cached platform identity. Authors are upserted on every
// sighting during discovery so engagement data stays reasonably fresh
// without a dedicated refresh job.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Platform / PlatformUserID: identity key on the source platform
//     (unique together).
//   - Handle / DisplayName / Bio: profile data as of the last sighting.
//   - FollowerCount: audience size used by the scoring engine.
//   - LastSeenAt: when discovery last refreshed this author.
type Author struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	Platform       string    `json:"platform"         gorm:"type:varchar(32);not null;uniqueIndex:ux_authors_platform_user,priority:1"`
	PlatformUserID string    `json:"platform_user_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_authors_platform_user,priority:2"`
	Handle         string    `json:"handle"           gorm:"type:varchar(255);not null"`
	DisplayName    string    `json:"display_name"     gorm:"type:varchar(255)"`
	Bio            string    `json:"bio"              gorm:"type:text"`
	FollowerCount  int       `json:"follower_count"   gorm:"not null;default:0"`
	LastSeenAt     time.Time `json:"last_seen_at"     gorm:"not null"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Author.
func (Author) TableName() string { return "authors" }

// Opportunity represents a discovered post worth considering for a reply.
// Opportunities are deduplicated per account by the source post ID, scored
// once at discovery time, and expire automatically 48 hours after the
// source post was created.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - AccountID: owning account; part of the dedup key.
//   - Platform / PlatformPostID / PlatformPostURL: source post identity.
//   - Content: post text as fetched.
//   - PostCreatedAt: when the post was published on the platform.
//   - AuthorID: foreign key to the cached author (cascade).
//   - LikeCount / RepostCount / ReplyCount: engagement counters at fetch time.
//   - ScoreImpact / ScoreRecency / ScoreKeyword / ScoreTotal: 0-100
//     subscores and their weighted total, fixed at discovery time.
//   - DiscoveryType: which discovery run produced the row.
//   - Status: lifecycle state (enforced by DB constraint).
//   - DiscoveredAt / ExpiresAt: lifecycle window.
//
// There is no soft-delete column: expired and dismissed rows are removed
// outright by the lifecycle engine, so the unique index never holds
// tombstones.
type Opportunity struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	AccountID       string    `json:"account_id"        gorm:"type:char(36);not null;uniqueIndex:ux_opportunities_account_post,priority:1;index:idx_opps_account_score,priority:1"`
	Platform        string    `json:"platform"          gorm:"type:varchar(32);not null"`
	PlatformPostID  string    `json:"platform_post_id"  gorm:"type:varchar(255);not null;uniqueIndex:ux_opportunities_account_post,priority:2"`
	PlatformPostURL string    `json:"platform_post_url" gorm:"type:varchar(512);not null"`
	Content         string    `json:"content"           gorm:"type:text;not null"`
	PostCreatedAt   time.Time `json:"post_created_at"   gorm:"not null"`
	AuthorID        string    `json:"author_id"         gorm:"type:char(36);not null;index"`
	LikeCount       int       `json:"like_count"        gorm:"not null;default:0"`
	RepostCount     int       `json:"repost_count"      gorm:"not null;default:0"`
	ReplyCount      int       `json:"reply_count"       gorm:"not null;default:0"`
	ScoreImpact     float64   `json:"score_impact"      gorm:"not null;default:0"`
	ScoreRecency    float64   `json:"score_recency"     gorm:"not null;default:0"`
	ScoreKeyword    float64   `json:"score_keyword"     gorm:"not null;default:0"`
	ScoreTotal      float64   `json:"score_total"       gorm:"not null;default:0;index:idx_opps_account_score,priority:2"`
	DiscoveryType   string    `json:"discovery_type"    gorm:"type:varchar(16);not null;check:discovery_type IN ('replies','search')"`
	Status          string    `json:"status"            gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','dismissed','expired','responded');index:idx_opps_status_expiry,priority:1"`
	DiscoveredAt    time.Time `json:"discovered_at"     gorm:"not null"`
	ExpiresAt       time.Time `json:"expires_at"        gorm:"not null;index:idx_opps_status_expiry,priority:2"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Author is the cached platform identity behind the post. Opportunities
	// are cascade-deleted if their author row is removed.
	Author Author `json:"-" gorm:"foreignKey:AuthorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Opportunity.
func (Opportunity) TableName() string { return "opportunities" }

// Response represents one drafted (or posted) reply for an opportunity.
// Regenerating a draft creates a new row with the next version number and
// dismisses the previous draft, so the full drafting history survives.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - OpportunityID: foreign key to the parent opportunity (cascade).
//   - AccountID: account the reply would be posted as.
//   - Text: reply text, truncated to the platform limit at generation time.
//   - Status: "draft", "posted", or "dismissed" (enforced by DB constraint).
//   - Version: monotonic per opportunity, starting at 1 (unique together
//     with OpportunityID).
//   - PlatformPostID / PlatformPostURL / PostedAt: set once posting succeeds.
//   - DismissedAt: set when a draft is dismissed or superseded.
type Response struct {
	ID              string     `json:"id"                gorm:"type:char(36);primaryKey"`
	OpportunityID   string     `json:"opportunity_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_responses_opportunity_version,priority:1"`
	AccountID       string     `json:"account_id"        gorm:"type:char(36);not null;index"`
	Text            string     `json:"text"              gorm:"type:text;not null"`
	Status          string     `json:"status"            gorm:"type:varchar(16);not null;default:'draft';check:status IN ('draft','posted','dismissed');index"`
	Version         int        `json:"version"           gorm:"not null;check:version >= 1;uniqueIndex:ux_responses_opportunity_version,priority:2"`
	PlatformPostID  string     `json:"platform_post_id"  gorm:"type:varchar(255)"`
	PlatformPostURL string     `json:"platform_post_url" gorm:"type:varchar(512)"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`
	DismissedAt     *time.Time `json:"dismissed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Opportunity is the parent candidate post. Responses are cascade-deleted
	// if their opportunity is removed.
	Opportunity Opportunity `json:"-" gorm:"foreignKey:OpportunityID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Response.
func (Response) TableName() string { return "responses" }
