package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Author{}).TableName():      "authors",
		(Opportunity{}).TableName(): "opportunities",
		(Response{}).TableName():    "responses",
		(Profile{}).TableName():     "profiles",
		(Account{}).TableName():     "accounts",
		(Schedule{}).TableName():    "schedules",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestStatusValidators(t *testing.T) {
	for _, s := range []string{OpportunityStatusPending, OpportunityStatusDismissed, OpportunityStatusExpired, OpportunityStatusResponded} {
		if !ValidOpportunityStatus(s) {
			t.Fatalf("ValidOpportunityStatus(%q) = false; want true", s)
		}
	}
	if ValidOpportunityStatus("archived") {
		t.Fatal("ValidOpportunityStatus accepted unknown status")
	}
	for _, s := range []string{ResponseStatusDraft, ResponseStatusPosted, ResponseStatusDismissed} {
		if !ValidResponseStatus(s) {
			t.Fatalf("ValidResponseStatus(%q) = false; want true", s)
		}
	}
	if ValidResponseStatus("pending") {
		t.Fatal("ValidResponseStatus accepted unknown status")
	}
	if !ValidDiscoveryType(DiscoveryTypeReplies) || !ValidDiscoveryType(DiscoveryTypeSearch) {
		t.Fatal("ValidDiscoveryType rejected a known type")
	}
	if ValidDiscoveryType("mentions") {
		t.Fatal("ValidDiscoveryType accepted unknown type")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Profile{}, &Account{}, &Schedule{}, &Author{}, &Opportunity{}, &Response{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&Profile{}, &Account{}, &Schedule{}, &Author{}, &Opportunity{}, &Response{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	// Indexes from tags exist
	if !m.HasIndex(&Author{}, "ux_authors_platform_user") {
		t.Fatalf("expected unique index ux_authors_platform_user on authors")
	}
	if !m.HasIndex(&Opportunity{}, "ux_opportunities_account_post") {
		t.Fatalf("expected unique index ux_opportunities_account_post on opportunities")
	}
	if !m.HasIndex(&Opportunity{}, "idx_opps_account_score") {
		t.Fatalf("expected index idx_opps_account_score on opportunities")
	}
	if !m.HasIndex(&Response{}, "ux_responses_opportunity_version") {
		t.Fatalf("expected unique index ux_responses_opportunity_version on responses")
	}
	if !m.HasIndex(&Schedule{}, "ux_schedules_account_type") {
		t.Fatalf("expected unique index ux_schedules_account_type on schedules")
	}
	if !m.HasIndex(&Account{}, "ux_accounts_platform_handle") {
		t.Fatalf("expected unique index ux_accounts_platform_handle on accounts")
	}

	now := time.Now().UTC()

	au := &Author{ID: "a1", Platform: PlatformBluesky, PlatformUserID: "did:plc:1", Handle: "alice.bsky.social", FollowerCount: 10, LastSeenAt: now}
	if err := db.Create(au).Error; err != nil {
		t.Fatalf("insert author: %v", err)
	}

	op := &Opportunity{
		ID: "o1", AccountID: "acct1", Platform: PlatformBluesky,
		PlatformPostID: "at://did:plc:1/post/1", PlatformPostURL: "https://bsky.app/profile/alice/post/1",
		Content: "hello", PostCreatedAt: now, AuthorID: "a1",
		DiscoveryType: DiscoveryTypeSearch, Status: OpportunityStatusPending,
		DiscoveredAt: now, ExpiresAt: now.Add(48 * time.Hour),
	}
	if err := db.Create(op).Error; err != nil {
		t.Fatalf("insert opportunity: %v", err)
	}

	// Unique (account, post) pair rejects re-insertion.
	dup := &Opportunity{
		ID: "o2", AccountID: "acct1", Platform: PlatformBluesky,
		PlatformPostID: "at://did:plc:1/post/1", PlatformPostURL: "https://bsky.app/profile/alice/post/1",
		Content: "hello again", PostCreatedAt: now, AuthorID: "a1",
		DiscoveryType: DiscoveryTypeReplies, Status: OpportunityStatusPending,
		DiscoveredAt: now, ExpiresAt: now.Add(48 * time.Hour),
	}
	if err := db.Create(dup).Error; err == nil {
		t.Fatal("expected unique index violation for duplicate (account, post) pair")
	}

	rsp := &Response{ID: "r1", OpportunityID: "o1", AccountID: "acct1", Text: "hi", Status: ResponseStatusDraft, Version: 1}
	if err := db.Create(rsp).Error; err != nil {
		t.Fatalf("insert response: %v", err)
	}

	// Unique (opportunity, version) pair rejects re-insertion.
	rdup := &Response{ID: "r2", OpportunityID: "o1", AccountID: "acct1", Text: "hi again", Status: ResponseStatusDraft, Version: 1}
	if err := db.Create(rdup).Error; err == nil {
		t.Fatal("expected unique index violation for duplicate (opportunity, version) pair")
	}

	// CASCADE: deleting an opportunity should delete its responses
	if err := db.Delete(&Opportunity{}, "id = ?", "o1").Error; err != nil {
		t.Fatalf("delete opportunity: %v", err)
	}
	var cnt int64
	if err := db.Model(&Response{}).Where("opportunity_id = ?", "o1").Count(&cnt).Error; err != nil {
		t.Fatalf("count responses after opportunity delete: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected responses to cascade-delete when opportunity deleted, got count=%d", cnt)
	}
}
