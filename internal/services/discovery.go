// Package services – DiscoveryService
//
// This file implements DiscoveryService, which runs discovery passes against
// the platform adapter, scores each candidate post, deduplicates against
// already-ingested opportunities, and persists the survivors as pending
// opportunities. It also provides the review-surface queries (paginated
// listing with joined authors) and the dismiss transition.
//
// Run bookkeeping lives on the per-(account, type) schedule row: LastRunAt is
// the incremental fetch watermark and LastError records the most recent
// failure, so a broken search run never blocks reply discovery.
//
// Observability: all public methods are OpenTelemetry-instrumented, and run
// outcomes feed the Prometheus counters in internal/observability.

package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-engage-backend/internal/domain"
	"github.com/tbourn/go-engage-backend/internal/observability"
	"github.com/tbourn/go-engage-backend/internal/platform"
	"github.com/tbourn/go-engage-backend/internal/repo"
	"github.com/tbourn/go-engage-backend/internal/scoring"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// defaultFetchLimit caps how many raw posts one discovery run requests.
	defaultFetchLimit = 50

	// defaultLookback bounds the first run of a schedule, before a
	// LastRunAt watermark exists.
	defaultLookback = 24 * time.Hour

	// defaultOpportunityTTL is how long a new opportunity stays pending
	// before the lifecycle engine expires it.
	defaultOpportunityTTL = 48 * time.Hour
)

// DiscoveryResult summarizes one discovery run.
type DiscoveryResult struct {
	// Fetched is how many raw posts the platform returned.
	Fetched int `json:"fetched"`
	// Created is how many opportunities were persisted.
	Created int `json:"created"`
	// Duplicates is how many posts were already ingested for the account.
	Duplicates int `json:"duplicates"`
	// BelowThreshold is how many posts scored under the cutoff.
	BelowThreshold int `json:"below_threshold"`
}

// OpportunityFilters narrows ListOpportunities. Empty strings mean "any";
// out-of-range paging values fall back to defaults.
type OpportunityFilters struct {
	Status        string
	DiscoveryType string
	Page          int
	PageSize      int
}

// OpportunityItem pairs an opportunity with its cached author for review
// surfaces.
type OpportunityItem struct {
	Opportunity domain.Opportunity `json:"opportunity"`
	Author      domain.Author      `json:"author"`
}

// DiscoveryService finds engagement opportunities for an account by querying
// the platform adapter, scoring candidates against the profile keywords, and
// persisting the ones worth reviewing.
type DiscoveryService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Adapter is the platform the account lives on.
	Adapter platform.Adapter

	// FetchLimit caps how many raw posts one run requests. Zero means
	// defaultFetchLimit.
	FetchLimit int
	// Threshold is the minimum total score a candidate must reach. Zero
	// means scoring.DefaultThreshold.
	Threshold float64
	// Lookback bounds the first run of a schedule. Zero means
	// defaultLookback.
	Lookback time.Duration
	// TTL is how long a new opportunity stays pending. Zero means
	// defaultOpportunityTTL.
	TTL time.Duration
}

// NewDiscoveryService constructs a DiscoveryService with the default fetch
// limit, score threshold, lookback window, and opportunity TTL.
func NewDiscoveryService(db *gorm.DB, adapter platform.Adapter) *DiscoveryService {
	return &DiscoveryService{
		DB:         db,
		Adapter:    adapter,
		FetchLimit: defaultFetchLimit,
		Threshold:  scoring.DefaultThreshold,
		Lookback:   defaultLookback,
		TTL:        defaultOpportunityTTL,
	}
}

// Discover runs one discovery pass for the account and type, persists every
// candidate that clears the score threshold, and updates the schedule
// bookkeeping. A run with zero candidates is still a success and advances
// the watermark; a failed run records its error on the schedule row and
// returns it.
func (s *DiscoveryService) Discover(ctx context.Context, accountID, discoveryType string) (*DiscoveryResult, error) {
	tr := otel.Tracer("services/DiscoveryService")
	ctx, span := tr.Start(ctx, "Discover",
		trace.WithAttributes(
			attribute.String("account.id", accountID),
			attribute.String("discovery.type", discoveryType),
		),
	)
	defer span.End()

	if !domain.ValidDiscoveryType(discoveryType) {
		return nil, &ValidationError{Reason: "unknown discovery type", Payload: discoveryType}
	}

	account, err := repo.GetAccount(ctx, s.DB, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	profile, err := repo.GetProfile(ctx, s.DB, account.ProfileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	sched, err := repo.GetSchedule(ctx, s.DB, accountID, discoveryType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	since := now.Add(-s.lookback())
	if sched.LastRunAt != nil {
		since = *sched.LastRunAt
	}

	posts, err := s.fetch(ctx, discoveryType, profile.Keywords, since)
	if err != nil {
		s.recordFailure(ctx, sched.ID, discoveryType, err)
		return nil, err
	}

	res := &DiscoveryResult{Fetched: len(posts)}
	// Author profiles are fetched at most once per run; repeat posters
	// reuse the first enrichment.
	seen := make(map[string]platform.RawAuthor)
	for _, post := range posts {
		if err := s.ingest(ctx, account, discoveryType, profile.Keywords, post, now, seen, res); err != nil {
			s.recordFailure(ctx, sched.ID, discoveryType, err)
			return nil, err
		}
	}

	if err := repo.RecordScheduleRun(ctx, s.DB, sched.ID, now); err != nil {
		s.recordFailure(ctx, sched.ID, discoveryType, err)
		return nil, err
	}

	observability.DiscoveryRuns.WithLabelValues(discoveryType, "success").Inc()
	observability.OpportunitiesCreated.Add(float64(res.Created))
	log.Info().
		Str("account_id", accountID).
		Str("discovery_type", discoveryType).
		Int("fetched", res.Fetched).
		Int("created", res.Created).
		Int("duplicates", res.Duplicates).
		Int("below_threshold", res.BelowThreshold).
		Msg("discovery run complete")
	return res, nil
}

// fetch pulls raw candidates from the platform. A search run with no
// profile keywords skips the network call and yields zero candidates.
func (s *DiscoveryService) fetch(ctx context.Context, discoveryType string, keywords []string, since time.Time) ([]platform.RawPost, error) {
	limit := s.FetchLimit
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	if discoveryType == domain.DiscoveryTypeSearch {
		if len(keywords) == 0 {
			return nil, nil
		}
		return s.Adapter.SearchPosts(ctx, keywords, since, limit)
	}
	return s.Adapter.FetchReplies(ctx, since, limit)
}

// ingest processes one raw post: dedup pre-check, author upsert, scoring,
// and conditional insert. Posts already ingested or scoring under the
// threshold are counted and skipped; storage failures abort the run.
func (s *DiscoveryService) ingest(ctx context.Context, account *domain.Account, discoveryType string, keywords []string, post platform.RawPost, now time.Time, seen map[string]platform.RawAuthor, res *DiscoveryResult) error {
	exists, err := repo.OpportunityExists(ctx, s.DB, account.ID, post.ID)
	if err != nil {
		return err
	}
	if exists {
		res.Duplicates++
		return nil
	}

	raw, ok := seen[post.Author.ID]
	if !ok {
		raw = post.Author
		if full, aerr := s.Adapter.GetAuthor(ctx, raw.ID); aerr != nil {
			// Keep the partial author embedded in the post; the row gets
			// refreshed on the next successful sighting.
			log.Warn().Err(aerr).
				Str("platform_user_id", raw.ID).
				Msg("author enrichment failed, using partial profile")
		} else {
			raw = full
		}
		seen[post.Author.ID] = raw
	}

	author, err := repo.UpsertAuthor(ctx, s.DB, &domain.Author{
		Platform:       account.Platform,
		PlatformUserID: raw.ID,
		Handle:         raw.Handle,
		DisplayName:    raw.DisplayName,
		Bio:            raw.Bio,
		FollowerCount:  raw.FollowerCount,
		LastSeenAt:     now,
	})
	if err != nil {
		return err
	}

	b := scoring.Score(post, raw, keywords, now)
	if b.Total < s.threshold() {
		res.BelowThreshold++
		return nil
	}

	opp := &domain.Opportunity{
		AccountID:       account.ID,
		Platform:        account.Platform,
		PlatformPostID:  post.ID,
		PlatformPostURL: post.URL,
		Content:         post.Text,
		PostCreatedAt:   post.CreatedAt,
		AuthorID:        author.ID,
		LikeCount:       post.LikeCount,
		RepostCount:     post.RepostCount,
		ReplyCount:      post.ReplyCount,
		ScoreImpact:     b.Impact,
		ScoreRecency:    b.Recency,
		ScoreKeyword:    b.KeywordMatch,
		ScoreTotal:      b.Total,
		DiscoveryType:   discoveryType,
		Status:          domain.OpportunityStatusPending,
		DiscoveredAt:    now,
		ExpiresAt:       now.Add(s.ttl()),
	}
	if err := repo.CreateOpportunity(ctx, s.DB, opp); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// A concurrent run for the same account won the insert race.
			res.Duplicates++
			return nil
		}
		return err
	}
	res.Created++
	return nil
}

// recordFailure persists the run error on the schedule row. Bookkeeping
// failures are logged and otherwise ignored; the run error takes precedence.
func (s *DiscoveryService) recordFailure(ctx context.Context, scheduleID, discoveryType string, runErr error) {
	observability.DiscoveryRuns.WithLabelValues(discoveryType, "error").Inc()
	if err := repo.RecordScheduleError(ctx, s.DB, scheduleID, runErr.Error()); err != nil {
		log.Error().Err(err).
			Str("schedule_id", scheduleID).
			Msg("recording discovery failure failed")
	}
}

// ListOpportunities returns one score-descending page of the account's
// opportunities with their cached authors joined, plus the total row count
// for the filters. Rows whose author has vanished are excluded from the
// page rather than failing the listing.
func (s *DiscoveryService) ListOpportunities(ctx context.Context, accountID string, f OpportunityFilters) ([]OpportunityItem, int64, error) {
	tr := otel.Tracer("services/DiscoveryService")
	ctx, span := tr.Start(ctx, "ListOpportunities",
		trace.WithAttributes(
			attribute.String("account.id", accountID),
			attribute.Int("page", f.Page),
			attribute.Int("page_size", f.PageSize),
		),
	)
	defer span.End()

	if f.Status != "" && !domain.ValidOpportunityStatus(f.Status) {
		return nil, 0, &ValidationError{Reason: "unknown opportunity status", Payload: f.Status}
	}
	if f.DiscoveryType != "" && !domain.ValidDiscoveryType(f.DiscoveryType) {
		return nil, 0, &ValidationError{Reason: "unknown discovery type", Payload: f.DiscoveryType}
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountOpportunities(ctx, s.DB, accountID, f.Status, f.DiscoveryType)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []OpportunityItem{}, 0, nil
	}

	opps, err := repo.ListOpportunitiesPage(ctx, s.DB, accountID, f.Status, f.DiscoveryType, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(opps))
	for _, o := range opps {
		ids = append(ids, o.AuthorID)
	}
	authors, err := repo.GetAuthorsByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]OpportunityItem, 0, len(opps))
	for _, o := range opps {
		a, ok := authors[o.AuthorID]
		if !ok {
			continue
		}
		items = append(items, OpportunityItem{Opportunity: o, Author: a})
	}
	return items, total, nil
}

// UpdateStatus transitions an opportunity directly to the given status. It
// is the dismiss path for the review surface; responded is terminal and is
// never superseded here.
func (s *DiscoveryService) UpdateStatus(ctx context.Context, opportunityID, status string) error {
	tr := otel.Tracer("services/DiscoveryService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("opportunity.id", opportunityID),
			attribute.String("status", status),
		),
	)
	defer span.End()

	if !domain.ValidOpportunityStatus(status) {
		return &ValidationError{Reason: "unknown opportunity status", Payload: status}
	}
	opp, err := repo.GetOpportunity(ctx, s.DB, opportunityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOpportunityNotFound
		}
		return err
	}
	if opp.Status == domain.OpportunityStatusResponded {
		return &InvalidStateError{Current: opp.Status, Expected: domain.OpportunityStatusPending}
	}
	if opp.Status == status {
		return nil
	}
	if err := repo.UpdateOpportunityStatus(ctx, s.DB, opportunityID, opp.Status, status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOpportunityNotFound
		}
		return err
	}
	return nil
}

// ExpireOpportunities transitions every pending opportunity whose expiry has
// passed to expired and returns the number of rows changed. The lifecycle
// cycle runs the same sweep as its first step; this entry point exists for
// on-demand invocation.
func (s *DiscoveryService) ExpireOpportunities(ctx context.Context) (int64, error) {
	tr := otel.Tracer("services/DiscoveryService")
	ctx, span := tr.Start(ctx, "ExpireOpportunities")
	defer span.End()

	n, err := repo.MarkExpiredOpportunities(ctx, s.DB, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	observability.OpportunitiesExpired.Add(float64(n))
	return n, nil
}

func (s *DiscoveryService) threshold() float64 {
	if s.Threshold > 0 {
		return s.Threshold
	}
	return scoring.DefaultThreshold
}

func (s *DiscoveryService) lookback() time.Duration {
	if s.Lookback > 0 {
		return s.Lookback
	}
	return defaultLookback
}

func (s *DiscoveryService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return defaultOpportunityTTL
}
