// Package services – PostingService
//
// This file implements PostingService, which publishes an approved draft to
// the platform and records the result. The adapter call happens outside any
// transaction; the response and opportunity transitions are then committed
// together, so the store never shows a posted response whose opportunity is
// still pending.
//
// Posting never retries internally. Platform errors are returned
// untranslated so callers can branch on platform.IsRetryable and
// platform.RetryAfterHint. When the platform accepted the post but the
// local commit failed, the returned error carries the platform post ID for
// manual reconciliation and the response stays a draft.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-engage-backend/internal/domain"
	"github.com/tbourn/go-engage-backend/internal/observability"
	"github.com/tbourn/go-engage-backend/internal/platform"
	"github.com/tbourn/go-engage-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostingService publishes approved drafts through the platform adapter.
type PostingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Adapter is the platform the reply is posted to.
	Adapter platform.Adapter
}

// Post publishes the draft response as a reply to its opportunity's post,
// then transitions the response to posted and the opportunity to responded
// in one transaction. It returns the refreshed response.
func (s *PostingService) Post(ctx context.Context, responseID string) (*domain.Response, error) {
	tr := otel.Tracer("services/PostingService")
	ctx, span := tr.Start(ctx, "Post",
		trace.WithAttributes(attribute.String("response.id", responseID)),
	)
	defer span.End()

	r, err := repo.GetResponse(ctx, s.DB, responseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	if r.Status != domain.ResponseStatusDraft {
		return nil, &InvalidStateError{Current: r.Status, Expected: domain.ResponseStatusDraft}
	}
	opp, err := repo.GetOpportunity(ctx, s.DB, r.OpportunityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOpportunityNotFound
		}
		return nil, err
	}
	if _, err := repo.GetAccount(ctx, s.DB, r.AccountID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	// No transaction is open around the network call.
	result, err := s.Adapter.Post(ctx, opp.PlatformPostID, r.Text)
	if err != nil {
		return nil, err
	}
	if err := validatePostResult(result); err != nil {
		return nil, err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkResponsePosted(ctx, tx, r.ID, result.PostID, result.PostURL, result.PostedAt); err != nil {
			return err
		}
		return repo.UpdateOpportunityStatus(ctx, tx, opp.ID, opp.Status, domain.OpportunityStatusResponded)
	})
	if err != nil {
		// The platform accepted the post; surface its identity so the
		// operator can reconcile. The response is still a draft locally.
		return nil, fmt.Errorf("post %s published but recording it failed: %w", result.PostID, err)
	}

	observability.ResponsesPosted.Inc()
	return repo.GetResponse(ctx, s.DB, r.ID)
}

// validatePostResult rejects malformed adapter output before it is
// persisted.
func validatePostResult(r platform.PostResult) error {
	switch {
	case strings.TrimSpace(r.PostID) == "":
		return &ValidationError{Reason: "adapter returned an empty post id"}
	case strings.TrimSpace(r.PostURL) == "":
		return &ValidationError{Reason: "adapter returned an empty post url"}
	case r.PostedAt.IsZero():
		return &ValidationError{Reason: "adapter returned a zero posted-at time"}
	}
	return nil
}
