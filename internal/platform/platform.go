// Package platform defines the adapter contract between the engagement
// engines and a concrete social platform. Engines depend only on the
// Adapter interface and the typed errors in this package; the Bluesky
// implementation lives in the bluesky subpackage.
package platform

import (
	"context"
	"time"
)

// RawPost is a platform post as fetched, before scoring or persistence.
type RawPost struct {
	// ID is the platform's canonical post identifier (AT URI on Bluesky).
	ID string
	// URL is the human-facing link to the post.
	URL string
	// Text is the post body.
	Text string
	// CreatedAt is when the post was published, in UTC.
	CreatedAt time.Time
	// Author is the posting identity as embedded in the fetch payload.
	// Follower counts may be absent here; use Adapter.GetAuthor for the
	// full profile.
	Author RawAuthor
	// Engagement counters at fetch time.
	LikeCount   int
	RepostCount int
	ReplyCount  int
}

// RawAuthor is a platform identity snapshot.
type RawAuthor struct {
	// ID is the platform's stable user identifier (DID on Bluesky).
	ID          string
	Handle      string
	DisplayName string
	Bio         string
	// FollowerCount is zero when the source payload does not carry it.
	FollowerCount int
}

// Constraints describes platform posting limits the suggestion pipeline
// must respect.
type Constraints struct {
	// MaxPostLength is the maximum reply length in runes.
	MaxPostLength int
}

// PostResult identifies a successfully created platform post.
type PostResult struct {
	PostID   string
	PostURL  string
	PostedAt time.Time
}

// Adapter is the capability contract a platform implementation provides.
// All fetch and post operations are blocking and honor ctx cancellation;
// failures use the typed errors defined in this package.
type Adapter interface {
	// FetchReplies returns replies and mentions addressed to the
	// authenticated account, newest first, indexed after since and capped
	// at limit.
	FetchReplies(ctx context.Context, since time.Time, limit int) ([]RawPost, error)

	// SearchPosts runs the given keyword queries and returns matching
	// posts created after since, deduplicated across keywords and capped
	// at limit.
	SearchPosts(ctx context.Context, keywords []string, since time.Time, limit int) ([]RawPost, error)

	// GetAuthor fetches the full profile for a platform user ID,
	// including follower counts.
	GetAuthor(ctx context.Context, id string) (RawAuthor, error)

	// Constraints returns the platform's posting limits.
	Constraints() Constraints

	// Post publishes text as a reply to parentPostID and returns the
	// created post's identity.
	Post(ctx context.Context, parentPostID, text string) (PostResult, error)
}
