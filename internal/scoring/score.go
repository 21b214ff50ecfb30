// Package scoring ranks discovered posts on a fixed 0-100 scale so the
// discovery engine can filter low-value candidates before persisting them.
//
// Scoring is a pure function of the fetched post, its author, and the
// profile's keywords; the reference time is injected so results are
// reproducible. Subscores are monotonic: more followers, fresher posts,
// and higher keyword coverage never lower a score.
package scoring

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/tbourn/go-engage-backend/internal/platform"
)

// DefaultThreshold is the minimum total score a candidate needs to be
// persisted as an opportunity.
const DefaultThreshold = 30.0

// RecencyWindow is the post age at which the recency subscore reaches zero.
const RecencyWindow = 48 * time.Hour

const (
	weightImpact  = 0.35
	weightRecency = 0.35
	weightKeyword = 0.30
)

// Breakdown holds the 0-100 subscores and their weighted total.
type Breakdown struct {
	Impact       float64
	Recency      float64
	KeywordMatch float64
	Total        float64
}

// Score computes the breakdown for one candidate post at the given
// reference time.
func Score(post platform.RawPost, author platform.RawAuthor, keywords []string, now time.Time) Breakdown {
	b := Breakdown{
		Impact:       impactScore(author.FollowerCount),
		Recency:      recencyScore(post.CreatedAt, now),
		KeywordMatch: keywordScore(post.Text, keywords),
	}
	b.Total = weightImpact*b.Impact + weightRecency*b.Recency + weightKeyword*b.KeywordMatch
	return b
}

// impactScore grows logarithmically with follower count and saturates at
// 100 (reached around ten thousand followers).
func impactScore(followers int) float64 {
	if followers < 0 {
		followers = 0
	}
	s := 25 * math.Log10(float64(followers)+1)
	return clamp(s)
}

// recencyScore decays linearly from 100 for a just-published post to 0 at
// RecencyWindow. Posts without a timestamp score zero; future-dated posts
// count as fresh.
func recencyScore(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	s := 100 * (1 - float64(age)/float64(RecencyWindow))
	return clamp(s)
}

// keywordScore is the fraction of keywords contained in the post text,
// matched with Unicode case folding. Blank keywords are ignored; a profile
// without keywords scores zero.
func keywordScore(text string, keywords []string) float64 {
	folded := foldCase(text)
	total, matched := 0, 0
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		total++
		if strings.Contains(folded, foldCase(kw)) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(matched) / float64(total)
}

// foldCase applies Unicode case folding, which handles mappings plain
// lowercasing misses (e.g. ß to ss).
func foldCase(s string) string {
	return cases.Fold().String(s)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
