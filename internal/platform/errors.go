package platform

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError is implemented by every typed error in this package so
// callers can branch on whether retrying the same call may succeed without
// inspecting concrete types.
type RetryableError interface {
	error
	Retryable() bool
}

// AuthError indicates the platform rejected the session or credentials.
// Never retryable; the operator must fix credentials out of band.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("platform: authentication failed: %s", e.Reason)
}

// Retryable implements RetryableError.
func (e *AuthError) Retryable() bool { return false }

// RateLimitError indicates the platform throttled the call. Retryable after
// the RetryAfter delay (zero when the platform gave no hint).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("platform: rate limited, retry after %s", e.RetryAfter)
	}
	return "platform: rate limited"
}

// Retryable implements RetryableError.
func (e *RateLimitError) Retryable() bool { return true }

// PostNotFoundError indicates the referenced post no longer exists, e.g.
// the parent of a drafted reply was deleted. Never retryable.
type PostNotFoundError struct {
	PostID string
}

func (e *PostNotFoundError) Error() string {
	return fmt.Sprintf("platform: post %s not found", e.PostID)
}

// Retryable implements RetryableError.
func (e *PostNotFoundError) Retryable() bool { return false }

// ContentViolationError indicates the platform rejected the reply text
// itself. Never retryable; the draft needs a human edit.
type ContentViolationError struct {
	Reason string
}

func (e *ContentViolationError) Error() string {
	return fmt.Sprintf("platform: content rejected: %s", e.Reason)
}

// Retryable implements RetryableError.
func (e *ContentViolationError) Retryable() bool { return false }

// PostingError is the generic platform failure. Transient marks network
// errors, timeouts, and 5xx responses, which are retryable; other causes
// are not. The wrapped error is preserved, so errors.Is still detects
// context.DeadlineExceeded for per-call timeouts.
type PostingError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *PostingError) Error() string {
	return fmt.Sprintf("platform: %s: %v", e.Op, e.Err)
}

// Retryable implements RetryableError.
func (e *PostingError) Retryable() bool { return e.Transient }

// Unwrap exposes the underlying cause.
func (e *PostingError) Unwrap() error { return e.Err }

// IsRetryable reports whether err (or anything it wraps) is a platform
// error marked retryable. Unknown errors report false.
func IsRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// RetryAfterHint extracts the backoff delay from a rate-limit error, or
// zero when err carries no hint.
func RetryAfterHint(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
