package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", &AuthError{Reason: "bad token"}, false},
		{"rate limit", &RateLimitError{RetryAfter: time.Second}, true},
		{"post not found", &PostNotFoundError{PostID: "x"}, false},
		{"content violation", &ContentViolationError{Reason: "policy"}, false},
		{"transient posting", &PostingError{Op: "createRecord", Err: errors.New("boom"), Transient: true}, true},
		{"permanent posting", &PostingError{Op: "createRecord", Err: errors.New("boom"), Transient: false}, false},
		{"wrapped transient", fmt.Errorf("posting reply: %w", &PostingError{Op: "x", Err: errors.New("io"), Transient: true}), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestPostingError_UnwrapsToCause(t *testing.T) {
	err := &PostingError{Op: "getPosts", Err: context.DeadlineExceeded, Transient: true}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected errors.Is to see context.DeadlineExceeded through PostingError")
	}
}

func TestRetryAfterHint(t *testing.T) {
	if got := RetryAfterHint(&RateLimitError{RetryAfter: 42 * time.Second}); got != 42*time.Second {
		t.Fatalf("RetryAfterHint = %v, want 42s", got)
	}
	if got := RetryAfterHint(errors.New("boom")); got != 0 {
		t.Fatalf("RetryAfterHint on plain error = %v, want 0", got)
	}
	if got := RetryAfterHint(nil); got != 0 {
		t.Fatalf("RetryAfterHint(nil) = %v, want 0", got)
	}
}
