// Package retry implements exponential backoff with jitter for outbound
// calls to the social platform and the generation API.
//
// The entry point is Do, which replays an operation until it succeeds, the
// classifier rules the error permanent, the attempt budget is exhausted, or
// the context is cancelled. Delay hints from rate-limit responses take
// precedence over the computed backoff when they are longer.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Config controls backoff behavior. The zero value is usable: zero fields
// fall back to the Default values.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
	// Jitter adds up to +/-10% randomness to each delay so synchronized
	// schedules do not hammer the upstream in lockstep.
	Jitter bool

	// Retryable decides whether an error is worth another attempt.
	// A nil classifier retries every error.
	Retryable func(error) bool
	// DelayHint extracts an upstream-provided wait (e.g. Retry-After)
	// from an error. When the hint exceeds the computed delay, the hint
	// wins. May be nil.
	DelayHint func(error) time.Duration
}

// Default returns the backoff used for platform calls.
func Default() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Generation returns the backoff used for language-model and embedding
// requests, which tolerate slower upstreams than platform calls.
func Generation() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	}
}

// Do runs op, retrying per cfg. It returns nil on the first success, the
// classifier-rejected error immediately, or the last error once retries are
// exhausted or ctx is done.
func Do(ctx context.Context, cfg Config, op func(context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}

		delay := cfg.delay(attempt)
		if cfg.DelayHint != nil {
			if hint := cfg.DelayHint(err); hint > delay {
				delay = hint
			}
		}
		log.Debug().
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Dur("delay", delay).
			Err(err).
			Msg("retrying after backoff")

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
}

func (c Config) withDefaults() Config {
	def := Default()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = def.Multiplier
	}
	return c
}

// delay computes the backoff before retry number attempt+1.
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter {
		spread := d * 0.1
		d += (rand.Float64()*2 - 1) * spread
		if d < 0 {
			d = float64(c.BaseDelay)
		}
	}
	return time.Duration(d)
}
