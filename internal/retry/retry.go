// Package retry wraps a single provider call with bounded, linear retry.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/elihugi89/aistyler/internal/failure"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy retries rate-limited calls after D*attempt, other failures after a
// fixed D, and never retries Unauthorized. Timer is nil outside tests.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timer       backoff.Timer
	Logger      *slog.Logger
}

func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// state is the per-call attempt counter and last error; it lives only for
// the duration of one Do call.
type state struct {
	base    time.Duration
	attempt int
	lastErr error
}

func (s *state) Reset() { s.attempt = 0 }

func (s *state) NextBackOff() time.Duration {
	s.attempt++
	if !failure.Has(s.lastErr, failure.RateLimited) {
		return s.base
	}
	d := s.base * time.Duration(s.attempt)
	if hint := failure.RetryAfterOf(s.lastErr); hint > d {
		d = hint
	}
	return d
}

// Do runs call until it succeeds, fails with Unauthorized, or MaxAttempts
// calls have been made. Exhaustion is reported as RetriesExhausted wrapping
// the last error.
func Do[T any](ctx context.Context, p Policy, op string, call func(context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		result   T
		attempts int
		st       = &state{base: p.BaseDelay}
	)

	operation := func() error {
		attempts++
		out, err := call(ctx)
		if err == nil {
			result = out
			return nil
		}
		st.lastErr = err
		if failure.Has(err, failure.Unauthorized) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "provider call failed, retrying",
			"op", op,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"wait", wait,
			"err", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(st, uint64(maxAttempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, p.Timer)
	if err == nil {
		return result, nil
	}

	var zero T
	if failure.Has(err, failure.Unauthorized) || ctx.Err() != nil || attempts < maxAttempts {
		return zero, err
	}
	exhausted := failure.Wrap(failure.RetriesExhausted, op, fmt.Sprintf("gave up after %d attempts", attempts), err)
	exhausted.Attempts = attempts
	return zero, exhausted
}
