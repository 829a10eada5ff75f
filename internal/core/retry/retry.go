// Package retry runs operations under an explicit exponential backoff policy.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/markdave123-py/Extracta/internal/core/errs"
)

// Policy defines retry behavior. The zero value never retries.
type Policy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool

	// Retryable decides which errors are retried at all. Nil retries every error.
	Retryable func(error) bool
	// OnlyRecoverable additionally requires a ProcessingError flagged recoverable.
	OnlyRecoverable bool

	// Sleep blocks between attempts; nil waits on a timer and honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a uniform float in [0, 1); nil uses math/rand/v2.
	Rand func() float64
}

// DefaultPolicy mirrors the defaults used across the extraction pipeline:
// 3 retries, 1s base, 60s cap, doubling, jitter on, recoverable errors only.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		OnlyRecoverable: true,
	}
}

// Delay returns the wait before retry number attempt (0-indexed):
// min(BaseDelay * ExponentialBase^attempt, MaxDelay), scaled into [0.5, 1.0]
// of that value when Jitter is set.
// A zero MaxDelay leaves the delay uncapped, saturating at the largest
// representable Duration.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	base := p.ExponentialBase
	if base <= 0 {
		base = 2.0
	}
	delay := float64(p.BaseDelay) * math.Pow(base, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		delay *= 0.5 + r()*0.5
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func (p Policy) shouldRetry(err error) bool {
	if p.Retryable != nil && !p.Retryable(err) {
		return false
	}
	if p.OnlyRecoverable && !errs.IsRecoverable(err) {
		return false
	}
	return true
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Wait(ctx, d)
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. fn runs at most MaxRetries+1 times. The returned error is the
// original one; ProcessingErrors are annotated with the attempt bookkeeping.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		if attempt >= p.MaxRetries || !p.shouldRetry(err) {
			annotate(err, attempt, p.MaxRetries)
			return zero, err
		}

		if pe, ok := errs.As(err); ok {
			pe.Annotate(map[string]any{"retry_count": attempt + 1, "max_retries": p.MaxRetries})
		}

		if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
			annotate(err, attempt, p.MaxRetries)
			return zero, fmt.Errorf("retry interrupted: %w", err)
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func annotate(err error, attempt, maxRetries int) {
	pe, ok := errs.As(err)
	if !ok {
		return
	}
	pe.Annotate(map[string]any{
		"retry_count":   attempt,
		"max_retries":   maxRetries,
		"final_attempt": true,
		"total_retries": attempt,
	})
}
