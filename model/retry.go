package model

import (
	"context"
	"fmt"
	"time"

	"ragchat/types"
)

// Backoff is a capped exponential retry schedule: Base, 2·Base, 4·Base ... up to Max.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

var DefaultBackoff = Backoff{
	Base:     500 * time.Millisecond,
	Max:      8 * time.Second,
	Attempts: 4,
}

func (b Backoff) delay(attempt int) time.Duration {
	if attempt > 30 {
		return b.Max
	}
	d := b.Base << (attempt - 1)
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		return b.Max
	}
	return d
}

// RetryStats reports what a retried call cost the caller.
type RetryStats struct {
	Attempts int
	Elapsed  time.Duration
}

// Retry calls fn until it succeeds, returns an error retryable rejects, the attempts
// run out or ctx is done. A nil retryable means types.IsRetryable.
func Retry[T any](ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) (T, error)) (T, RetryStats, error) {
	if retryable == nil {
		retryable = types.IsRetryable
	}
	attempts := max(b.Attempts, 1)

	var (
		zero    T
		lastErr error
		stats   RetryStats
		start   = time.Now()
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(start)
			return zero, stats, err
		}

		stats.Attempts = attempt
		out, err := fn(ctx)
		if err == nil {
			stats.Elapsed = time.Since(start)
			return out, stats, nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			stats.Elapsed = time.Since(start)
			return zero, stats, ctx.Err()
		case <-timer.C:
		}
	}

	stats.Elapsed = time.Since(start)
	if stats.Attempts > 1 {
		return zero, stats, fmt.Errorf("gave up after %d attempts: %w", stats.Attempts, lastErr)
	}
	return zero, stats, lastErr
}

// EmbedWithRetry embeds text with backoff on rate limits and transient failures.
func EmbedWithRetry(ctx context.Context, e Embedder, b Backoff, text string) ([]float32, RetryStats, error) {
	return Retry(ctx, b, nil, func(ctx context.Context) ([]float32, error) {
		return e.Embed(ctx, text)
	})
}
