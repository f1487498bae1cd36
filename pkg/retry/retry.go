// Package retry is the retry path for calls that do not flow through the
// pkg/http pipeline, such as SDK-backed connectors.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether an error is worth another attempt
type IsTransientFunc func(error) bool

// Do executes fn up to MaxAttempts times with jittered exponential backoff
// between attempts. A non-transient error returns immediately; context
// cancellation during backoff returns ctx.Err(). MaxAttempts below one
// still runs fn once.
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.InitialBackoff

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == attempts-1 {
			break
		}

		// Jitter: backoff + random(0, 50% of backoff).
		sleep := backoff
		if half := int64(backoff / 2); half > 0 {
			sleep += time.Duration(rand.Int63n(half))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
