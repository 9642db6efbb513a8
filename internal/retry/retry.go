package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures bounded retries with exponential backoff. It is applied
// only to idempotent network calls (HEAD/GET, callback POSTs keyed by job id)
// and to PUTs that re-send identical bytes to the same key.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

// RetryableFunc decides whether an error is worth another attempt.
type RetryableFunc func(error) bool

// Do runs fn until it succeeds, the context is done, or attempts are
// exhausted. The last error is returned.
func Do(ctx context.Context, policy Policy, retryable RetryableFunc, fn func(context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy
	}

	backoff := policy.InitialDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return err
		}

		sleep := backoff
		if policy.Jitter {
			// +/-20% jitter so parallel jobs don't retry in lockstep.
			delta := float64(backoff) * 0.2
			j := (rng.Float64()*2 - 1) * delta
			sleep = time.Duration(math.Max(0, float64(backoff)+j))
		}
		if sleep > policy.MaxDelay {
			sleep = policy.MaxDelay
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		next := time.Duration(float64(backoff) * policy.Multiplier)
		if next < backoff {
			next = backoff
		}
		backoff = next
		if backoff > policy.MaxDelay {
			backoff = policy.MaxDelay
		}
	}
}
