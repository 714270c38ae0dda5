// Package retry holds the single shared retry-with-backoff policy used for
// every flaky external call (feed fetches, difficulty lookups). One policy
// object is built from config and injected wherever it is needed.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // randomization factor, 0..1
}

// Default returns the policy used when config does not override it.
func Default() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.3,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = Default().MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = Default().BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = Default().MaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = Default().Multiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = Default().Jitter
	}
	return p
}

// Do runs op under the policy until it succeeds, returns a permanent error,
// the attempt cap is hit, or ctx is done.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	p = p.normalized()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.Jitter
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(p.MaxAttempts),
	)
}

// Permanent marks err as not worth retrying (e.g. a 4xx response).
func Permanent(err error) error {
	return backoff.Permanent(err)
}
