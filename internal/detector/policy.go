package detector

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
)

// RetryPolicy bounds one detection stage. Attempt 0 runs immediately; the
// wait before attempt i is Delays[i], repeating the last delay once the
// sequence runs out.
type RetryPolicy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	for i, d := range p.Delays {
		if d < 0 {
			return errors.Errorf("delay %d is negative (%s)", i, d)
		}
	}
	return nil
}

// DelayBefore returns the wait preceding the given zero-based attempt.
func (p RetryPolicy) DelayBefore(attempt int) time.Duration {
	if attempt <= 0 || len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// TotalWait is the time spent waiting when every attempt fails.
func (p RetryPolicy) TotalWait() time.Duration {
	var total time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		total += p.DelayBefore(i)
	}
	return total
}

func (p RetryPolicy) backOff() backoff.BackOff {
	return &sequenceBackOff{policy: p}
}

// sequenceBackOff replays a RetryPolicy's delay sequence for backoff.Retry.
type sequenceBackOff struct {
	policy RetryPolicy
	next   int
}

func (b *sequenceBackOff) NextBackOff() time.Duration {
	b.next++
	if b.next >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	return b.policy.DelayBefore(b.next)
}

func (b *sequenceBackOff) Reset() {
	b.next = 0
}

// MillisPolicy builds a RetryPolicy from millisecond delays.
func MillisPolicy(maxAttempts int, delaysMs ...int) RetryPolicy {
	delays := make([]time.Duration, len(delaysMs))
	for i, ms := range delaysMs {
		delays[i] = time.Duration(ms) * time.Millisecond
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Delays: delays}
}
