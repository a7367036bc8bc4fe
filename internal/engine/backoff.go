package engine

import (
	"math"
	"time"
)

// BackoffPolicy schedules retries of rejected queue items.
//
// After the n-th rejection an item waits Base·2^(n−1), capped at Max. Once
// MaxAttempts rejections have accumulated the item is dead-lettered.
// MaxAttempts of 0 retries forever.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the production retry policy.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:        5 * time.Second,
		Max:         10 * time.Minute,
		MaxAttempts: 25,
	}
}

// Delay returns how long to wait after the given number of rejections.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if attempts <= 0 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < attempts; i++ {
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted reports whether an item with the given number of rejections
// should stop being retried.
func (p BackoffPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
