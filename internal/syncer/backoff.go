package syncer

import (
	"math"
	"time"
)

// BackoffPolicy computes the retry delay for a queue entry from its attempt
// count. It is a pure function so the schedule can be persisted per row as
// next_attempt_at and survive restarts (an in-process stateful backoff
// cannot).
type BackoffPolicy struct {
	Base time.Duration
	Mult float64
	Cap  time.Duration
}

// Delay returns the wait before retry number attempts+1.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 2 * time.Second
	}
	mult := p.Mult
	if mult < 1 {
		mult = 2
	}
	limit := p.Cap
	if limit <= 0 {
		limit = 5 * time.Minute
	}

	d := time.Duration(float64(base) * math.Pow(mult, float64(attempts)))
	if d <= 0 || d > limit {
		return limit
	}
	return d
}
