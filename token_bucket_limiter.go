package rate_limiter_engine

import (
	"fmt"
	"time"
)

var _ strategy = tokenBucketLimiter{}

// tokenEpsilon absorbs float rounding in token comparisons so repeated small
// refills never starve a request for a permit it has mathematically earned.
const tokenEpsilon = 1e-9

// tokenBucketLimiter grants permits from a bucket of fractional tokens that
// refills continuously at refillRate tokens per second, up to capacity+burst.
type tokenBucketLimiter struct {
	capacity   int
	burst      int
	refillRate float64
}

func (t tokenBucketLimiter) decide(s State, now time.Time, n int) (State, Decision, error) {
	if n > t.capacity+t.burst {
		return s, Decision{}, fmt.Errorf("%w: %d permits requested, bucket holds at most %d", ErrUnsatisfiable, n, t.capacity+t.burst)
	}

	s = t.refill(s, now)
	if s.Tokens+tokenEpsilon >= float64(n) {
		s.Tokens -= float64(n)
		if s.Tokens < 0 {
			s.Tokens = 0
		}
		return s, Decision{Allowed: true, Remaining: int(s.Tokens + tokenEpsilon)}, nil
	}

	return s, Decision{
		Remaining:  int(s.Tokens + tokenEpsilon),
		RetryAfter: t.timeToEarn(float64(n) - s.Tokens),
	}, nil
}

func (t tokenBucketLimiter) project(s State, now time.Time) Decision {
	s = t.refill(s, now)
	d := Decision{
		Allowed:   s.Tokens+tokenEpsilon >= 1,
		Remaining: int(s.Tokens + tokenEpsilon),
	}
	if !d.Allowed {
		d.RetryAfter = t.timeToEarn(1 - s.Tokens)
	}
	return d
}

// refill credits tokens for the time elapsed since the last recomputation.
// A bucket seen for the first time starts full.
func (t tokenBucketLimiter) refill(s State, now time.Time) State {
	ceiling := float64(t.capacity + t.burst)
	if s.LastRefill.IsZero() {
		return State{Tokens: ceiling, LastRefill: now}
	}

	if elapsed := now.Sub(s.LastRefill); elapsed > 0 {
		s.Tokens += elapsed.Seconds() * t.refillRate
		if s.Tokens > ceiling {
			s.Tokens = ceiling
		}
	}
	s.LastRefill = now
	return s
}

// timeToEarn returns how long the refill needs to produce missing tokens.
// With no refill the wait is unbounded and reported as zero.
func (t tokenBucketLimiter) timeToEarn(missing float64) time.Duration {
	if t.refillRate <= 0 {
		return 0
	}
	return time.Duration(missing / t.refillRate * float64(time.Second))
}
