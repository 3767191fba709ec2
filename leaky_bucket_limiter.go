package rate_limiter_engine

import (
	"fmt"
	"time"
)

var _ strategy = leakyBucketLimiter{}

// leakyBucketLimiter models a FIFO queue draining at leakRate permits per
// second. An admitted request is accepted into the queue, not served
// immediately; callers needing immediate pass/fail semantics should use the
// token bucket instead.
type leakyBucketLimiter struct {
	depth    int
	leakRate float64
}

func (b leakyBucketLimiter) decide(s State, now time.Time, n int) (State, Decision, error) {
	if n > b.depth {
		return s, Decision{}, fmt.Errorf("%w: %d permits requested, queue holds at most %d", ErrUnsatisfiable, n, b.depth)
	}

	s = b.leak(s, now)
	if s.Queued+n <= b.depth {
		s.Queued += n
		return s, Decision{Allowed: true, Remaining: b.depth - s.Queued}, nil
	}

	return s, Decision{
		Remaining:  b.depth - s.Queued,
		RetryAfter: b.timeToDrain(s.Queued + n - b.depth),
	}, nil
}

func (b leakyBucketLimiter) project(s State, now time.Time) Decision {
	s = b.leak(s, now)
	d := Decision{
		Allowed:   s.Queued < b.depth,
		Remaining: b.depth - s.Queued,
	}
	if !d.Allowed {
		d.RetryAfter = b.timeToDrain(s.Queued + 1 - b.depth)
	}
	return d
}

// leak drains whole permits for the elapsed time, carrying the fractional
// remainder forward. The carry is dropped once the queue empties; an empty
// queue earns no drain credit.
func (b leakyBucketLimiter) leak(s State, now time.Time) State {
	if s.LastLeak.IsZero() {
		return State{LastLeak: now}
	}

	elapsed := now.Sub(s.LastLeak)
	s.LastLeak = now
	if elapsed <= 0 {
		return s
	}

	leaked := elapsed.Seconds()*b.leakRate + s.LeakCarry
	whole := int(leaked)
	s.LeakCarry = leaked - float64(whole)
	s.Queued -= whole
	if s.Queued <= 0 {
		s.Queued = 0
		s.LeakCarry = 0
	}
	return s
}

func (b leakyBucketLimiter) timeToDrain(permits int) time.Duration {
	return time.Duration(float64(permits) / b.leakRate * float64(time.Second))
}
