package rate_limiter_engine

import (
	"fmt"
	"math"
	"time"
)

var _ strategy = slidingWindowLimiter{}

// slidingWindowLimiter approximates a true sliding window with O(1) state:
// the previous window's count is weighted by how much of it still overlaps
// the sliding interval. This smooths the fixed window's boundary burst
// without keeping a per-request timestamp log.
type slidingWindowLimiter struct {
	capacity int
	window   time.Duration
}

func (w slidingWindowLimiter) decide(s State, now time.Time, n int) (State, Decision, error) {
	if n > w.capacity {
		return s, Decision{}, fmt.Errorf("%w: %d permits requested, window grants at most %d", ErrUnsatisfiable, n, w.capacity)
	}

	s = w.roll(s, now)
	effective := w.effectiveCount(s, now)
	if effective+float64(n) <= float64(w.capacity) {
		s.Count += n
		return s, Decision{Allowed: true, Remaining: w.remaining(effective + float64(n))}, nil
	}

	return s, Decision{
		Remaining:  w.remaining(effective),
		RetryAfter: w.retryAfter(s, now, effective, n),
	}, nil
}

func (w slidingWindowLimiter) project(s State, now time.Time) Decision {
	s = w.roll(s, now)
	effective := w.effectiveCount(s, now)
	d := Decision{
		Allowed:   effective+1 <= float64(w.capacity),
		Remaining: w.remaining(effective),
	}
	if !d.Allowed {
		d.RetryAfter = w.retryAfter(s, now, effective, 1)
	}
	return d
}

// roll slides or resets the counters when now has left the window holding s.
func (w slidingWindowLimiter) roll(s State, now time.Time) State {
	start := now.Truncate(w.window)
	switch {
	case s.WindowStart.Equal(start):
		return s
	case s.WindowStart.Equal(start.Add(-w.window)):
		// Exactly one window passed: the current count becomes the previous one.
		return State{PrevCount: s.Count, WindowStart: start}
	default:
		return State{WindowStart: start}
	}
}

// effectiveCount weighs the previous window's count by its remaining overlap
// with the sliding interval ending at now.
func (w slidingWindowLimiter) effectiveCount(s State, now time.Time) float64 {
	frac := float64(now.Sub(s.WindowStart)) / float64(w.window)
	if frac > 1 {
		frac = 1
	}
	return float64(s.PrevCount)*(1-frac) + float64(s.Count)
}

func (w slidingWindowLimiter) remaining(effective float64) int {
	remaining := w.capacity - int(math.Ceil(effective))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// retryAfter estimates when n permits will fit: first by letting the previous
// window's weight decay within the current window, then, if the current count
// alone is still too high, by letting it decay past the next rollover.
func (w slidingWindowLimiter) retryAfter(s State, now time.Time, effective float64, n int) time.Duration {
	windowEnd := s.WindowStart.Add(w.window)

	if s.PrevCount > 0 {
		excess := effective + float64(n) - float64(w.capacity)
		wait := time.Duration(excess / float64(s.PrevCount) * float64(w.window))
		if !now.Add(wait).After(windowEnd) {
			return wait
		}
	}

	wait := windowEnd.Sub(now)
	if over := s.Count + n - w.capacity; over > 0 && s.Count > 0 {
		wait += time.Duration(float64(over) / float64(s.Count) * float64(w.window))
	}
	return wait
}
