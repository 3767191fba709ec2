package rate_limiter_engine

import (
	"fmt"
	"time"
)

var _ strategy = fixedWindowLimiter{}

// fixedWindowLimiter counts permits in absolute-time-aligned windows.
// Window boundaries are aligned to floor(now/Window), not to the first
// request, so independent limiter instances agree on window edges. The known
// tradeoff of this strategy is that up to 2x Capacity permits can be admitted
// across a window boundary; callers that care should use the sliding window.
type fixedWindowLimiter struct {
	capacity int
	window   time.Duration
}

func (f fixedWindowLimiter) decide(s State, now time.Time, n int) (State, Decision, error) {
	if n > f.capacity {
		return s, Decision{}, fmt.Errorf("%w: %d permits requested, window grants at most %d", ErrUnsatisfiable, n, f.capacity)
	}

	s = f.roll(s, now)
	if s.Count+n <= f.capacity {
		s.Count += n
		return s, Decision{Allowed: true, Remaining: f.capacity - s.Count}, nil
	}

	return s, Decision{
		Remaining:  f.capacity - s.Count,
		RetryAfter: s.WindowStart.Add(f.window).Sub(now),
	}, nil
}

func (f fixedWindowLimiter) project(s State, now time.Time) Decision {
	s = f.roll(s, now)
	d := Decision{Allowed: s.Count < f.capacity, Remaining: f.capacity - s.Count}
	if !d.Allowed {
		d.RetryAfter = s.WindowStart.Add(f.window).Sub(now)
	}
	return d
}

// roll resets the counter when now has moved past the window holding s.
func (f fixedWindowLimiter) roll(s State, now time.Time) State {
	start := now.Truncate(f.window)
	if s.WindowStart.Equal(start) {
		return s
	}
	return State{WindowStart: start}
}
