package rate_limiter_engine

import "time"

// Clock supplies the current time to the engine. Injecting a Clock makes
// time-dependent behavior deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
