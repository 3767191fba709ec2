package rate_limiter_engine

import (
	"fmt"
	"time"
)

// Strategy selects the admission algorithm for a limiter instance.
type Strategy int

const (
	FixedWindow Strategy = iota
	SlidingWindow
	TokenBucket
	LeakyBucket
)

var strategyNames = map[Strategy]string{
	FixedWindow:   "fixed_window",
	SlidingWindow: "sliding_window",
	TokenBucket:   "token_bucket",
	LeakyBucket:   "leaky_bucket",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// UnmarshalText parses a strategy name such as "token_bucket".
func (s *Strategy) UnmarshalText(text []byte) error {
	for strategy, name := range strategyNames {
		if name == string(text) {
			*s = strategy
			return nil
		}
	}
	return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, text)
}

// FailurePolicy governs the decision handed back when the Store is
// unavailable. The zero value is deliberately invalid: deployments must
// choose fail-open or fail-closed explicitly.
type FailurePolicy int

const (
	FailUnspecified FailurePolicy = iota
	FailOpen
	FailClosed
)

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail_open"
	case FailClosed:
		return "fail_closed"
	default:
		return "unspecified"
	}
}

// UnmarshalText parses "fail_open" or "fail_closed".
func (p *FailurePolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "fail_open":
		*p = FailOpen
	case "fail_closed":
		*p = FailClosed
	default:
		return fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, text)
	}
	return nil
}

// LimiterConfig holds the immutable configuration of one logical limiter.
type LimiterConfig struct {
	// Strategy selects the admission algorithm.
	Strategy Strategy

	// Capacity is the maximum permits per window (window strategies) or the
	// steady-state bucket size (token bucket).
	Capacity int

	// Window is the accounting period for the window strategies.
	Window time.Duration

	// RefillRate is the number of permits granted per second. It refills the
	// token bucket and drains the leaky bucket. A token bucket with
	// RefillRate 0 never refills.
	RefillRate float64

	// Burst is extra token bucket capacity above Capacity allowed
	// instantaneously.
	Burst int

	// QueueDepth is the maximum backlog of the leaky bucket.
	QueueDepth int

	// FailurePolicy decides between admitting and rejecting traffic when the
	// Store is unreachable. It must be set explicitly.
	FailurePolicy FailurePolicy

	// IdleTTL overrides the eviction TTL for idle key state. When zero, the
	// default is max(Window, Capacity/RefillRate) x 4.
	IdleTTL time.Duration

	// Hooks receives decision outcomes and store failures. Nil means no-op.
	Hooks Hooks
}

// Validate checks the configuration for the selected strategy.
func (c LimiterConfig) Validate() error {
	if c.FailurePolicy != FailOpen && c.FailurePolicy != FailClosed {
		return fmt.Errorf("%w: failure policy must be fail_open or fail_closed", ErrInvalidConfig)
	}

	switch c.Strategy {
	case FixedWindow, SlidingWindow:
		if c.Capacity <= 0 {
			return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
		}
		if c.Window <= 0 {
			return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, c.Window)
		}
	case TokenBucket:
		if c.Capacity <= 0 {
			return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
		}
		if c.RefillRate < 0 {
			return fmt.Errorf("%w: refill rate must be non-negative, got %v", ErrInvalidConfig, c.RefillRate)
		}
		if c.Burst < 0 {
			return fmt.Errorf("%w: burst must be non-negative, got %d", ErrInvalidConfig, c.Burst)
		}
	case LeakyBucket:
		if c.QueueDepth <= 0 {
			return fmt.Errorf("%w: queue depth must be positive, got %d", ErrInvalidConfig, c.QueueDepth)
		}
		if c.RefillRate <= 0 {
			return fmt.Errorf("%w: refill rate must be positive, got %v", ErrInvalidConfig, c.RefillRate)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %v", ErrInvalidConfig, c.Strategy)
	}

	return nil
}

// EvictionTTL returns the idle TTL after which key state may be evicted:
// IdleTTL when set, otherwise max(Window, Capacity/RefillRate) x 4.
func (c LimiterConfig) EvictionTTL() time.Duration {
	if c.IdleTTL > 0 {
		return c.IdleTTL
	}

	ttl := c.Window
	if c.RefillRate > 0 {
		permits := c.Capacity
		if c.Strategy == LeakyBucket {
			permits = c.QueueDepth
		}
		if drain := time.Duration(float64(permits) / c.RefillRate * float64(time.Second)); drain > ttl {
			ttl = drain
		}
	}
	if ttl <= 0 {
		// Token bucket with no refill and no window: nothing to base the TTL
		// on, fall back to a minute.
		ttl = time.Minute
	}
	return 4 * ttl
}
