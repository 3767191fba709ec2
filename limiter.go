// Package rate_limiter_engine decides, for a stream of requests identified by
// a key, whether to admit or reject each request against a quota defined over
// time. Strategies, storage backends and the clock are all pluggable.
package rate_limiter_engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// casMaxAttempts bounds compare-and-swap retries on a hot key before the call
// surfaces ErrContended.
const casMaxAttempts = 3

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Remaining is the number of permits left in the current accounting period.
	Remaining int

	// RetryAfter is the duration until at least one permit becomes available.
	// Zero when the request was allowed.
	RetryAfter time.Duration
}

// strategy is the single entry point of each admission algorithm. decide and
// project are pure: no I/O, no locking, state in by value and out by value.
type strategy interface {
	// decide computes the admission decision and the resulting state.
	decide(s State, now time.Time, n int) (State, Decision, error)

	// project computes the decision a single-permit request would receive,
	// without consuming anything.
	project(s State, now time.Time) Decision

	// limit is the maximum number of permits the strategy can hold at once.
	limit() int
}

func (f fixedWindowLimiter) limit() int   { return f.capacity }
func (w slidingWindowLimiter) limit() int { return w.capacity }
func (t tokenBucketLimiter) limit() int   { return t.capacity + t.burst }
func (b leakyBucketLimiter) limit() int   { return b.depth }

// Limiter combines a Clock, a Store and a strategy into a concurrent-safe
// admission check per key.
type Limiter struct {
	config   LimiterConfig
	strategy strategy
	store    Store
	clock    Clock
	hooks    Hooks
}

// NewLimiter creates a limiter from an immutable configuration, a state store
// and a clock. A nil clock defaults to the system clock. The strategy is
// resolved once here, never per call.
func NewLimiter(config LimiterConfig, store Store, clock Clock) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if clock == nil {
		clock = SystemClock{}
	}

	hooks := config.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}

	var s strategy
	switch config.Strategy {
	case FixedWindow:
		s = fixedWindowLimiter{capacity: config.Capacity, window: config.Window}
	case SlidingWindow:
		s = slidingWindowLimiter{capacity: config.Capacity, window: config.Window}
	case TokenBucket:
		s = tokenBucketLimiter{capacity: config.Capacity, burst: config.Burst, refillRate: config.RefillRate}
	case LeakyBucket:
		s = leakyBucketLimiter{depth: config.QueueDepth, leakRate: config.RefillRate}
	}

	return &Limiter{
		config:   config,
		strategy: s,
		store:    store,
		clock:    clock,
		hooks:    hooks,
	}, nil
}

// Allow checks whether a single request is admitted for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN checks whether n permits are admitted for key, consuming them if so.
// Per-request errors are returned alongside a best-effort Decision determined
// by the FailurePolicy, except ErrInvalidRequestSize and ErrUnsatisfiable,
// which are always denials.
func (l *Limiter) AllowN(ctx context.Context, key string, n int) (Decision, error) {
	if n <= 0 {
		return Decision{}, fmt.Errorf("%w: got %d", ErrInvalidRequestSize, n)
	}

	if store, ok := l.store.(AtomicStore); ok {
		return l.allowAtomic(ctx, store, key, n)
	}
	return l.allowCAS(ctx, key, n)
}

// allowAtomic runs the read-decide-write cycle under the store's own lock.
func (l *Limiter) allowAtomic(ctx context.Context, store AtomicStore, key string, n int) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return l.degraded(), fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	now := l.clock.Now()
	var d Decision
	err := store.Update(ctx, key, now, func(e Entry, exists bool) (State, bool, error) {
		next, decision, err := l.strategy.decide(e.State, now, n)
		d = decision
		if err != nil {
			return State{}, false, err
		}
		return next, decision.Allowed, nil
	})
	if err != nil {
		if errors.Is(err, ErrUnsatisfiable) {
			return d, err
		}
		return l.storeFailure(err)
	}

	l.hooks.OnDecision(key, d)
	return d, nil
}

// allowCAS loads, decides and compare-and-swaps, retrying a bounded number of
// times when a concurrent update for the same key wins the race.
func (l *Limiter) allowCAS(ctx context.Context, key string, n int) (Decision, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return l.degraded(), fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		entry, exists, err := l.store.Load(ctx, key)
		if err != nil {
			return l.storeFailure(err)
		}
		if !exists {
			entry = Entry{}
		}

		now := l.clock.Now()
		next, d, err := l.strategy.decide(entry.State, now, n)
		if err != nil {
			return d, err
		}

		if !d.Allowed {
			// Denials persist nothing: denied calls must not mutate state.
			l.hooks.OnDecision(key, d)
			return d, nil
		}

		swapped, err := l.store.CompareAndSwap(ctx, key, entry.Version, next, now)
		if err != nil {
			return l.storeFailure(err)
		}
		if swapped {
			l.hooks.OnDecision(key, d)
			return d, nil
		}
	}

	return l.degraded(), fmt.Errorf("%w: %q after %d attempts", ErrContended, key, casMaxAttempts)
}

// Peek reports the decision a single-permit request would currently receive,
// without consuming permits or advancing any stored timestamps.
func (l *Limiter) Peek(ctx context.Context, key string) (Decision, error) {
	entry, exists, err := l.store.Load(ctx, key)
	if err != nil {
		return l.storeFailure(err)
	}
	if !exists {
		entry = Entry{}
	}
	return l.strategy.project(entry.State, l.clock.Now()), nil
}

// Reset removes the state for key immediately, e.g. as an administrative
// override on logout.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		l.hooks.OnStoreError(err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Limit returns the maximum number of permits the configured strategy can
// grant at once, for callers exposing rate limit headers.
func (l *Limiter) Limit() int {
	return l.strategy.limit()
}

// EvictionTTL returns the idle TTL applicable to this limiter's key state.
func (l *Limiter) EvictionTTL() time.Duration {
	return l.config.EvictionTTL()
}

// degraded synthesizes the decision dictated by the failure policy.
func (l *Limiter) degraded() Decision {
	return Decision{Allowed: l.config.FailurePolicy == FailOpen}
}

func (l *Limiter) storeFailure(err error) (Decision, error) {
	l.hooks.OnStoreError(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return l.degraded(), fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return l.degraded(), fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
