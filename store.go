package rate_limiter_engine

import (
	"context"
	"time"
)

// State is the per-key accounting record persisted by a Store. Only the
// fields used by the configured strategy are meaningful; the rest stay at
// their zero values.
type State struct {
	// Fixed and sliding window counters.
	Count       int       `json:"count,omitempty"`
	PrevCount   int       `json:"prev_count,omitempty"`
	WindowStart time.Time `json:"window_start"`

	// Token bucket balance. Tokens is fractional so that slow refill rates
	// never lose permits to rounding.
	Tokens     float64   `json:"tokens,omitempty"`
	LastRefill time.Time `json:"last_refill"`

	// Leaky bucket queue. LeakCarry holds the fractional part of leaked
	// permits carried forward between recomputations.
	Queued    int       `json:"queued,omitempty"`
	LeakCarry float64   `json:"leak_carry,omitempty"`
	LastLeak  time.Time `json:"last_leak"`
}

// Entry is a versioned State as held by a Store. The version is a per-key
// sequence number bumped on every successful write, so compare-and-swap can
// detect stale reads without deep state comparison.
type Entry struct {
	State      State
	Version    uint64
	LastAccess time.Time
}

// Store holds per-key limiter state. Implementations must be safe for
// concurrent use and must hand out state by value, never by reference.
type Store interface {
	// Load returns the entry for key, reporting whether it exists.
	Load(ctx context.Context, key string) (Entry, bool, error)

	// CompareAndSwap writes state if the stored version still equals
	// oldVersion. A missing key matches oldVersion 0. It reports whether the
	// swap happened; callers retry by re-Loading on false.
	CompareAndSwap(ctx context.Context, key string, oldVersion uint64, state State, now time.Time) (bool, error)

	// Delete removes the entry for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanIdle returns the keys whose last access is before olderThan.
	ScanIdle(ctx context.Context, olderThan time.Time) ([]string, error)
}

// UpdateFunc inspects a loaded entry and returns the state to persist.
// Returning persist=false leaves the stored state untouched (the entry's
// last-access time may still be refreshed).
type UpdateFunc func(e Entry, exists bool) (next State, persist bool, err error)

// AtomicStore is an optional Store capability: a single read-decide-write
// cycle under the store's own lock. In-process stores should implement it so
// hot keys never spin on compare-and-swap retries.
type AtomicStore interface {
	Update(ctx context.Context, key string, now time.Time, fn UpdateFunc) error
}

// IdleDeleter is an optional Store capability used by the Evictor: it deletes
// key only if it is still idle at the time of the delete, closing the race
// between an idle scan and a concurrent request.
type IdleDeleter interface {
	DeleteIdle(ctx context.Context, key string, olderThan time.Time) (bool, error)
}
