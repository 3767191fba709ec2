// Package store provides Store implementations for the rate limiting engine:
// a sharded in-process map for single-instance deployments and a Redis
// backend for sharing one budget across instances.
package store

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/aryangodara/rate_limiter_engine"
)

const defaultShardCount = 256

var (
	_ rate_limiter_engine.Store       = &Memory{}
	_ rate_limiter_engine.AtomicStore = &Memory{}
	_ rate_limiter_engine.IdleDeleter = &Memory{}
)

type shard struct {
	mu      paddedMutex
	entries map[string]rate_limiter_engine.Entry
}

// Memory is an in-process Store partitioned into shards by a hash of the key,
// each shard guarded by its own mutex, so high key cardinality does not
// funnel through a single lock. State is held and handed out by value.
type Memory struct {
	shards []shard
	count  uint64
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithShardCount sets the number of shards. Values below one keep the default.
func WithShardCount(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.count = uint64(n)
		}
	}
}

// NewMemory creates an empty sharded in-process store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{count: defaultShardCount}
	for _, opt := range opts {
		opt(m)
	}

	m.shards = make([]shard, m.count)
	for i := range m.shards {
		m.shards[i].entries = make(map[string]rate_limiter_engine.Entry)
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	return &m.shards[xxhash.Sum64String(key)%m.count]
}

// Load returns a copy of the entry for key.
func (m *Memory) Load(ctx context.Context, key string) (rate_limiter_engine.Entry, bool, error) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	return e, ok, nil
}

// CompareAndSwap writes state if the stored version still equals oldVersion.
// A missing key matches version 0.
func (m *Memory) CompareAndSwap(ctx context.Context, key string, oldVersion uint64, state rate_limiter_engine.State, now time.Time) (bool, error) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.entries[key]
	if !ok {
		if oldVersion != 0 {
			return false, nil
		}
		sh.entries[key] = rate_limiter_engine.Entry{State: state, Version: 1, LastAccess: now}
		return true, nil
	}

	if current.Version != oldVersion {
		return false, nil
	}
	sh.entries[key] = rate_limiter_engine.Entry{State: state, Version: current.Version + 1, LastAccess: now}
	return true, nil
}

// Update runs fn under the key's shard lock: one atomic read-decide-write
// cycle with no compare-and-swap retry. Denied decisions (persist=false)
// still refresh the entry's last access so active keys are not evicted.
func (m *Memory) Update(ctx context.Context, key string, now time.Time, fn rate_limiter_engine.UpdateFunc) error {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.entries[key]
	next, persist, err := fn(current, ok)
	if err != nil {
		return err
	}

	if persist {
		sh.entries[key] = rate_limiter_engine.Entry{State: next, Version: current.Version + 1, LastAccess: now}
	} else if ok {
		current.LastAccess = now
		sh.entries[key] = current
	}
	return nil
}

// Delete removes the entry for key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.entries, key)
	return nil
}

// DeleteIdle removes key only if its last access is still before olderThan,
// re-checked under the shard lock so a request racing the eviction sweep
// keeps its state.
func (m *Memory) DeleteIdle(ctx context.Context, key string, olderThan time.Time) (bool, error) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || !e.LastAccess.Before(olderThan) {
		return false, nil
	}
	delete(sh.entries, key)
	return true, nil
}

// ScanIdle returns the keys whose last access is before olderThan.
func (m *Memory) ScanIdle(ctx context.Context, olderThan time.Time) ([]string, error) {
	var keys []string
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.LastAccess.Before(olderThan) {
				keys = append(keys, key)
			}
		}
		sh.mu.Unlock()
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
