package rate_limiter_engine

import (
	"context"
	"sync"
	"time"
)

// Evictor periodically removes key state that has been idle longer than its
// TTL, bounding the memory held for keys that stopped sending requests. It
// runs independently of request traffic and shares the Store's locking
// discipline: when the Store supports IdleDeleter, idleness is re-checked
// under the store's own lock immediately before the delete, so a request
// arriving between the scan and the delete keeps its state.
type Evictor struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	clock    Clock

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	started   bool
}

// NewEvictor creates an evictor sweeping the store every interval for keys
// idle longer than ttl. A non-positive interval defaults to one minute; a nil
// clock defaults to the system clock.
func NewEvictor(store Store, ttl, interval time.Duration, clock Clock) *Evictor {
	if interval <= 0 {
		interval = time.Minute
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Evictor{
		store:    store,
		ttl:      ttl,
		interval: interval,
		clock:    clock,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop. Calling Start more than once has
// no effect.
func (e *Evictor) Start() {
	e.startOnce.Do(func() {
		e.started = true
		go e.run()
	})
}

// Stop signals the sweep loop to exit and waits for it to finish. Safe to
// call multiple times.
func (e *Evictor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	if e.started {
		<-e.done
	}
}

func (e *Evictor) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = e.Sweep(context.Background())
		case <-e.stop:
			return
		}
	}
}

// Sweep scans the store once and deletes every key idle longer than the TTL,
// returning how many were evicted.
func (e *Evictor) Sweep(ctx context.Context) (int, error) {
	cutoff := e.clock.Now().Add(-e.ttl)

	keys, err := e.store.ScanIdle(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleter, hasIdleDelete := e.store.(IdleDeleter)

	evicted := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}

		if hasIdleDelete {
			removed, err := deleter.DeleteIdle(ctx, key, cutoff)
			if err != nil {
				return evicted, err
			}
			if removed {
				evicted++
			}
			continue
		}

		if err := e.store.Delete(ctx, key); err != nil {
			return evicted, err
		}
		evicted++
	}

	return evicted, nil
}
