package agent

import (
	"context"
	"sync"
)

// LockTable serializes work per session. Waiters are granted the lock in the
// order they asked for it, and a waiter whose context ends leaves the queue.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	waiters []chan struct{}
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the lock for key is held or ctx is done. The returned
// func releases it and must be called exactly once.
func (t *LockTable) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	e, held := t.entries[key]
	if !held {
		t.entries[key] = &lockEntry{}
		t.mu.Unlock()
		return t.releaser(key), nil
	}
	ready := make(chan struct{})
	e.waiters = append(e.waiters, ready)
	t.mu.Unlock()

	select {
	case <-ready:
		return t.releaser(key), nil
	case <-ctx.Done():
		t.mu.Lock()
		for i, w := range e.waiters {
			if w == ready {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				t.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		t.mu.Unlock()
		// Granted while giving up: pass it on.
		t.release(key)
		return nil, ctx.Err()
	}
}

func (t *LockTable) releaser(key string) func() {
	var once sync.Once
	return func() { once.Do(func() { t.release(key) }) }
}

func (t *LockTable) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return
	}
	if len(e.waiters) == 0 {
		delete(t.entries, key)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	close(next)
}

// Held returns the number of keys currently locked.
func (t *LockTable) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
