package engine

import (
	"context"
	"sync"
)

// A held row lock. released is closed when the holder lets go.
type rowLock struct {
	holder   *Transaction
	released chan struct{}
}

// ResourceLockManager hands out exclusive row locks. A request for a row
// held by another transaction waits until the holder commits or rolls back,
// the context ends, or the wait would close a cycle in the waits-for graph.
type ResourceLockManager struct {
	locks map[Resource]*rowLock
	graph *WaitsForGraph
	mtx   sync.Mutex
}

func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[Resource]*rowLock),
		graph: NewGraph(),
	}
}

// Lock the resource for t. Returns ErrDeadlock if waiting would deadlock,
// or the context's error if the wait is cut short.
func (lm *ResourceLockManager) Lock(ctx context.Context, t *Transaction, r Resource) error {
	for {
		lm.mtx.Lock()
		lock, found := lm.locks[r]
		if !found {
			lm.locks[r] = &rowLock{holder: t, released: make(chan struct{})}
			t.lockedResources[r] = struct{}{}
			lm.mtx.Unlock()
			return nil
		}
		if lock.holder == t {
			lm.mtx.Unlock()
			return nil
		}
		holder, released := lock.holder, lock.released
		lm.graph.AddEdge(t, holder)
		if lm.graph.DetectCycle() {
			lm.graph.RemoveEdge(t, holder)
			lm.mtx.Unlock()
			return ErrDeadlock
		}
		lm.mtx.Unlock()

		select {
		case <-released:
			lm.graph.RemoveEdge(t, holder)
		case <-ctx.Done():
			lm.graph.RemoveEdge(t, holder)
			return ctx.Err()
		}
	}
}

// Holder returns the transaction holding r, if any.
func (lm *ResourceLockManager) Holder(r Resource) (*Transaction, bool) {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	lock, found := lm.locks[r]
	if !found {
		return nil, false
	}
	return lock.holder, true
}

// ReleaseAll unlocks every resource t holds and wakes their waiters.
func (lm *ResourceLockManager) ReleaseAll(t *Transaction) {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	for r := range t.lockedResources {
		if lock, found := lm.locks[r]; found && lock.holder == t {
			close(lock.released)
			delete(lm.locks, r)
		}
		delete(t.lockedResources, r)
	}
	lm.graph.RemoveTransaction(t)
}
