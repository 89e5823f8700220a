package lockmgr

import (
	"sync"
	"time"
)

type lockMgrImpl struct {
	mu       sync.Mutex
	holders  map[string]uint64              // key -> owner
	owned    map[uint64]map[string]struct{} // owner -> keys
	waitsFor map[uint64]uint64              // waiting owner -> owner it waits for
	wakeups  map[string]chan struct{}       // closed when the lock for key is released
}

// NewLockManager creates a new in-memory lock manager.
func NewLockManager() ILockManager {
	return &lockMgrImpl{
		holders:  make(map[string]uint64),
		owned:    make(map[uint64]map[string]struct{}),
		waitsFor: make(map[uint64]uint64),
		wakeups:  make(map[string]chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) Acquire(owner uint64, key string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	lm.mu.Lock()
	for {
		holder, held := lm.holders[key]

		// Free or already ours -> take it
		if !held || holder == owner {
			lm.grant(owner, key)
			lm.mu.Unlock()
			return nil
		}

		// Waiting would close a cycle
		if lm.wouldDeadlock(owner, holder) {
			delete(lm.waitsFor, owner)
			lm.mu.Unlock()
			return ErrDeadlock
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			delete(lm.waitsFor, owner)
			lm.mu.Unlock()
			return ErrTimeout
		}

		// Register as waiter and block until the key is released or we time out
		lm.waitsFor[owner] = holder
		wakeup := lm.wakeupChan(key)
		lm.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-wakeup:
			timer.Stop()
		case <-timer.C:
			lm.mu.Lock()
			delete(lm.waitsFor, owner)
			lm.mu.Unlock()
			return ErrTimeout
		}

		lm.mu.Lock()
	}
}

func (lm *lockMgrImpl) Release(owner uint64, key string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if holder, ok := lm.holders[key]; !ok || holder != owner {
		return
	}
	lm.releaseKey(owner, key)
}

func (lm *lockMgrImpl) ReleaseAll(owner uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for key := range lm.owned[owner] {
		lm.releaseKey(owner, key)
	}
	delete(lm.owned, owner)
	delete(lm.waitsFor, owner)
}

func (lm *lockMgrImpl) Holder(key string) (uint64, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	owner, ok := lm.holders[key]
	return owner, ok
}

// --------------------------------------------------------------------------
// Helper Methods (caller must hold lm.mu)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) grant(owner uint64, key string) {
	lm.holders[key] = owner
	keys, ok := lm.owned[owner]
	if !ok {
		keys = make(map[string]struct{})
		lm.owned[owner] = keys
	}
	keys[key] = struct{}{}
	delete(lm.waitsFor, owner)
}

func (lm *lockMgrImpl) releaseKey(owner uint64, key string) {
	delete(lm.holders, key)
	if keys, ok := lm.owned[owner]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(lm.owned, owner)
		}
	}
	if wakeup, ok := lm.wakeups[key]; ok {
		close(wakeup)
		delete(lm.wakeups, key)
	}
}

func (lm *lockMgrImpl) wakeupChan(key string) chan struct{} {
	wakeup, ok := lm.wakeups[key]
	if !ok {
		wakeup = make(chan struct{})
		lm.wakeups[key] = wakeup
	}
	return wakeup
}

// wouldDeadlock follows the wait-for chain starting at holder and reports
// whether it leads back to owner.
func (lm *lockMgrImpl) wouldDeadlock(owner, holder uint64) bool {
	current := holder
	for i := 0; i <= len(lm.waitsFor); i++ {
		if current == owner {
			return true
		}
		next, waiting := lm.waitsFor[current]
		if !waiting {
			return false
		}
		current = next
	}
	return false
}
