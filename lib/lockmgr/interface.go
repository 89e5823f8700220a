package lockmgr

import (
	"errors"
	"time"
)

var (
	// ErrDeadlock is returned when waiting for a lock would close a wait-for cycle.
	ErrDeadlock = errors.New("lockmgr: deadlock detected")
	// ErrTimeout is returned when a lock could not be acquired within the timeout.
	ErrTimeout = errors.New("lockmgr: lock wait timed out")
)

// ILockManager defines the interface for a lock manager.
// Locks are exclusive and re-entrant per owner.
type ILockManager interface {
	// Acquire acquires the lock for key on behalf of owner, waiting at most timeout.
	// A timeout <= 0 does not wait at all.
	// Returns ErrDeadlock or ErrTimeout if the lock could not be acquired.
	Acquire(owner uint64, key string, timeout time.Duration) (err error)

	// Release releases the lock for key if it is held by owner.
	Release(owner uint64, key string)

	// ReleaseAll releases every lock held by owner.
	ReleaseAll(owner uint64)

	// Holder returns the current owner of the lock for key.
	Holder(key string) (owner uint64, ok bool)
}
