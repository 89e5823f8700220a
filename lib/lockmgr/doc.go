// Package lockmgr implements exclusive, owner based key locks for the
// transactional store engines. A lock is identified by a string key and held
// by an owner (a uint64, typically the id of a root transaction).
//
// Core Functionality:
//   - Re-entrant acquisition: an owner acquiring a key it already holds succeeds
//   - Bounded waiting: a conflicting Acquire waits at most the given timeout
//   - Deadlock detection: before waiting, the wait-for chain starting at the
//     current holder is followed; if it leads back to the requester the
//     request fails immediately with ErrDeadlock instead of waiting
//   - Bulk release: ReleaseAll drops every lock of an owner, which is what a
//     transaction does when it commits or aborts
//
// Implementation Approach:
//
//	All state is guarded by a single mutex. Waiters block on a per-key channel
//	that is closed when the key is released, and then compete for the lock
//	again. There is no fairness guarantee between waiters.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager()
//
//	if err := locks.Acquire(txnID, "users/alice", time.Second); err != nil {
//	    // errors.Is(err, lockmgr.ErrDeadlock) or lockmgr.ErrTimeout
//	}
//	defer locks.ReleaseAll(txnID)
package lockmgr
