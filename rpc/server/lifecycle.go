package server

import (
	"github.com/ValentinKolb/dbRPC/lib/handle"
	"github.com/ValentinKolb/dbRPC/lib/store"
)

// The functions below tear down entries that were already removed from the
// handle table. Every entry is quiesced first, so no request still uses the
// resource when it is closed.

// closeCursor closes the store cursor of a released entry
func closeCursor(e *handle.Entry) error {
	e.Quiesce()
	return e.Resource.(store.Cursor).Close()
}

// endTxn resolves a detached transaction: cursors are closed first, then the
// nested transactions (children before parents) and the transaction itself are
// committed or aborted. If a commit fails, every transaction not yet resolved
// is aborted and the error of the failed commit is returned.
func endTxn(detached handle.Detached, commit bool) error {
	for _, c := range detached.Cursors {
		if err := closeCursor(c); err != nil {
			Logger.Warningf("failed to close cursor %d: %v", c.ID, err)
		}
	}

	var result error
	for _, e := range detached.Txns {
		e.Quiesce()
		txn := e.Resource.(store.Txn)

		if commit && result == nil {
			if err := txn.Commit(); err != nil {
				result = err
				// a failed commit leaves the transaction open
				_ = txn.Abort()
			}
			continue
		}

		if err := txn.Abort(); err != nil {
			Logger.Warningf("failed to abort txn %d: %v", e.ID, err)
			if result == nil && !commit {
				result = err
			}
		}
	}
	return result
}

// teardown releases the store resources of entries detached from a connection
func (d *Dispatcher) teardown(detached handle.Detached) {
	for _, c := range detached.Cursors {
		if err := closeCursor(c); err != nil {
			Logger.Warningf("failed to close cursor %d: %v", c.ID, err)
		}
	}

	for _, e := range detached.Txns {
		e.Quiesce()
		if err := e.Resource.(store.Txn).Abort(); err != nil {
			Logger.Warningf("failed to abort txn %d: %v", e.ID, err)
		}
	}

	for _, e := range detached.DBs {
		var err error
		e.Exclusive(func() {
			err = e.Resource.(store.Database).Close()
		})
		if err != nil {
			Logger.Warningf("failed to close database %d: %v", e.ID, err)
		}
	}
}
