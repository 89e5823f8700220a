package ldbstore

import (
	"sync/atomic"

	"github.com/ValentinKolb/dbRPC/lib/store"
)

// dbImpl is one open handle of a database. Several handles may share the
// same underlying leveldb instance.
type dbImpl struct {
	env      *envImpl
	shared   *sharedDB
	readOnly bool
	closed   atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (db *dbImpl) Name() string {
	return db.shared.name
}

func (db *dbImpl) Get(txn store.Txn, key []byte) ([]byte, error) {
	if err := db.checkUsable(key, false); err != nil {
		return nil, err
	}

	// Autocommit read
	if txn == nil {
		value, err := db.shared.ldb.Get(key, nil)
		if err != nil {
			return nil, wrapErr(err, "get %q from %s", key, db.Name())
		}
		return value, nil
	}

	t, err := db.env.ownTxn(txn)
	if err != nil {
		return nil, err
	}

	t.root.mu.Lock()
	defer t.root.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return nil, err
	}
	value, found, err := t.lookup(db.shared, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.Errorf(store.RetCNotFound, "key %q not found in %s", key, db.Name())
	}
	return value, nil
}

func (db *dbImpl) Put(txn store.Txn, key, value []byte, flags store.PutFlags) error {
	if err := db.checkUsable(key, true); err != nil {
		return err
	}

	if txn == nil {
		return db.autocommit(key, func() error {
			if flags&store.PutNoOverwrite != 0 {
				exists, err := db.shared.ldb.Has(key, nil)
				if err != nil {
					return wrapErr(err, "check %q in %s", key, db.Name())
				}
				if exists {
					return store.Errorf(store.RetCKeyExists, "key %q already exists in %s", key, db.Name())
				}
			}
			return wrapErr(db.shared.ldb.Put(key, value, nil), "put %q into %s", key, db.Name())
		})
	}

	t, err := db.env.ownTxn(txn)
	if err != nil {
		return err
	}

	// Take the write lock before touching the transaction state, waiting
	// for a lock must not block other operations of the same transaction tree
	if err := t.lockForWrite(db.shared, key); err != nil {
		return err
	}

	t.root.mu.Lock()
	defer t.root.mu.Unlock()

	if err := t.checkActive(); err != nil {
		// the tree terminated while we waited for the lock
		if t.root.done {
			db.env.locks.Release(t.root.id, lockKey(db.Name(), key))
		}
		return err
	}
	if flags&store.PutNoOverwrite != 0 {
		_, found, err := t.lookup(db.shared, key)
		if err != nil {
			return err
		}
		if found {
			return store.Errorf(store.RetCKeyExists, "key %q already exists in %s", key, db.Name())
		}
	}
	return t.write(db.shared, key, value, false)
}

func (db *dbImpl) Delete(txn store.Txn, key []byte) error {
	if err := db.checkUsable(key, true); err != nil {
		return err
	}

	if txn == nil {
		return db.autocommit(key, func() error {
			exists, err := db.shared.ldb.Has(key, nil)
			if err != nil {
				return wrapErr(err, "check %q in %s", key, db.Name())
			}
			if !exists {
				return store.Errorf(store.RetCNotFound, "key %q not found in %s", key, db.Name())
			}
			return wrapErr(db.shared.ldb.Delete(key, nil), "delete %q from %s", key, db.Name())
		})
	}

	t, err := db.env.ownTxn(txn)
	if err != nil {
		return err
	}
	if err := t.lockForWrite(db.shared, key); err != nil {
		return err
	}

	t.root.mu.Lock()
	defer t.root.mu.Unlock()

	if err := t.checkActive(); err != nil {
		// the tree terminated while we waited for the lock
		if t.root.done {
			db.env.locks.Release(t.root.id, lockKey(db.Name(), key))
		}
		return err
	}
	_, found, err := t.lookup(db.shared, key)
	if err != nil {
		return err
	}
	if !found {
		return store.Errorf(store.RetCNotFound, "key %q not found in %s", key, db.Name())
	}
	return t.write(db.shared, key, nil, true)
}

func (db *dbImpl) Cursor(txn store.Txn) (store.Cursor, error) {
	if db.closed.Load() {
		return nil, store.NewError(store.RetCInvalidOperation, "database handle is closed")
	}

	c := &cursorImpl{db: db}
	if txn != nil {
		t, err := db.env.ownTxn(txn)
		if err != nil {
			return nil, err
		}
		t.root.mu.Lock()
		err = t.checkActive()
		t.root.mu.Unlock()
		if err != nil {
			return nil, err
		}
		c.txn = t
	}
	return c, nil
}

func (db *dbImpl) Close() error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	if db.closed.Load() {
		return store.NewError(store.RetCInvalidOperation, "database handle is already closed")
	}

	// The last handle cannot go away while a transaction still depends on the leveldb instance
	if db.shared.refs == 1 && db.shared.txnRefs > 0 {
		return store.Errorf(store.RetCBusy, "database %s is in use by %d open transaction(s)", db.Name(), db.shared.txnRefs)
	}

	db.closed.Store(true)
	return db.env.release(db.shared)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// checkUsable validates the handle state and the key argument
func (db *dbImpl) checkUsable(key []byte, write bool) error {
	if db.closed.Load() {
		return store.NewError(store.RetCInvalidOperation, "database handle is closed")
	}
	if write && db.readOnly {
		return store.Errorf(store.RetCInvalidOperation, "database %s was opened read only", db.Name())
	}
	if len(key) == 0 {
		return store.NewError(store.RetCInvalidArgument, "key must not be empty")
	}
	return nil
}

// autocommit runs a single write under a transient lock owner, so autocommit
// writes do not interleave with the locked keys of open transactions
func (db *dbImpl) autocommit(key []byte, fn func() error) error {
	owner := db.env.nextTxnID.Add(1)
	if err := db.env.locks.Acquire(owner, lockKey(db.Name(), key), db.env.opts.LockTimeout); err != nil {
		return wrapErr(err, "lock %q in %s", key, db.Name())
	}
	defer db.env.locks.ReleaseAll(owner)
	return fn()
}

// ensure interface compliance
var _ store.Database = (*dbImpl)(nil)
