package ldbstore

import (
	"sync"

	"github.com/ValentinKolb/dbRPC/lib/store"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/memdb"
)

// Overlay values are prefixed with a tag byte, deletes are kept as tombstones
// so they hide the record in the layers below
const (
	tagPut    byte = 0
	tagDelete byte = 1
)

// txnImpl is a transaction. Reads see a snapshot of every database taken on
// first access plus the writes of the transaction and its ancestors. Writes
// are buffered in an ordered overlay per database and only reach leveldb
// when the root transaction commits.
//
// All transactions of one tree share the mutex of the root.
type txnImpl struct {
	env    *envImpl
	id     uint64
	parent *txnImpl
	root   *txnImpl

	mu sync.Mutex // only used on the root

	// guarded by root.mu
	overlays  map[*sharedDB]*memdb.DB
	snapshots map[*sharedDB]*leveldb.Snapshot // root only
	touched   map[*sharedDB]struct{}          // root only
	children  int
	done      bool
}

func newRootTxn(env *envImpl) *txnImpl {
	t := &txnImpl{
		env:       env,
		id:        env.nextTxnID.Add(1),
		overlays:  make(map[*sharedDB]*memdb.DB),
		snapshots: make(map[*sharedDB]*leveldb.Snapshot),
		touched:   make(map[*sharedDB]struct{}),
	}
	t.root = t
	return t
}

// begin starts a nested transaction under t
func (t *txnImpl) begin() (*txnImpl, error) {
	t.root.mu.Lock()
	defer t.root.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return nil, err
	}

	child := &txnImpl{
		env:      t.env,
		id:       t.env.nextTxnID.Add(1),
		parent:   t,
		root:     t.root,
		overlays: make(map[*sharedDB]*memdb.DB),
	}
	t.children++
	return child, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (t *txnImpl) ID() uint64 {
	return t.id
}

func (t *txnImpl) Parent() store.Txn {
	if t.parent == nil {
		return nil
	}
	return t.parent
}

func (t *txnImpl) Commit() error {
	t.root.mu.Lock()
	defer t.root.mu.Unlock()

	if err := t.checkResolvable(); err != nil {
		return err
	}

	// Nested: hand the writes to the parent
	if t.parent != nil {
		for shared, overlay := range t.overlays {
			target := t.parent.overlayFor(shared)
			it := overlay.NewIterator(nil)
			for it.Next() {
				if err := target.Put(it.Key(), it.Value()); err != nil {
					it.Release()
					return wrapErr(err, "merge nested transaction %d into %d", t.id, t.parent.id)
				}
			}
			it.Release()
		}
		t.parent.children--
		t.done = true
		t.overlays = nil
		return nil
	}

	// Root: write one batch per database
	var firstErr error
	for shared, overlay := range t.overlays {
		batch := new(leveldb.Batch)
		it := overlay.NewIterator(nil)
		for it.Next() {
			value := it.Value()
			if value[0] == tagDelete {
				batch.Delete(it.Key())
			} else {
				batch.Put(it.Key(), value[1:])
			}
		}
		it.Release()

		if err := shared.ldb.Write(batch, nil); err != nil && firstErr == nil {
			firstErr = wrapErr(err, "commit transaction %d to %s", t.id, shared.name)
		}
	}

	t.finish()
	return firstErr
}

func (t *txnImpl) Abort() error {
	t.root.mu.Lock()
	defer t.root.mu.Unlock()

	if err := t.checkResolvable(); err != nil {
		return err
	}

	if t.parent != nil {
		t.parent.children--
		t.done = true
		t.overlays = nil
		return nil
	}

	t.finish()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods (caller must hold root.mu unless noted)
// --------------------------------------------------------------------------

func (t *txnImpl) checkActive() error {
	if t.done {
		return store.Errorf(store.RetCInvalidOperation, "transaction %d already terminated", t.id)
	}
	return nil
}

func (t *txnImpl) checkResolvable() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if t.children > 0 {
		return store.Errorf(store.RetCInvalidOperation, "transaction %d has %d unresolved child transaction(s)", t.id, t.children)
	}
	return nil
}

// finish releases every resource held by a root transaction
func (t *txnImpl) finish() {
	for shared, snapshot := range t.snapshots {
		snapshot.Release()
		delete(t.snapshots, shared)
	}
	t.env.locks.ReleaseAll(t.id)

	t.env.mu.Lock()
	for shared := range t.touched {
		shared.txnRefs--
	}
	t.env.mu.Unlock()

	t.touched = nil
	t.overlays = nil
	t.done = true
}

// touch records that the root transaction depends on shared
func (t *txnImpl) touch(shared *sharedDB) {
	root := t.root
	if _, ok := root.touched[shared]; ok {
		return
	}
	root.touched[shared] = struct{}{}

	t.env.mu.Lock()
	shared.txnRefs++
	t.env.mu.Unlock()
}

func (t *txnImpl) overlayFor(shared *sharedDB) *memdb.DB {
	overlay, ok := t.overlays[shared]
	if !ok {
		overlay = memdb.New(comparer.DefaultComparer, 0)
		t.overlays[shared] = overlay
	}
	return overlay
}

func (t *txnImpl) snapshotFor(shared *sharedDB) (*leveldb.Snapshot, error) {
	root := t.root
	if snapshot, ok := root.snapshots[shared]; ok {
		return snapshot, nil
	}
	snapshot, err := shared.ldb.GetSnapshot()
	if err != nil {
		return nil, wrapErr(err, "snapshot of %s", shared.name)
	}
	root.snapshots[shared] = snapshot
	t.touch(shared)
	return snapshot, nil
}

// lookup reads key through the overlays of t and its ancestors and finally the snapshot
func (t *txnImpl) lookup(shared *sharedDB, key []byte) ([]byte, bool, error) {
	for current := t; current != nil; current = current.parent {
		overlay, ok := current.overlays[shared]
		if !ok {
			continue
		}
		value, err := overlay.Get(key)
		if err == nil {
			if value[0] == tagDelete {
				return nil, false, nil
			}
			return append([]byte(nil), value[1:]...), true, nil
		}
	}

	snapshot, err := t.snapshotFor(shared)
	if err != nil {
		return nil, false, err
	}
	value, err := snapshot.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr(err, "get %q from %s", key, shared.name)
	}
	return value, true, nil
}

// write buffers a put or a delete in the overlay of t
func (t *txnImpl) write(shared *sharedDB, key, value []byte, del bool) error {
	tagged := make([]byte, 1+len(value))
	if del {
		tagged[0] = tagDelete
	} else {
		tagged[0] = tagPut
		copy(tagged[1:], value)
	}
	t.touch(shared)
	return wrapErr(t.overlayFor(shared).Put(key, tagged), "buffer write of %q for %s", key, shared.name)
}

// lockForWrite takes the write lock of key for the root transaction.
// Must be called without holding root.mu.
func (t *txnImpl) lockForWrite(shared *sharedDB, key []byte) error {
	t.root.mu.Lock()
	err := t.checkActive()
	t.root.mu.Unlock()
	if err != nil {
		return err
	}
	lk := lockKey(shared.name, key)
	if err := t.env.locks.Acquire(t.root.id, lk, t.env.opts.LockTimeout); err != nil {
		return wrapErr(err, "lock %q in %s for transaction %d", key, shared.name, t.root.id)
	}
	return nil
}

// ensure interface compliance
var _ store.Txn = (*txnImpl)(nil)
