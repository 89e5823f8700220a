package ldbstore

import (
	"sync"

	"github.com/ValentinKolb/dbRPC/lib/store"
)

// cursorImpl keeps its position as a key. Records are read through a merged
// view that is rebuilt for every operation.
type cursorImpl struct {
	db  *dbImpl
	txn *txnImpl // nil for autocommit cursors

	mu       sync.Mutex
	position []byte // nil = not positioned
	closed   bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (c *cursorImpl) Get(op store.CursorOp, key []byte) ([]byte, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkUsable(); err != nil {
		return nil, nil, err
	}
	if (op == store.CursorSet || op == store.CursorSetRange) && len(key) == 0 {
		return nil, nil, store.Errorf(store.RetCInvalidArgument, "cursor %s needs a key", op)
	}

	var k, v []byte
	var found bool
	err := c.withView(func(view *mergedView) error {
		switch op {
		case store.CursorFirst:
			k, v, found = view.step(nil, forward, true)
		case store.CursorLast:
			k, v, found = view.step(nil, backward, true)
		case store.CursorNext:
			k, v, found = view.step(c.position, forward, c.position == nil)
		case store.CursorPrev:
			k, v, found = view.step(c.position, backward, c.position == nil)
		case store.CursorSetRange:
			k, v, found = view.step(key, forward, true)
		case store.CursorSet:
			var live bool
			v, live, _ = view.value(key)
			k, found = append([]byte(nil), key...), live
		case store.CursorCurrent:
			if c.position == nil {
				return store.NewError(store.RetCInvalidArgument, "cursor is not positioned")
			}
			var live bool
			v, live, _ = view.value(c.position)
			k, found = c.position, live
		default:
			return store.Errorf(store.RetCInvalidArgument, "unknown cursor operation %d", op)
		}
		return wrapErr(view.err(), "iterate %s", c.db.Name())
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, store.Errorf(store.RetCNotFound, "cursor %s: no record in %s", op, c.db.Name())
	}

	c.position = k
	return append([]byte(nil), k...), v, nil
}

func (c *cursorImpl) Put(key, value []byte, flags store.PutFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkUsable(); err != nil {
		return err
	}
	if err := c.db.Put(c.txnArg(), key, value, flags); err != nil {
		return err
	}
	c.position = append([]byte(nil), key...)
	return nil
}

func (c *cursorImpl) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkUsable(); err != nil {
		return err
	}
	if c.position == nil {
		return store.NewError(store.RetCInvalidArgument, "cursor is not positioned")
	}
	// the cursor keeps its position, Next/Prev continue from the deleted key
	return c.db.Delete(c.txnArg(), c.position)
}

func (c *cursorImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return store.NewError(store.RetCInvalidOperation, "cursor is already closed")
	}
	c.closed = true
	c.position = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *cursorImpl) checkUsable() error {
	if c.closed {
		return store.NewError(store.RetCInvalidOperation, "cursor is closed")
	}
	if c.db.closed.Load() {
		return store.NewError(store.RetCInvalidOperation, "database handle of cursor is closed")
	}
	return nil
}

// txnArg returns the transaction of the cursor as interface value (nil stays untyped)
func (c *cursorImpl) txnArg() store.Txn {
	if c.txn == nil {
		return nil
	}
	return c.txn
}

// withView builds the merged view for the cursor and runs fn with it
func (c *cursorImpl) withView(fn func(view *mergedView) error) error {
	shared := c.db.shared

	// Autocommit cursors read the live database
	if c.txn == nil {
		view := &mergedView{layers: []layer{{it: shared.ldb.NewIterator(nil, nil)}}}
		defer view.release()
		return fn(view)
	}

	t := c.txn
	t.root.mu.Lock()
	defer t.root.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return err
	}

	view := &mergedView{}
	defer view.release()

	for current := t; current != nil; current = current.parent {
		if overlay, ok := current.overlays[shared]; ok {
			view.layers = append(view.layers, layer{it: overlay.NewIterator(nil), tagged: true})
		}
	}
	snapshot, err := t.snapshotFor(shared)
	if err != nil {
		return err
	}
	view.layers = append(view.layers, layer{it: snapshot.NewIterator(nil, nil)})

	return fn(view)
}

// ensure interface compliance
var _ store.Cursor = (*cursorImpl)(nil)
