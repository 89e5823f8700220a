package handle

import (
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("handle")

// Options configures a Table
type Options struct {
	IDs IDSource         // identifier source (nil = counter starting at 1)
	Now func() time.Time // clock for connection activity (nil = time.Now)
}

// Table maps handles to live resources. It is safe for concurrent use.
type Table struct {
	ids IDSource
	now func() time.Time

	mu      sync.Mutex
	entries map[Handle]*Entry

	// parent indices (children of a handle)
	cursorsByDB  map[Handle]map[Handle]struct{}
	cursorsByTxn map[Handle]map[Handle]struct{}
	childTxns    map[Handle]map[Handle]struct{}

	byConn   map[ConnID]map[Handle]struct{}
	activity *activity
}

// NewTable creates an empty handle table
func NewTable(opts Options) *Table {
	if opts.IDs == nil {
		opts.IDs = NewCounter(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Table{
		ids:          opts.IDs,
		now:          opts.Now,
		entries:      make(map[Handle]*Entry),
		cursorsByDB:  make(map[Handle]map[Handle]struct{}),
		cursorsByTxn: make(map[Handle]map[Handle]struct{}),
		childTxns:    make(map[Handle]map[Handle]struct{}),
		byConn:       make(map[ConnID]map[Handle]struct{}),
		activity:     newActivity(),
	}
}

// --------------------------------------------------------------------------
// Allocate / Resolve / Release
// --------------------------------------------------------------------------

// Allocate registers a new resource and returns its handle. The parents named
// in req must be live, of the right kind and in the same scope.
func (t *Table) Allocate(req AllocRequest) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch req.Kind {
	case KindDatabase:
		req.DB, req.Txn = None, None
	case KindCursor:
		db, err := t.lookup(req.Scope, req.DB, KindDatabase)
		if err != nil {
			return None, err
		}
		if db.closing {
			return None, ErrBusy
		}
		if req.Txn != None {
			if _, err := t.lookup(req.Scope, req.Txn, KindTxn); err != nil {
				return None, err
			}
		}
	case KindTxn:
		req.DB = None
		if req.Txn != None {
			if _, err := t.lookup(req.Scope, req.Txn, KindTxn); err != nil {
				return None, err
			}
		}
	default:
		return None, ErrKindMismatch
	}

	e := &Entry{
		ID:       Handle(t.ids.Next()),
		Kind:     req.Kind,
		Scope:    req.Scope,
		DB:       req.DB,
		Txn:      req.Txn,
		Resource: req.Resource,
	}
	if _, exists := t.entries[e.ID]; exists || e.ID == None {
		// a broken IDSource must never alias a live handle
		Logger.Errorf("id source returned unusable handle %d", e.ID)
		return None, ErrBusy
	}

	t.entries[e.ID] = e
	switch e.Kind {
	case KindCursor:
		addIndex(t.cursorsByDB, e.DB, e.ID)
		if e.Txn != None {
			addIndex(t.cursorsByTxn, e.Txn, e.ID)
		}
	case KindTxn:
		if e.Txn != None {
			addIndex(t.childTxns, e.Txn, e.ID)
		}
	}
	addIndex(t.byConn, e.Scope.Conn, e.ID)
	t.activity.touch(e.Scope.Conn, t.now())

	return e.ID, nil
}

// Resolve returns the live entry of h
func (t *Table) Resolve(scope Scope, h Handle, kind Kind) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup(scope, h, kind)
}

// Acquire resolves h and takes a lease on it. The lease must be returned with Done.
func (t *Table) Acquire(scope Scope, h Handle, kind Kind) (*Lease, error) {
	e, err := t.Resolve(scope, h, kind)
	if err != nil {
		return nil, err
	}

	e.use.RLock()
	// a teardown may have started between lookup and lock
	if e.dead.Load() {
		e.use.RUnlock()
		return nil, ErrNotFound
	}
	return &Lease{Entry: e}, nil
}

// Release removes a single entry that has no live dependents
func (t *Table) Release(scope Scope, h Handle, kind Kind) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.lookup(scope, h, kind)
	if err != nil {
		return nil, err
	}
	if len(t.cursorsByDB[h]) > 0 || len(t.cursorsByTxn[h]) > 0 || len(t.childTxns[h]) > 0 {
		return nil, ErrBusy
	}
	t.remove(e)
	return e, nil
}

// --------------------------------------------------------------------------
// Cascades
// --------------------------------------------------------------------------

// DetachTxn removes the txn h together with its nested txns and every cursor
// opened under any of them.
func (t *Table) DetachTxn(scope Scope, h Handle) (Detached, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.lookup(scope, h, KindTxn)
	if err != nil {
		return Detached{}, err
	}

	var d Detached
	t.collectTxn(e, &d)
	for _, c := range d.Cursors {
		t.remove(c)
	}
	for _, txn := range d.Txns {
		t.remove(txn)
	}
	return d, nil
}

// BeginCloseDatabase prepares closing the database h. It fails with ErrBusy
// while a cursor of the database is live. Until FinishCloseDatabase is called
// no cursor can be opened on the database.
func (t *Table) BeginCloseDatabase(scope Scope, h Handle) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.lookup(scope, h, KindDatabase)
	if err != nil {
		return nil, err
	}
	if e.closing || len(t.cursorsByDB[h]) > 0 {
		return nil, ErrBusy
	}
	e.closing = true
	return e, nil
}

// FinishCloseDatabase completes a close started with BeginCloseDatabase.
// With release set the entry is removed, otherwise it is usable again.
func (t *Table) FinishCloseDatabase(e *Entry, release bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.closing = false
	if release && !e.dead.Load() {
		t.remove(e)
	}
}

// DetachConnection removes every entry owned by conn
func (t *Table) DetachConnection(conn ConnID) Detached {
	t.mu.Lock()
	defer t.mu.Unlock()

	var d Detached
	for h := range t.byConn[conn] {
		e := t.entries[h]
		switch {
		case e.Kind == KindTxn && e.Txn == None:
			// root txns, nested ones are collected with their root
			t.collectTxn(e, &d)
		case e.Kind == KindDatabase:
			d.DBs = append(d.DBs, e)
		}
	}

	// cursors opened without a txn
	seen := make(map[Handle]struct{}, len(d.Cursors))
	for _, c := range d.Cursors {
		seen[c.ID] = struct{}{}
	}
	for h := range t.byConn[conn] {
		e := t.entries[h]
		if _, ok := seen[h]; e.Kind == KindCursor && !ok {
			d.Cursors = append(d.Cursors, e)
		}
	}

	for _, c := range d.Cursors {
		t.remove(c)
	}
	for _, txn := range d.Txns {
		t.remove(txn)
	}
	for _, db := range d.DBs {
		t.remove(db)
	}
	delete(t.byConn, conn)
	t.activity.forget(conn)

	if d.Len() > 0 {
		Logger.Debugf("detached %d handle(s) of connection %d", d.Len(), conn)
	}
	return d
}

// --------------------------------------------------------------------------
// Connection activity
// --------------------------------------------------------------------------

// Touch records activity of conn
func (t *Table) Touch(conn ConnID) {
	t.mu.Lock()
	t.activity.touch(conn, t.now())
	t.mu.Unlock()
}

// IdleConnections returns the connections without activity for longer than
// idle, the longest idle first
func (t *Table) IdleConnections(idle time.Duration) []ConnID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activity.idleSince(t.now().Add(-idle))
}

// Connections returns every connection that owns handles or was active
func (t *Table) Connections() []ConnID {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := make([]ConnID, 0, t.activity.Len())
	for conn := range t.activity.byConn {
		conns = append(conns, conn)
	}
	for conn := range t.byConn {
		if !t.activity.contains(conn) {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Stats returns the number of live entries per kind
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{Connections: t.activity.Len()}
	for _, e := range t.entries {
		switch e.Kind {
		case KindDatabase:
			s.Databases++
		case KindCursor:
			s.Cursors++
		case KindTxn:
			s.Txns++
		}
	}
	return s
}

// --------------------------------------------------------------------------
// Helper Methods (caller must hold t.mu)
// --------------------------------------------------------------------------

func (t *Table) lookup(scope Scope, h Handle, kind Kind) (*Entry, error) {
	e, ok := t.entries[h]
	if !ok {
		return nil, ErrNotFound
	}
	// scope first, the kind of a foreign handle is not revealed
	if e.Scope != scope {
		return nil, ErrNotOwner
	}
	if e.Kind != kind {
		return nil, ErrKindMismatch
	}
	return e, nil
}

// collectTxn appends the cursors of e and its nested txns to d.Cursors and
// the txns themselves to d.Txns, children before parents
func (t *Table) collectTxn(e *Entry, d *Detached) {
	for child := range t.childTxns[e.ID] {
		t.collectTxn(t.entries[child], d)
	}
	for c := range t.cursorsByTxn[e.ID] {
		d.Cursors = append(d.Cursors, t.entries[c])
	}
	d.Txns = append(d.Txns, e)
}

func (t *Table) remove(e *Entry) {
	e.dead.Store(true)
	delete(t.entries, e.ID)

	switch e.Kind {
	case KindCursor:
		removeIndex(t.cursorsByDB, e.DB, e.ID)
		if e.Txn != None {
			removeIndex(t.cursorsByTxn, e.Txn, e.ID)
		}
	case KindTxn:
		if e.Txn != None {
			removeIndex(t.childTxns, e.Txn, e.ID)
		}
		delete(t.childTxns, e.ID)
		delete(t.cursorsByTxn, e.ID)
	case KindDatabase:
		delete(t.cursorsByDB, e.ID)
	}
	removeIndex(t.byConn, e.Scope.Conn, e.ID)
}

func addIndex[K comparable](index map[K]map[Handle]struct{}, parent K, h Handle) {
	set, ok := index[parent]
	if !ok {
		set = make(map[Handle]struct{})
		index[parent] = set
	}
	set[h] = struct{}{}
}

func removeIndex[K comparable](index map[K]map[Handle]struct{}, parent K, h Handle) {
	set, ok := index[parent]
	if !ok {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(index, parent)
	}
}
