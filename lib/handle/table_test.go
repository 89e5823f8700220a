package handle

import (
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"
)

var scopeA = Scope{Conn: 1, Shard: 100}
var scopeB = Scope{Conn: 2, Shard: 100}

// fixedIDs is an IDSource returning a predefined sequence
type fixedIDs struct {
	mu  sync.Mutex
	ids []uint64
}

func (f *fixedIDs) Next() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id
}

func mustAllocate(t *testing.T, table *Table, req AllocRequest) Handle {
	t.Helper()
	h, err := table.Allocate(req)
	if err != nil {
		t.Fatalf("Allocate(%+v) failed: %v", req, err)
	}
	return h
}

func handleIDs(entries []*Entry) []Handle {
	ids := make([]Handle, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func sorted(ids []Handle) []Handle {
	out := append([]Handle(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestResolve(t *testing.T) {
	table := NewTable(Options{})
	db := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA, Resource: "db"})

	tests := []struct {
		name  string
		scope Scope
		h     Handle
		kind  Kind
		want  error
	}{
		{"live", scopeA, db, KindDatabase, nil},
		{"wrong kind", scopeA, db, KindCursor, ErrKindMismatch},
		{"other connection", scopeB, db, KindDatabase, ErrNotOwner},
		{"other shard", Scope{Conn: 1, Shard: 7}, db, KindDatabase, ErrNotOwner},
		{"other connection wrong kind", scopeB, db, KindTxn, ErrNotOwner},
		{"unknown", scopeA, 4711, KindDatabase, ErrNotFound},
		{"zero", scopeA, None, KindDatabase, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := table.Resolve(tt.scope, tt.h, tt.kind)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Resolve() error = %v, want %v", err, tt.want)
			}
			if tt.want == nil && e.Resource != "db" {
				t.Errorf("Resolve() resource = %v, want db", e.Resource)
			}
		})
	}
}

func TestReleaseInvalidatesEveryKind(t *testing.T) {
	table := NewTable(Options{})
	db := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA})

	if _, err := table.Release(scopeA, db, KindDatabase); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	for _, kind := range []Kind{KindDatabase, KindCursor, KindTxn} {
		if _, err := table.Resolve(scopeA, db, kind); !errors.Is(err, ErrNotFound) {
			t.Errorf("Resolve(%s) after release = %v, want ErrNotFound", kind, err)
		}
	}

	// double release is a recoverable error
	if _, err := table.Release(scopeA, db, KindDatabase); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Release = %v, want ErrNotFound", err)
	}
}

func TestReleaseWithDependents(t *testing.T) {
	table := NewTable(Options{})
	db := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA})
	txn := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA})
	mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA, Txn: txn})
	mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db})

	if _, err := table.Release(scopeA, db, KindDatabase); !errors.Is(err, ErrBusy) {
		t.Errorf("Release of database with cursor = %v, want ErrBusy", err)
	}
	if _, err := table.Release(scopeA, txn, KindTxn); !errors.Is(err, ErrBusy) {
		t.Errorf("Release of txn with child = %v, want ErrBusy", err)
	}
}

func TestAllocateParents(t *testing.T) {
	table := NewTable(Options{})
	db := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA})
	txn := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA})

	tests := []struct {
		name  string
		alloc AllocRequest
		want  error
	}{
		{"cursor", AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db, Txn: txn}, nil},
		{"cursor without db", AllocRequest{Kind: KindCursor, Scope: scopeA}, ErrNotFound},
		{"cursor with txn as db", AllocRequest{Kind: KindCursor, Scope: scopeA, DB: txn}, ErrKindMismatch},
		{"cursor with foreign db", AllocRequest{Kind: KindCursor, Scope: scopeB, DB: db}, ErrNotOwner},
		{"cursor with unknown txn", AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db, Txn: 999}, ErrNotFound},
		{"nested txn", AllocRequest{Kind: KindTxn, Scope: scopeA, Txn: txn}, nil},
		{"nested txn with db as parent", AllocRequest{Kind: KindTxn, Scope: scopeA, Txn: db}, ErrKindMismatch},
		{"unknown kind", AllocRequest{Kind: 42, Scope: scopeA}, ErrKindMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := table.Allocate(tt.alloc)
			if !errors.Is(err, tt.want) {
				t.Errorf("Allocate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIdentifiersAreNeverReused(t *testing.T) {
	table := NewTable(Options{})
	seen := make(map[Handle]struct{})

	var last Handle
	for i := 0; i < 1000; i++ {
		h := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA})
		if h == None || h <= last {
			t.Fatalf("Expected strictly increasing handles, got %d after %d", h, last)
		}
		if _, ok := seen[h]; ok {
			t.Fatalf("Handle %d issued twice", h)
		}
		seen[h] = struct{}{}
		last = h
		if i%2 == 0 {
			if _, err := table.Release(scopeA, h, KindDatabase); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
		}
	}
}

func TestInjectedIDSource(t *testing.T) {
	table := NewTable(Options{IDs: &fixedIDs{ids: []uint64{10, 20, 20, 0}}})

	if h := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA}); h != 10 {
		t.Errorf("Expected handle 10, got %d", h)
	}
	if h := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA}); h != 20 {
		t.Errorf("Expected handle 20, got %d", h)
	}

	// a source repeating a live id or returning zero must not alias anything
	for i := 0; i < 2; i++ {
		if _, err := table.Allocate(AllocRequest{Kind: KindDatabase, Scope: scopeA}); !errors.Is(err, ErrBusy) {
			t.Errorf("Expected ErrBusy for unusable id, got %v", err)
		}
	}
	if s := table.Stats(); s.Databases != 2 {
		t.Errorf("Expected 2 databases, got %d", s.Databases)
	}
}

func TestDetachTxn(t *testing.T) {
	table := NewTable(Options{})
	db := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA})
	root := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA})
	child := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA, Txn: root})
	grandchild := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA, Txn: child})
	other := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA})

	c1 := mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db, Txn: root})
	c2 := mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db, Txn: grandchild})
	cOther := mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db, Txn: other})
	cPlain := mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db})

	d, err := table.DetachTxn(scopeA, root)
	if err != nil {
		t.Fatalf("DetachTxn failed: %v", err)
	}

	if got, want := sorted(handleIDs(d.Cursors)), sorted([]Handle{c1, c2}); !reflect.DeepEqual(got, want) {
		t.Errorf("Detached cursors = %v, want %v", got, want)
	}
	if got, want := handleIDs(d.Txns), []Handle{grandchild, child, root}; !reflect.DeepEqual(got, want) {
		t.Errorf("Detached txns = %v, want %v (children first)", got, want)
	}

	for _, h := range []Handle{c1, c2} {
		if _, err := table.Resolve(scopeA, h, KindCursor); !errors.Is(err, ErrNotFound) {
			t.Errorf("Cursor %d still resolves after detach: %v", h, err)
		}
	}
	for _, e := range d.Cursors {
		if !e.Dead() {
			t.Errorf("Detached cursor %d is not marked dead", e.ID)
		}
	}

	// unrelated handles survive
	for _, h := range []Handle{cOther, cPlain} {
		if _, err := table.Resolve(scopeA, h, KindCursor); err != nil {
			t.Errorf("Unrelated cursor %d was invalidated: %v", h, err)
		}
	}
	if _, err := table.Resolve(scopeA, other, KindTxn); err != nil {
		t.Errorf("Unrelated txn was invalidated: %v", err)
	}

	// second commit of the same handle
	if _, err := table.DetachTxn(scopeA, root); !errors.Is(err, ErrNotFound) {
		t.Errorf("Second DetachTxn = %v, want ErrNotFound", err)
	}
}

func TestDetachNestedTxnKeepsParent(t *testing.T) {
	table := NewTable(Options{})
	root := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA})
	child := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA, Txn: root})

	if _, err := table.DetachTxn(scopeA, child); err != nil {
		t.Fatalf("DetachTxn failed: %v", err)
	}
	// the parent has no children left and can be released on its own
	if _, err := table.Release(scopeA, root, KindTxn); err != nil {
		t.Errorf("Release of parent failed: %v", err)
	}
}

func TestCloseDatabase(t *testing.T) {
	table := NewTable(Options{})
	db := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA})
	cursor := mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db})

	// refused while the cursor lives, nothing changes
	if _, err := table.BeginCloseDatabase(scopeA, db); !errors.Is(err, ErrBusy) {
		t.Fatalf("BeginCloseDatabase with live cursor = %v, want ErrBusy", err)
	}
	if _, err := table.Resolve(scopeA, db, KindDatabase); err != nil {
		t.Errorf("Database no longer resolves: %v", err)
	}
	if _, err := table.Resolve(scopeA, cursor, KindCursor); err != nil {
		t.Errorf("Cursor no longer resolves: %v", err)
	}

	if _, err := table.Release(scopeA, cursor, KindCursor); err != nil {
		t.Fatalf("Release of cursor failed: %v", err)
	}

	// a failed close leaves the database usable
	e, err := table.BeginCloseDatabase(scopeA, db)
	if err != nil {
		t.Fatalf("BeginCloseDatabase failed: %v", err)
	}
	if _, err := table.Allocate(AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db}); !errors.Is(err, ErrBusy) {
		t.Errorf("Cursor allocation during close = %v, want ErrBusy", err)
	}
	table.FinishCloseDatabase(e, false)
	mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db})

	// closing twice at the same time is refused
	table2 := NewTable(Options{})
	db2 := mustAllocate(t, table2, AllocRequest{Kind: KindDatabase, Scope: scopeA})
	if _, err := table2.BeginCloseDatabase(scopeA, db2); err != nil {
		t.Fatalf("BeginCloseDatabase failed: %v", err)
	}
	if _, err := table2.BeginCloseDatabase(scopeA, db2); !errors.Is(err, ErrBusy) {
		t.Errorf("Concurrent BeginCloseDatabase = %v, want ErrBusy", err)
	}
}

func TestFinishCloseDatabaseReleases(t *testing.T) {
	table := NewTable(Options{})
	db := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA})

	e, err := table.BeginCloseDatabase(scopeA, db)
	if err != nil {
		t.Fatalf("BeginCloseDatabase failed: %v", err)
	}
	table.FinishCloseDatabase(e, true)

	if _, err := table.Resolve(scopeA, db, KindDatabase); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve after close = %v, want ErrNotFound", err)
	}
	if !e.Dead() {
		t.Error("Expected closed entry to be dead")
	}
}

func TestDetachConnection(t *testing.T) {
	table := NewTable(Options{})
	db := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeA})
	root := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA})
	child := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA, Txn: root})
	c1 := mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db, Txn: child})
	c2 := mustAllocate(t, table, AllocRequest{Kind: KindCursor, Scope: scopeA, DB: db})

	// handles on another shard of the same connection go as well
	otherShard := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: Scope{Conn: scopeA.Conn, Shard: 5}})

	foreign := mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: scopeB})

	d := table.DetachConnection(scopeA.Conn)

	if got, want := sorted(handleIDs(d.Cursors)), sorted([]Handle{c1, c2}); !reflect.DeepEqual(got, want) {
		t.Errorf("Detached cursors = %v, want %v", got, want)
	}
	if got, want := handleIDs(d.Txns), []Handle{child, root}; !reflect.DeepEqual(got, want) {
		t.Errorf("Detached txns = %v, want %v", got, want)
	}
	if got, want := sorted(handleIDs(d.DBs)), sorted([]Handle{db, otherShard}); !reflect.DeepEqual(got, want) {
		t.Errorf("Detached dbs = %v, want %v", got, want)
	}

	if _, err := table.Resolve(scopeB, foreign, KindDatabase); err != nil {
		t.Errorf("Handle of other connection was detached: %v", err)
	}
	if s := table.Stats(); s != (Stats{Databases: 1, Connections: 1}) {
		t.Errorf("Stats after detach = %+v", s)
	}
}

func TestLeaseBlocksTeardown(t *testing.T) {
	table := NewTable(Options{})
	txn := mustAllocate(t, table, AllocRequest{Kind: KindTxn, Scope: scopeA})

	lease, err := table.Acquire(scopeA, txn, KindTxn)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	d, err := table.DetachTxn(scopeA, txn)
	if err != nil {
		t.Fatalf("DetachTxn failed: %v", err)
	}

	quiesced := make(chan struct{})
	go func() {
		d.Txns[0].Quiesce()
		close(quiesced)
	}()

	select {
	case <-quiesced:
		t.Fatal("Quiesce returned while a lease was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	lease.Done()
	lease.Done() // no-op
	<-quiesced

	if _, err := table.Acquire(scopeA, txn, KindTxn); !errors.Is(err, ErrNotFound) {
		t.Errorf("Acquire after teardown = %v, want ErrNotFound", err)
	}
}

func TestIdleConnections(t *testing.T) {
	now := time.Unix(1000, 0)
	table := NewTable(Options{Now: func() time.Time { return now }})

	table.Touch(1)
	mustAllocate(t, table, AllocRequest{Kind: KindDatabase, Scope: Scope{Conn: 2}})

	now = now.Add(30 * time.Second)
	table.Touch(2)

	now = now.Add(31 * time.Second)
	if got := table.IdleConnections(time.Minute); !reflect.DeepEqual(got, []ConnID{1}) {
		t.Errorf("IdleConnections = %v, want [1]", got)
	}

	table.DetachConnection(1)
	now = now.Add(time.Hour)
	if got := table.IdleConnections(time.Minute); !reflect.DeepEqual(got, []ConnID{2}) {
		t.Errorf("IdleConnections = %v, want [2]", got)
	}
}

func TestConcurrentClients(t *testing.T) {
	table := NewTable(Options{})
	const clients = 8
	const perClient = 200

	issued := make([][]Handle, clients)
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			scope := Scope{Conn: ConnID(c + 1)}
			db, err := table.Allocate(AllocRequest{Kind: KindDatabase, Scope: scope})
			if err != nil {
				t.Errorf("Allocate failed: %v", err)
				return
			}
			issued[c] = append(issued[c], db)
			for i := 0; i < perClient; i++ {
				txn, err := table.Allocate(AllocRequest{Kind: KindTxn, Scope: scope})
				if err != nil {
					t.Errorf("Allocate txn failed: %v", err)
					return
				}
				cursor, err := table.Allocate(AllocRequest{Kind: KindCursor, Scope: scope, DB: db, Txn: txn})
				if err != nil {
					t.Errorf("Allocate cursor failed: %v", err)
					return
				}
				issued[c] = append(issued[c], txn, cursor)

				lease, err := table.Acquire(scope, cursor, KindCursor)
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				lease.Done()

				if i%2 == 0 {
					if _, err := table.DetachTxn(scope, txn); err != nil {
						t.Errorf("DetachTxn failed: %v", err)
						return
					}
				}
			}
		}(c)
	}
	wg.Wait()

	seen := make(map[Handle]int)
	for c, handles := range issued {
		for _, h := range handles {
			if prev, ok := seen[h]; ok {
				t.Fatalf("Handle %d issued to clients %d and %d", h, prev, c)
			}
			seen[h] = c
		}
	}

	s := table.Stats()
	if want := clients * perClient / 2; s.Txns != want || s.Cursors != want {
		t.Errorf("Stats = %+v, want %d txns and cursors", s, want)
	}
}
