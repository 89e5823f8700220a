package server

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dbRPC/lib/handle"
	"github.com/ValentinKolb/dbRPC/lib/store/ldbstore"
	"github.com/ValentinKolb/dbRPC/rpc/common"
)

const (
	testShard  = uint64(100)
	otherShard = uint64(200)
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	d := NewDispatcher(handle.NewTable(handle.Options{}))
	for _, shard := range []uint64{testShard, otherShard} {
		env, err := ldbstore.NewEnvironment(ldbstore.Options{InMemory: true, LockTimeout: 200 * time.Millisecond})
		if err != nil {
			t.Fatalf("NewEnvironment() error = %v", err)
		}
		t.Cleanup(func() { _ = env.Close() })
		d.AddShard(shard, env)
	}
	return d
}

// call sends req on behalf of conn to the test shard
func call(d *Dispatcher, conn handle.ConnID, req *common.Message) *common.Message {
	return d.Handle(conn, testShard, req)
}

func expectStatus(t *testing.T, resp *common.Message, want common.Status) {
	t.Helper()
	if resp.Status != want {
		t.Fatalf("%s: status = %s (%q), want %s", resp.MsgType, resp.Status, resp.Err, want)
	}
}

func mustCall(t *testing.T, d *Dispatcher, conn handle.ConnID, req *common.Message) *common.Message {
	t.Helper()
	resp := call(d, conn, req)
	expectStatus(t, resp, common.StatusSuccess)
	return resp
}

func mustOpen(t *testing.T, d *Dispatcher, conn handle.ConnID, name string) uint64 {
	t.Helper()
	resp := mustCall(t, d, conn, common.NewDBOpenRequest(name, common.FlagOpenCreate))
	if resp.Handle == 0 {
		t.Fatalf("DBOpen returned handle 0")
	}
	return resp.Handle
}

func TestCommitInvalidatesCursors(t *testing.T) {
	d := newTestDispatcher(t)
	const conn = handle.ConnID(1)

	db := mustOpen(t, d, conn, "db")
	txn := mustCall(t, d, conn, common.NewTxnBeginRequest(0)).Handle
	cursor := mustCall(t, d, conn, common.NewCursorOpenRequest(db, txn)).Handle
	other := mustCall(t, d, conn, common.NewCursorOpenRequest(db, 0)).Handle

	mustCall(t, d, conn, common.NewCursorPutRequest(cursor, []byte("k"), []byte("v"), 0))
	mustCall(t, d, conn, common.NewTxnCommitRequest(txn))

	scope := handle.Scope{Conn: conn, Shard: testShard}
	if _, err := d.Table().Resolve(scope, handle.Handle(cursor), handle.KindCursor); !errors.Is(err, handle.ErrNotFound) {
		t.Errorf("Resolve(cursor) error = %v, want ErrNotFound", err)
	}
	expectStatus(t, call(d, conn, common.NewCursorGetRequest(cursor, common.CursorFirst, nil)), common.StatusInvalidHandle)

	// the cursor without txn is untouched and sees the committed write
	resp := mustCall(t, d, conn, common.NewCursorGetRequest(other, common.CursorFirst, nil))
	if string(resp.Key) != "k" || string(resp.Value) != "v" {
		t.Errorf("CursorGet = %q=%q, want k=v", resp.Key, resp.Value)
	}
}

func TestAbortInvalidatesOnlyOwnCursors(t *testing.T) {
	d := newTestDispatcher(t)
	const conn = handle.ConnID(1)

	db := mustOpen(t, d, conn, "db")
	t1 := mustCall(t, d, conn, common.NewTxnBeginRequest(0)).Handle
	t2 := mustCall(t, d, conn, common.NewTxnBeginRequest(0)).Handle
	c1 := mustCall(t, d, conn, common.NewCursorOpenRequest(db, t1)).Handle
	c2 := mustCall(t, d, conn, common.NewCursorOpenRequest(db, t2)).Handle

	mustCall(t, d, conn, common.NewDBPutRequest(db, t1, []byte("a"), []byte("1"), 0))
	mustCall(t, d, conn, common.NewTxnAbortRequest(t1))

	expectStatus(t, call(d, conn, common.NewCursorGetRequest(c1, common.CursorFirst, nil)), common.StatusInvalidHandle)
	expectStatus(t, call(d, conn, common.NewCursorGetRequest(c2, common.CursorFirst, nil)), common.StatusNotFound)
	expectStatus(t, call(d, conn, common.NewDBGetRequest(db, 0, []byte("a"))), common.StatusNotFound)

	mustCall(t, d, conn, common.NewTxnCommitRequest(t2))
}

func TestCloseDatabaseWithCursor(t *testing.T) {
	d := newTestDispatcher(t)
	const conn = handle.ConnID(1)

	db := mustOpen(t, d, conn, "db")
	cursor := mustCall(t, d, conn, common.NewCursorOpenRequest(db, 0)).Handle

	expectStatus(t, call(d, conn, common.NewDBCloseRequest(db)), common.StatusBusy)

	// database and cursor remain usable
	mustCall(t, d, conn, common.NewDBPutRequest(db, 0, []byte("k"), []byte("v"), 0))
	mustCall(t, d, conn, common.NewCursorGetRequest(cursor, common.CursorFirst, nil))

	mustCall(t, d, conn, common.NewCursorCloseRequest(cursor))
	mustCall(t, d, conn, common.NewDBCloseRequest(db))

	expectStatus(t, call(d, conn, common.NewDBGetRequest(db, 0, []byte("k"))), common.StatusInvalidHandle)
	expectStatus(t, call(d, conn, common.NewDBCloseRequest(db)), common.StatusInvalidHandle)

	// the data survives the close of the last handle
	db = mustOpen(t, d, conn, "db")
	if resp := mustCall(t, d, conn, common.NewDBGetRequest(db, 0, []byte("k"))); string(resp.Value) != "v" {
		t.Errorf("DBGet = %q, want v", resp.Value)
	}
}

func TestCloseDatabaseStoreBusy(t *testing.T) {
	d := newTestDispatcher(t)
	const conn = handle.ConnID(1)

	db := mustOpen(t, d, conn, "db")
	txn := mustCall(t, d, conn, common.NewTxnBeginRequest(0)).Handle
	mustCall(t, d, conn, common.NewDBPutRequest(db, txn, []byte("k"), []byte("v"), 0))

	expectStatus(t, call(d, conn, common.NewDBCloseRequest(db)), common.StatusBusy)

	// the handle stays usable
	mustCall(t, d, conn, common.NewDBGetRequest(db, txn, []byte("k")))
	mustCall(t, d, conn, common.NewTxnCommitRequest(txn))
	mustCall(t, d, conn, common.NewDBCloseRequest(db))
}

func TestCommitTwice(t *testing.T) {
	d := newTestDispatcher(t)
	const conn = handle.ConnID(1)

	txn := mustCall(t, d, conn, common.NewTxnBeginRequest(0)).Handle
	mustCall(t, d, conn, common.NewTxnCommitRequest(txn))

	expectStatus(t, call(d, conn, common.NewTxnCommitRequest(txn)), common.StatusInvalidHandle)
	expectStatus(t, call(d, conn, common.NewTxnAbortRequest(txn)), common.StatusInvalidHandle)
}

func TestNestedTxn(t *testing.T) {
	d := newTestDispatcher(t)
	const conn = handle.ConnID(1)

	db := mustOpen(t, d, conn, "db")
	parent := mustCall(t, d, conn, common.NewTxnBeginRequest(0)).Handle
	child := mustCall(t, d, conn, common.NewTxnBeginRequest(parent)).Handle
	cursor := mustCall(t, d, conn, common.NewCursorOpenRequest(db, child)).Handle

	mustCall(t, d, conn, common.NewDBPutRequest(db, child, []byte("k"), []byte("child"), 0))

	// committing the parent resolves the open child first
	mustCall(t, d, conn, common.NewTxnCommitRequest(parent))

	expectStatus(t, call(d, conn, common.NewTxnAbortRequest(child)), common.StatusInvalidHandle)
	expectStatus(t, call(d, conn, common.NewCursorGetRequest(cursor, common.CursorFirst, nil)), common.StatusInvalidHandle)

	if resp := mustCall(t, d, conn, common.NewDBGetRequest(db, 0, []byte("k"))); string(resp.Value) != "child" {
		t.Errorf("DBGet = %q, want child", resp.Value)
	}

	// an aborted child leaves the parent intact
	parent = mustCall(t, d, conn, common.NewTxnBeginRequest(0)).Handle
	child = mustCall(t, d, conn, common.NewTxnBeginRequest(parent)).Handle
	mustCall(t, d, conn, common.NewDBPutRequest(db, parent, []byte("p"), []byte("1"), 0))
	mustCall(t, d, conn, common.NewDBPutRequest(db, child, []byte("c"), []byte("1"), 0))
	mustCall(t, d, conn, common.NewTxnAbortRequest(child))
	mustCall(t, d, conn, common.NewTxnCommitRequest(parent))

	mustCall(t, d, conn, common.NewDBGetRequest(db, 0, []byte("p")))
	expectStatus(t, call(d, conn, common.NewDBGetRequest(db, 0, []byte("c"))), common.StatusNotFound)
}

func TestHandleValidation(t *testing.T) {
	d := newTestDispatcher(t)
	const owner = handle.ConnID(1)

	db := mustOpen(t, d, owner, "db")
	txn := mustCall(t, d, owner, common.NewTxnBeginRequest(0)).Handle
	cursor := mustCall(t, d, owner, common.NewCursorOpenRequest(db, 0)).Handle

	tests := []struct {
		name  string
		conn  handle.ConnID
		shard uint64
		req   *common.Message
	}{
		{"unknown database", owner, testShard, common.NewDBGetRequest(999, 0, []byte("k"))},
		{"database as cursor", owner, testShard, common.NewCursorGetRequest(db, common.CursorFirst, nil)},
		{"cursor as database", owner, testShard, common.NewDBGetRequest(cursor, 0, []byte("k"))},
		{"database as txn", owner, testShard, common.NewTxnCommitRequest(db)},
		{"txn as database", owner, testShard, common.NewDBCloseRequest(txn)},
		{"unknown txn", owner, testShard, common.NewDBGetRequest(db, 999, []byte("k"))},
		{"unknown parent", owner, testShard, common.NewTxnBeginRequest(999)},
		{"foreign connection", 2, testShard, common.NewDBGetRequest(db, 0, []byte("k"))},
		{"foreign txn", 2, testShard, common.NewTxnAbortRequest(txn)},
		{"other shard", owner, otherShard, common.NewCursorCloseRequest(cursor)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Handle(tt.conn, tt.shard, tt.req)
			expectStatus(t, resp, common.StatusInvalidHandle)
			if resp.Handle != 0 {
				t.Errorf("failed request returned handle %d", resp.Handle)
			}
		})
	}

	// nothing was released by the failed requests
	stats := d.Table().Stats()
	if stats.Databases != 1 || stats.Txns != 1 || stats.Cursors != 1 {
		t.Errorf("Stats() = %+v, want one handle of each kind", stats)
	}
}

func TestForeignHandleHidesKind(t *testing.T) {
	d := newTestDispatcher(t)

	db := mustOpen(t, d, 1, "db")

	// the same answer whether or not the kind would match
	for _, req := range []*common.Message{
		common.NewDBGetRequest(db, 0, []byte("k")),
		common.NewCursorGetRequest(db, common.CursorFirst, nil),
		common.NewTxnCommitRequest(db),
	} {
		resp := call(d, 2, req)
		expectStatus(t, resp, common.StatusInvalidHandle)
		if resp.Err != handle.ErrNotOwner.Error() {
			t.Errorf("%s: Err = %q, want %q", req.MsgType, resp.Err, handle.ErrNotOwner.Error())
		}
	}
}

func TestStoreStatuses(t *testing.T) {
	d := newTestDispatcher(t)
	const conn = handle.ConnID(1)

	db := mustOpen(t, d, conn, "db")
	mustCall(t, d, conn, common.NewDBPutRequest(db, 0, []byte("k"), []byte("v"), 0))
	cursor := mustCall(t, d, conn, common.NewCursorOpenRequest(db, 0)).Handle

	tests := []struct {
		name string
		req  *common.Message
		want common.Status
	}{
		{"get missing key", common.NewDBGetRequest(db, 0, []byte("missing")), common.StatusNotFound},
		{"delete missing key", common.NewDBDelRequest(db, 0, []byte("missing")), common.StatusNotFound},
		{"no overwrite", common.NewDBPutRequest(db, 0, []byte("k"), []byte("x"), common.FlagPutNoOverwrite), common.StatusKeyExists},
		{"empty key", common.NewDBGetRequest(db, 0, nil), common.StatusInvalidArgument},
		{"open missing database", common.NewDBOpenRequest("missing", 0), common.StatusNotFound},
		{"unknown open flags", common.NewDBOpenRequest("db", 1<<7), common.StatusInvalidArgument},
		{"unknown put flags", common.NewDBPutRequest(db, 0, []byte("k"), []byte("v"), 1<<5), common.StatusInvalidArgument},
		{"unknown cursor op", common.NewCursorGetRequest(cursor, 42, nil), common.StatusInvalidArgument},
		{"cursor set missing", common.NewCursorGetRequest(cursor, common.CursorSet, []byte("missing")), common.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, call(d, conn, tt.req), tt.want)
		})
	}
}

func TestLockConflict(t *testing.T) {
	d := newTestDispatcher(t)

	db1 := mustOpen(t, d, 1, "db")
	db2 := mustOpen(t, d, 2, "db")
	t1 := mustCall(t, d, 1, common.NewTxnBeginRequest(0)).Handle
	t2 := mustCall(t, d, 2, common.NewTxnBeginRequest(0)).Handle

	mustCall(t, d, 1, common.NewDBPutRequest(db1, t1, []byte("k"), []byte("1"), 0))
	expectStatus(t, call(d, 2, common.NewDBPutRequest(db2, t2, []byte("k"), []byte("2"), 0)), common.StatusDeadlock)

	// the loser aborts, the winner commits
	mustCall(t, d, 2, common.NewTxnAbortRequest(t2))
	mustCall(t, d, 1, common.NewTxnCommitRequest(t1))
}

func TestProtocolErrors(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Handle(1, testShard, &common.Message{MsgType: common.MessageType(200)})
	if resp.MsgType != common.MsgTError {
		t.Errorf("MsgType = %s, want %s", resp.MsgType, common.MsgTError)
	}
	expectStatus(t, resp, common.StatusProtocolError)

	expectStatus(t, d.Handle(1, 999, common.NewDBOpenRequest("db", common.FlagOpenCreate)), common.StatusProtocolError)
}

func TestReleaseConnection(t *testing.T) {
	d := newTestDispatcher(t)

	db := mustOpen(t, d, 1, "db")
	txn := mustCall(t, d, 1, common.NewTxnBeginRequest(0)).Handle
	child := mustCall(t, d, 1, common.NewTxnBeginRequest(txn)).Handle
	mustCall(t, d, 1, common.NewCursorOpenRequest(db, child))
	mustCall(t, d, 1, common.NewCursorOpenRequest(db, 0))
	mustCall(t, d, 1, common.NewDBPutRequest(db, txn, []byte("k"), []byte("1"), 0))

	other := mustOpen(t, d, 2, "db")

	if n := d.ReleaseConnection(1); n != 5 {
		t.Errorf("ReleaseConnection() = %d, want 5", n)
	}
	if stats := d.Table().Stats(); stats.Databases != 1 || stats.Txns != 0 || stats.Cursors != 0 {
		t.Errorf("Stats() = %+v, want only the database of connection 2", stats)
	}

	// the lock of the aborted txn is gone and its write discarded
	start := time.Now()
	expectStatus(t, call(d, 2, common.NewDBGetRequest(other, 0, []byte("k"))), common.StatusNotFound)
	mustCall(t, d, 2, common.NewDBPutRequest(other, 0, []byte("k"), []byte("2"), 0))
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("write after release waited %s", elapsed)
	}

	expectStatus(t, call(d, 1, common.NewDBGetRequest(db, 0, []byte("k"))), common.StatusInvalidHandle)
}

func TestDisconnectRequest(t *testing.T) {
	d := newTestDispatcher(t)

	db := mustOpen(t, d, 1, "db")
	mustCall(t, d, 1, common.NewTxnBeginRequest(0))
	mustCall(t, d, 1, common.NewDisconnectRequest())

	expectStatus(t, call(d, 1, common.NewDBGetRequest(db, 0, []byte("k"))), common.StatusInvalidHandle)

	// the connection can open new handles, old identifiers are not reused
	if again := mustOpen(t, d, 1, "db"); again == db {
		t.Errorf("handle %d reused", db)
	}
}

func TestConcurrentClients(t *testing.T) {
	d := newTestDispatcher(t)

	const clients = 8
	const rounds = 20

	var mu sync.Mutex
	issued := make(map[uint64]handle.ConnID)
	record := func(conn handle.ConnID, h uint64) error {
		mu.Lock()
		defer mu.Unlock()
		if owner, ok := issued[h]; ok {
			return fmt.Errorf("handle %d issued to connection %d and %d", h, owner, conn)
		}
		issued[h] = conn
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, clients*rounds)
	for i := 1; i <= clients; i++ {
		wg.Add(1)
		go func(conn handle.ConnID) {
			defer wg.Done()

			open := call(d, conn, common.NewDBOpenRequest("db", common.FlagOpenCreate))
			if open.Status != common.StatusSuccess {
				errs <- fmt.Errorf("open: %s", open.Err)
				return
			}
			if err := record(conn, open.Handle); err != nil {
				errs <- err
			}

			for r := 0; r < rounds; r++ {
				txn := call(d, conn, common.NewTxnBeginRequest(0))
				cursor := call(d, conn, common.NewCursorOpenRequest(open.Handle, txn.Handle))
				for _, resp := range []*common.Message{txn, cursor} {
					if resp.Status != common.StatusSuccess {
						errs <- fmt.Errorf("%s: %s", resp.MsgType, resp.Err)
						return
					}
					if err := record(conn, resp.Handle); err != nil {
						errs <- err
					}
				}

				key := []byte(fmt.Sprintf("conn-%d-%d", conn, r))
				if resp := call(d, conn, common.NewCursorPutRequest(cursor.Handle, key, key, 0)); resp.Status != common.StatusSuccess {
					errs <- fmt.Errorf("put: %s", resp.Err)
				}
				if resp := call(d, conn, common.NewDBGetRequest(open.Handle, txn.Handle, key)); resp.Status != common.StatusSuccess {
					errs <- fmt.Errorf("get: %s", resp.Err)
				}
				if resp := call(d, conn, common.NewTxnCommitRequest(txn.Handle)); resp.Status != common.StatusSuccess {
					errs <- fmt.Errorf("commit: %s", resp.Err)
				}
			}
		}(handle.ConnID(i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if stats := d.Table().Stats(); stats.Databases != clients || stats.Txns != 0 || stats.Cursors != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}
