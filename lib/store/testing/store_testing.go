package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dbRPC/lib/store"
)

// EnvFactory creates a new, empty environment for one test.
// Engines used with this suite should use a short lock timeout (< 1s).
type EnvFactory func(tb testing.TB) store.Environment

// RunStoreTests runs a comprehensive test suite for a storage engine.
func RunStoreTests(t *testing.T, name string, factory EnvFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("NoOverwrite", func(t *testing.T) {
			testNoOverwrite(t, factory(t))
		})

		t.Run("OpenFlags", func(t *testing.T) {
			testOpenFlags(t, factory(t))
		})

		t.Run("SharedHandles", func(t *testing.T) {
			testSharedHandles(t, factory(t))
		})

		t.Run("TxnCommitAbort", func(t *testing.T) {
			testTxnCommitAbort(t, factory(t))
		})

		t.Run("TxnIsolation", func(t *testing.T) {
			testTxnIsolation(t, factory(t))
		})

		t.Run("NestedTxn", func(t *testing.T) {
			testNestedTxn(t, factory(t))
		})

		t.Run("TxnWithOpenChildren", func(t *testing.T) {
			testTxnWithOpenChildren(t, factory(t))
		})

		t.Run("CursorNavigation", func(t *testing.T) {
			testCursorNavigation(t, factory(t))
		})

		t.Run("CursorInTxn", func(t *testing.T) {
			testCursorInTxn(t, factory(t))
		})

		t.Run("CursorWrites", func(t *testing.T) {
			testCursorWrites(t, factory(t))
		})

		t.Run("CloseBusy", func(t *testing.T) {
			testCloseBusy(t, factory(t))
		})

		t.Run("LockTimeout", func(t *testing.T) {
			testLockTimeout(t, factory(t))
		})

		t.Run("Deadlock", func(t *testing.T) {
			testDeadlock(t, factory(t))
		})

		t.Run("ConcurrentAutocommit", func(t *testing.T) {
			testConcurrentAutocommit(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustOpen(t *testing.T, env store.Environment, name string) store.Database {
	t.Helper()
	database, err := env.Open(name, store.OpenCreate)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", name, err)
	}
	return database
}

func mustBegin(t *testing.T, env store.Environment, parent store.Txn) store.Txn {
	t.Helper()
	txn, err := env.Begin(parent)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	return txn
}

func mustPut(t *testing.T, database store.Database, txn store.Txn, key, value string) {
	t.Helper()
	if err := database.Put(txn, []byte(key), []byte(value), 0); err != nil {
		t.Fatalf("Put(%s) failed: %v", key, err)
	}
}

// expectValue checks that key holds value (as seen by txn)
func expectValue(t *testing.T, database store.Database, txn store.Txn, key, value string) {
	t.Helper()
	result, err := database.Get(txn, []byte(key))
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	if !bytes.Equal(result, []byte(value)) {
		t.Errorf("Expected value %s for key %s, got %s", value, key, result)
	}
}

// expectCode checks that err carries code
func expectCode(t *testing.T, err error, code store.RetCode) {
	t.Helper()
	if store.CodeOf(err) != code {
		t.Errorf("Expected error code %s, got %s (err=%v)", code, store.CodeOf(err), err)
	}
}

// expectCursor checks the result of a cursor operation
func expectCursor(t *testing.T, c store.Cursor, op store.CursorOp, arg string, wantKey, wantValue string) {
	t.Helper()
	var argBytes []byte
	if arg != "" {
		argBytes = []byte(arg)
	}
	key, value, err := c.Get(op, argBytes)
	if err != nil {
		t.Fatalf("Cursor %s(%s) failed: %v", op, arg, err)
	}
	if string(key) != wantKey || string(value) != wantValue {
		t.Errorf("Cursor %s(%s): expected (%s, %s), got (%s, %s)", op, arg, wantKey, wantValue, key, value)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	mustPut(t, database, nil, "test-key", "test-value1")
	expectValue(t, database, nil, "test-key", "test-value1")

	mustPut(t, database, nil, "test-key", "test-value2")
	expectValue(t, database, nil, "test-key", "test-value2")

	_, err := database.Get(nil, []byte("nonexistent-key"))
	expectCode(t, err, store.RetCNotFound)

	// returned values must be copies
	result, _ := database.Get(nil, []byte("test-key"))
	result[0] = 'X'
	expectValue(t, database, nil, "test-key", "test-value2")

	// empty keys are rejected
	expectCode(t, database.Put(nil, nil, []byte("v"), 0), store.RetCInvalidArgument)
	_, err = database.Get(nil, []byte{})
	expectCode(t, err, store.RetCInvalidArgument)

	// empty values are fine
	mustPut(t, database, nil, "empty", "")
	expectValue(t, database, nil, "empty", "")
}

func testDelete(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	mustPut(t, database, nil, "k", "v")
	if err := database.Delete(nil, []byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, err := database.Get(nil, []byte("k"))
	expectCode(t, err, store.RetCNotFound)

	expectCode(t, database.Delete(nil, []byte("k")), store.RetCNotFound)
}

func testNoOverwrite(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	if err := database.Put(nil, []byte("k"), []byte("v1"), store.PutNoOverwrite); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	err := database.Put(nil, []byte("k"), []byte("v2"), store.PutNoOverwrite)
	expectCode(t, err, store.RetCKeyExists)
	expectValue(t, database, nil, "k", "v1")

	// inside a transaction, the transaction's own writes count
	txn := mustBegin(t, env, nil)
	mustPut(t, database, txn, "tk", "v1")
	err = database.Put(txn, []byte("tk"), []byte("v2"), store.PutNoOverwrite)
	expectCode(t, err, store.RetCKeyExists)
	if err := txn.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
}

func testOpenFlags(t *testing.T, env store.Environment) {
	defer env.Close()

	_, err := env.Open("missing", 0)
	expectCode(t, err, store.RetCNotFound)

	_, err = env.Open("bad/name", store.OpenCreate)
	expectCode(t, err, store.RetCInvalidArgument)

	database := mustOpen(t, env, "test")
	mustPut(t, database, nil, "k", "v")

	readOnly, err := env.Open("test", store.OpenReadOnly)
	if err != nil {
		t.Fatalf("read only Open failed: %v", err)
	}
	expectValue(t, readOnly, nil, "k", "v")
	expectCode(t, readOnly.Put(nil, []byte("k"), []byte("x"), 0), store.RetCInvalidOperation)
	expectCode(t, readOnly.Delete(nil, []byte("k")), store.RetCInvalidOperation)
}

func testSharedHandles(t *testing.T, env store.Environment) {
	defer env.Close()

	first := mustOpen(t, env, "test")
	second := mustOpen(t, env, "test")

	mustPut(t, first, nil, "k", "v")
	expectValue(t, second, nil, "k", "v")

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	expectCode(t, first.Close(), store.RetCInvalidOperation)
	_, err := first.Get(nil, []byte("k"))
	expectCode(t, err, store.RetCInvalidOperation)

	// the second handle is unaffected
	expectValue(t, second, nil, "k", "v")
	if err := second.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// data survives closing all handles
	third := mustOpen(t, env, "test")
	expectValue(t, third, nil, "k", "v")
}

func testTxnCommitAbort(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")
	mustPut(t, database, nil, "existing", "old")

	txn := mustBegin(t, env, nil)
	mustPut(t, database, txn, "a", "1")
	if err := database.Delete(txn, []byte("existing")); err != nil {
		t.Fatalf("Delete in txn failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	expectValue(t, database, nil, "a", "1")
	_, err := database.Get(nil, []byte("existing"))
	expectCode(t, err, store.RetCNotFound)

	txn = mustBegin(t, env, nil)
	mustPut(t, database, txn, "b", "2")
	if err := txn.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	_, err = database.Get(nil, []byte("b"))
	expectCode(t, err, store.RetCNotFound)

	// a terminated transaction is unusable
	expectCode(t, txn.Commit(), store.RetCInvalidOperation)
	expectCode(t, txn.Abort(), store.RetCInvalidOperation)
	expectCode(t, database.Put(txn, []byte("c"), []byte("3"), 0), store.RetCInvalidOperation)
	_, err = env.Begin(txn)
	expectCode(t, err, store.RetCInvalidOperation)
}

func testTxnIsolation(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")
	mustPut(t, database, nil, "k", "v1")

	reader := mustBegin(t, env, nil)
	expectValue(t, database, reader, "k", "v1")

	writer := mustBegin(t, env, nil)
	mustPut(t, database, writer, "k", "v2")
	mustPut(t, database, writer, "new", "x")

	// uncommitted writes are invisible outside the writer
	expectValue(t, database, nil, "k", "v1")
	expectValue(t, database, writer, "k", "v2")

	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// the reader keeps its snapshot
	expectValue(t, database, reader, "k", "v1")
	_, err := database.Get(reader, []byte("new"))
	expectCode(t, err, store.RetCNotFound)
	if err := reader.Commit(); err != nil {
		t.Fatalf("Commit of reader failed: %v", err)
	}

	expectValue(t, database, nil, "k", "v2")
}

func testNestedTxn(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	parent := mustBegin(t, env, nil)
	mustPut(t, database, parent, "p", "1")

	child := mustBegin(t, env, parent)
	if child.Parent() == nil || child.Parent().ID() != parent.ID() {
		t.Fatalf("Expected child to report parent %d", parent.ID())
	}
	expectValue(t, database, child, "p", "1")
	mustPut(t, database, child, "c", "2")
	if err := child.Commit(); err != nil {
		t.Fatalf("child Commit failed: %v", err)
	}
	expectValue(t, database, parent, "c", "2")

	aborted := mustBegin(t, env, parent)
	mustPut(t, database, aborted, "gone", "3")
	if err := aborted.Abort(); err != nil {
		t.Fatalf("child Abort failed: %v", err)
	}
	_, err := database.Get(parent, []byte("gone"))
	expectCode(t, err, store.RetCNotFound)

	// nothing reached the database yet
	_, err = database.Get(nil, []byte("c"))
	expectCode(t, err, store.RetCNotFound)

	if err := parent.Commit(); err != nil {
		t.Fatalf("parent Commit failed: %v", err)
	}
	expectValue(t, database, nil, "p", "1")
	expectValue(t, database, nil, "c", "2")
	_, err = database.Get(nil, []byte("gone"))
	expectCode(t, err, store.RetCNotFound)
}

func testTxnWithOpenChildren(t *testing.T, env store.Environment) {
	defer env.Close()

	parent := mustBegin(t, env, nil)
	child := mustBegin(t, env, parent)

	expectCode(t, parent.Commit(), store.RetCInvalidOperation)
	expectCode(t, parent.Abort(), store.RetCInvalidOperation)

	if err := child.Abort(); err != nil {
		t.Fatalf("child Abort failed: %v", err)
	}
	if err := parent.Commit(); err != nil {
		t.Fatalf("parent Commit failed: %v", err)
	}
}

func testCursorNavigation(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	for _, k := range []string{"b", "d", "f"} {
		mustPut(t, database, nil, k, "v-"+k)
	}

	c, err := database.Cursor(nil)
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	defer c.Close()

	_, _, err = c.Get(store.CursorCurrent, nil)
	expectCode(t, err, store.RetCInvalidArgument)

	// Next on an unpositioned cursor starts at the first record
	expectCursor(t, c, store.CursorNext, "", "b", "v-b")
	expectCursor(t, c, store.CursorNext, "", "d", "v-d")
	expectCursor(t, c, store.CursorCurrent, "", "d", "v-d")
	expectCursor(t, c, store.CursorNext, "", "f", "v-f")
	_, _, err = c.Get(store.CursorNext, nil)
	expectCode(t, err, store.RetCNotFound)

	expectCursor(t, c, store.CursorLast, "", "f", "v-f")
	expectCursor(t, c, store.CursorPrev, "", "d", "v-d")
	expectCursor(t, c, store.CursorFirst, "", "b", "v-b")
	_, _, err = c.Get(store.CursorPrev, nil)
	expectCode(t, err, store.RetCNotFound)

	expectCursor(t, c, store.CursorSet, "d", "d", "v-d")
	_, _, err = c.Get(store.CursorSet, []byte("c"))
	expectCode(t, err, store.RetCNotFound)
	expectCursor(t, c, store.CursorSetRange, "c", "d", "v-d")
	expectCursor(t, c, store.CursorSetRange, "d", "d", "v-d")
	_, _, err = c.Get(store.CursorSetRange, []byte("g"))
	expectCode(t, err, store.RetCNotFound)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, _, err = c.Get(store.CursorFirst, nil)
	expectCode(t, err, store.RetCInvalidOperation)
}

func testCursorInTxn(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	for _, k := range []string{"a", "b", "c", "d"} {
		mustPut(t, database, nil, k, "old")
	}

	txn := mustBegin(t, env, nil)
	mustPut(t, database, txn, "b", "new")
	mustPut(t, database, txn, "bb", "added")
	if err := database.Delete(txn, []byte("c")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	child := mustBegin(t, env, txn)
	if err := database.Delete(child, []byte("a")); err != nil {
		t.Fatalf("Delete in child failed: %v", err)
	}

	c, err := database.Cursor(child)
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}

	// the cursor sees the merged state of snapshot, parent and child
	expectCursor(t, c, store.CursorFirst, "", "b", "new")
	expectCursor(t, c, store.CursorNext, "", "bb", "added")
	expectCursor(t, c, store.CursorNext, "", "d", "old")
	expectCursor(t, c, store.CursorPrev, "", "bb", "added")
	expectCursor(t, c, store.CursorLast, "", "d", "old")
	expectCursor(t, c, store.CursorPrev, "", "bb", "added")
	expectCursor(t, c, store.CursorPrev, "", "b", "new")
	_, _, err = c.Get(store.CursorPrev, nil)
	expectCode(t, err, store.RetCNotFound)
	_, _, err = c.Get(store.CursorSet, []byte("c"))
	expectCode(t, err, store.RetCNotFound)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := child.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if err := txn.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	// a cursor of a terminated transaction is unusable
	_, err = database.Cursor(txn)
	expectCode(t, err, store.RetCInvalidOperation)
}

func testCursorWrites(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")
	mustPut(t, database, nil, "a", "1")
	mustPut(t, database, nil, "c", "3")

	txn := mustBegin(t, env, nil)
	c, err := database.Cursor(txn)
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}

	if err := c.Delete(); store.CodeOf(err) != store.RetCInvalidArgument {
		t.Errorf("Expected Delete on unpositioned cursor to fail with invalid argument, got %v", err)
	}

	if err := c.Put([]byte("b"), []byte("2"), 0); err != nil {
		t.Fatalf("cursor Put failed: %v", err)
	}
	expectCursor(t, c, store.CursorCurrent, "", "b", "2")

	expectCursor(t, c, store.CursorFirst, "", "a", "1")
	if err := c.Delete(); err != nil {
		t.Fatalf("cursor Delete failed: %v", err)
	}
	_, _, err = c.Get(store.CursorCurrent, nil)
	expectCode(t, err, store.RetCNotFound)

	// navigation continues from the deleted position
	expectCursor(t, c, store.CursorNext, "", "b", "2")

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	_, err = database.Get(nil, []byte("a"))
	expectCode(t, err, store.RetCNotFound)
	expectValue(t, database, nil, "b", "2")
	expectValue(t, database, nil, "c", "3")
}

func testCloseBusy(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	txn := mustBegin(t, env, nil)
	mustPut(t, database, txn, "k", "v")

	// the last handle cannot be closed while a transaction depends on it
	expectCode(t, database.Close(), store.RetCBusy)
	expectValue(t, database, txn, "k", "v")

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Close after commit failed: %v", err)
	}
}

func testLockTimeout(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	first := mustBegin(t, env, nil)
	mustPut(t, database, first, "k", "v1")

	second := mustBegin(t, env, nil)
	start := time.Now()
	err := database.Put(second, []byte("k"), []byte("v2"), 0)
	expectCode(t, err, store.RetCLockTimeout)
	if time.Since(start) > 5*time.Second {
		t.Errorf("Lock wait took too long: %s", time.Since(start))
	}

	// autocommit writers wait as well
	expectCode(t, database.Put(nil, []byte("k"), []byte("v3"), 0), store.RetCLockTimeout)

	if err := first.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// the lock is free again
	mustPut(t, database, second, "k", "v2")
	if err := second.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	expectValue(t, database, nil, "k", "v2")
}

func testDeadlock(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	first := mustBegin(t, env, nil)
	second := mustBegin(t, env, nil)
	mustPut(t, database, first, "a", "1")
	mustPut(t, database, second, "b", "2")

	// second waits for first
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- database.Put(second, []byte("a"), []byte("2"), 0)
	}()
	time.Sleep(50 * time.Millisecond)

	// first waiting for second would close the cycle
	err := database.Put(first, []byte("b"), []byte("1"), 0)
	expectCode(t, err, store.RetCDeadlock)

	// resolving first lets second continue
	if err := first.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if err := <-waitErr; err != nil {
		t.Fatalf("Expected waiting writer to succeed after abort, got %v", err)
	}
	if err := second.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	expectValue(t, database, nil, "a", "2")
}

func testConcurrentAutocommit(t *testing.T, env store.Environment) {
	defer env.Close()
	database := mustOpen(t, env, "test")

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("key-%d-%d", w, i))
				if err := database.Put(nil, key, key, 0); err != nil {
					t.Errorf("Put(%s) failed: %v", key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	c, err := database.Cursor(nil)
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	defer c.Close()

	count := 0
	for _, _, err := c.Get(store.CursorFirst, nil); err == nil; _, _, err = c.Get(store.CursorNext, nil) {
		count++
	}
	if count != workers*perWorker {
		t.Errorf("Expected %d records, got %d", workers*perWorker, count)
	}
}
