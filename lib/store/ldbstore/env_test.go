package ldbstore

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dbRPC/lib/lockmgr"
	"github.com/ValentinKolb/dbRPC/lib/store"
	storetesting "github.com/ValentinKolb/dbRPC/lib/store/testing"
	"github.com/syndtr/goleveldb/leveldb"
)

func memFactory(tb testing.TB) store.Environment {
	env, err := NewEnvironment(Options{InMemory: true, LockTimeout: 300 * time.Millisecond})
	if err != nil {
		tb.Fatalf("NewEnvironment failed: %v", err)
	}
	return env
}

func diskFactory(tb testing.TB) store.Environment {
	env, err := NewEnvironment(Options{Dir: tb.TempDir(), LockTimeout: 300 * time.Millisecond})
	if err != nil {
		tb.Fatalf("NewEnvironment failed: %v", err)
	}
	return env
}

func Test(t *testing.T) {
	storetesting.RunStoreTests(t, "LevelDB(mem)", memFactory)
	storetesting.RunStoreTests(t, "LevelDB(disk)", diskFactory)
}

func Benchmark(b *testing.B) {
	storetesting.RunStoreBenchmarks(b, "LevelDB(mem)", memFactory)
	storetesting.RunStoreBenchmarks(b, "LevelDB(disk)", diskFactory)
}

func TestDiskPersistence(t *testing.T) {
	dir := t.TempDir()

	env, err := NewEnvironment(Options{Dir: dir})
	if err != nil {
		t.Fatalf("NewEnvironment failed: %v", err)
	}
	database, err := env.Open("persist", store.OpenCreate)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := database.Put(nil, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	env, err = NewEnvironment(Options{Dir: dir})
	if err != nil {
		t.Fatalf("NewEnvironment failed: %v", err)
	}
	defer env.Close()

	// no OpenCreate needed for an existing database
	database, err = env.Open("persist", 0)
	if err != nil {
		t.Fatalf("Open of existing database failed: %v", err)
	}
	value, err := database.Get(nil, []byte("k"))
	if err != nil || string(value) != "v" {
		t.Errorf("Expected v after reopen, got %q (err=%v)", value, err)
	}
}

func TestClosedEnvironment(t *testing.T) {
	env := memFactory(t)
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := env.Open("x", store.OpenCreate); !store.IsCode(err, store.RetCInvalidOperation) {
		t.Errorf("Expected invalid operation after close, got %v", err)
	}
	if _, err := env.Begin(nil); !store.IsCode(err, store.RetCInvalidOperation) {
		t.Errorf("Expected invalid operation after close, got %v", err)
	}
}

func TestForeignTxn(t *testing.T) {
	envA := memFactory(t)
	defer envA.Close()
	envB := memFactory(t)
	defer envB.Close()

	txn, err := envA.Begin(nil)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	database, err := envB.Open("x", store.OpenCreate)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := database.Put(txn, []byte("k"), []byte("v"), 0); !store.IsCode(err, store.RetCInvalidArgument) {
		t.Errorf("Expected invalid argument for a foreign transaction, got %v", err)
	}
}

func TestWrapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want store.RetCode
	}{
		{"nil", nil, store.RetCSuccess},
		{"store error passes", store.NewError(store.RetCBusy, "busy"), store.RetCBusy},
		{"not found", leveldb.ErrNotFound, store.RetCNotFound},
		{"closed", leveldb.ErrClosed, store.RetCInvalidOperation},
		{"deadlock", lockmgr.ErrDeadlock, store.RetCDeadlock},
		{"timeout", lockmgr.ErrTimeout, store.RetCLockTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.CodeOf(wrapErr(tt.err, "op")); got != tt.want {
				t.Errorf("wrapErr(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
