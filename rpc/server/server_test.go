package server_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dbRPC/rpc/client"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/serializer"
	"github.com/ValentinKolb/dbRPC/rpc/server"
	"github.com/ValentinKolb/dbRPC/rpc/transport/unix"
)

const shardID = uint64(100)

// startServer starts a unix socket server with one memory shard, opts adjust its config
func startServer(t *testing.T, opts ...func(*common.ServerConfig)) string {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "dbrpc.sock")
	config := common.ServerConfig{
		Shards:        []common.ServerShard{{ShardID: shardID, Type: common.ShardTypeMemory}},
		LockTimeoutMs: 100,
		TimeoutSecond: 5,
		Transport:     common.ServerTransportConfig{Endpoint: socket, WorkersPerConn: 4},
	}
	for _, opt := range opts {
		opt(&config)
	}
	s := server.NewRPCServer(config, unix.NewUnixServerTransport(), serializer.NewBinarySerializer())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	t.Cleanup(func() {
		if err := s.Shutdown(); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
		if err := <-errCh; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	})
	return socket
}

func connect(t *testing.T, socket string) *client.Env {
	t.Helper()

	env, err := client.NewRPCEnv(shardID, common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:         []string{socket},
			ConnectRetryCount: 10,
		},
	}, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCEnv() error = %v", err)
	}
	return env
}

func TestRemoteEnvironment(t *testing.T) {
	env := connect(t, startServer(t))
	defer env.Close()

	db, err := env.Open("users", common.FlagOpenCreate)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	txn, err := env.Begin(nil)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, key := range []string{"c", "a", "b"} {
		if err := db.Put(txn, []byte(key), []byte("value-"+key), 0); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}
	if err := db.Put(txn, []byte("a"), []byte("x"), common.FlagPutNoOverwrite); !client.IsKeyExists(err) {
		t.Errorf("Put(no overwrite) error = %v, want key-exists", err)
	}

	// uncommitted writes are not visible outside the txn
	if _, err := db.Get(nil, []byte("a")); !client.IsNotFound(err) {
		t.Errorf("Get() outside txn error = %v, want not-found", err)
	}

	cursor, err := db.Cursor(txn)
	if err != nil {
		t.Fatalf("Cursor() error = %v", err)
	}
	var keys []string
	for k, _, err := cursor.First(); err == nil; k, _, err = cursor.Next() {
		keys = append(keys, string(k))
	}
	if got := len(keys); got != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("cursor keys = %v, want [a b c]", keys)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, _, err := cursor.First(); !client.IsInvalidHandle(err) {
		t.Errorf("cursor after commit error = %v, want invalid-handle", err)
	}
	if err := txn.Commit(); !client.IsInvalidHandle(err) {
		t.Errorf("second Commit() error = %v, want invalid-handle", err)
	}

	value, err := db.Get(nil, []byte("b"))
	if err != nil || string(value) != "value-b" {
		t.Errorf("Get(b) = %q, %v, want value-b", value, err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := db.Get(nil, []byte("b")); !client.IsInvalidHandle(err) {
		t.Errorf("Get() after close error = %v, want invalid-handle", err)
	}
}

func TestCloseDatabaseWithOpenCursor(t *testing.T) {
	env := connect(t, startServer(t))
	defer env.Close()

	db, err := env.Open("db", common.FlagOpenCreate)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	cursor, err := db.Cursor(nil)
	if err != nil {
		t.Fatalf("Cursor() error = %v", err)
	}

	if err := db.Close(); !client.IsBusy(err) {
		t.Fatalf("Close() error = %v, want resource-busy", err)
	}
	if err := db.Put(nil, []byte("k"), []byte("v"), 0); err != nil {
		t.Errorf("Put() after busy close error = %v", err)
	}
	if err := cursor.Close(); err != nil {
		t.Fatalf("cursor Close() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDisconnectReleasesHandles(t *testing.T) {
	socket := startServer(t)

	first := connect(t, socket)
	db, err := first.Open("db", common.FlagOpenCreate)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	txn, err := first.Begin(nil)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := db.Put(txn, []byte("k"), []byte("first"), 0); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second := connect(t, socket)
	defer second.Close()
	other, err := second.Open("db", 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// the write lock of the first connection blocks the second one
	if err := other.Put(nil, []byte("k"), []byte("second"), 0); !client.IsDeadlock(err) {
		t.Fatalf("Put() while locked error = %v, want deadlock", err)
	}

	// handles of a connection are not valid on another connection
	if _, err := other.Cursor(txn); !client.IsInvalidHandle(err) {
		t.Errorf("Cursor(foreign txn) error = %v, want invalid-handle", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// the server aborts the txn of the closed connection
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := other.Put(nil, []byte("k"), []byte("second"), 0)
		if err == nil {
			break
		}
		if !client.IsDeadlock(err) || time.Now().After(deadline) {
			t.Fatalf("Put() after disconnect error = %v", err)
		}
	}

	value, err := other.Get(nil, []byte("k"))
	if err != nil || string(value) != "second" {
		t.Errorf("Get() = %q, %v, want second", value, err)
	}
}

func TestIdleConnectionIsReaped(t *testing.T) {
	socket := startServer(t, func(c *common.ServerConfig) { c.IdleTimeoutSecond = 1 })

	env := connect(t, socket)
	defer env.Close()

	db, err := env.Open("db", common.FlagOpenCreate)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	txn, err := env.Begin(nil)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := db.Put(txn, []byte("k"), []byte("first"), 0); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	cursor, err := db.Cursor(txn)
	if err != nil {
		t.Fatalf("Cursor() error = %v", err)
	}

	// no request at all while the reaper runs
	time.Sleep(2500 * time.Millisecond)

	if _, _, err := cursor.First(); !client.IsInvalidHandle(err) {
		t.Errorf("cursor after idle timeout error = %v, want invalid-handle", err)
	}
	if err := txn.Commit(); !client.IsInvalidHandle(err) {
		t.Errorf("Commit() after idle timeout error = %v, want invalid-handle", err)
	}
	if _, err := db.Get(nil, []byte("k")); !client.IsInvalidHandle(err) {
		t.Errorf("Get() after idle timeout error = %v, want invalid-handle", err)
	}

	// the txn was aborted, its lock is free and its write is gone
	other := connect(t, socket)
	defer other.Close()
	otherDB, err := other.Open("db", common.FlagOpenCreate)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := otherDB.Get(nil, []byte("k")); !client.IsNotFound(err) {
		t.Errorf("Get() of aborted write error = %v, want not-found", err)
	}
	if err := otherDB.Put(nil, []byte("k"), []byte("second"), 0); err != nil {
		t.Errorf("Put() after reap error = %v", err)
	}

	// the connection itself stays usable
	if _, err := env.Open("db", common.FlagOpenCreate); err != nil {
		t.Errorf("Open() on reaped connection error = %v", err)
	}
}
