package db

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/dbRPC/rpc/client"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/serializer"
	"github.com/ValentinKolb/dbRPC/rpc/server"
	"github.com/ValentinKolb/dbRPC/rpc/transport/unix"
)

func newTestEnv(t *testing.T) *client.Env {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "shell.sock")
	s := server.NewRPCServer(common.ServerConfig{
		Shards:        []common.ServerShard{{ShardID: 100, Type: common.ShardTypeMemory}},
		LockTimeoutMs: 100,
		Transport:     common.ServerTransportConfig{Endpoint: socket},
	}, unix.NewUnixServerTransport(), serializer.NewBinarySerializer())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()
	t.Cleanup(func() {
		_ = s.Shutdown()
		<-errCh
	})

	env, err := client.NewRPCEnv(100, common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{socket}, ConnectRetryCount: 10},
	}, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCEnv() error = %v", err)
	}
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestShell(t *testing.T) {
	env := newTestEnv(t)

	input := strings.Join([]string{
		"get a",
		"open users create",
		"put a 1",
		"begin",
		"put b 2",
		"begin",
		"put c 3",
		"abort",
		"close",
		"commit",
		"scan",
		"scan b 1",
		"get c",
		"close",
		"exit",
		"put never 1",
	}, "\n")

	var out bytes.Buffer
	if err := newShell(env, nil, &out).run(strings.NewReader(input)); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	output := out.String()

	for _, want := range []string{
		"error: no database open",
		"users (txn 2)> ",
		common.StatusBusy.String(),
		"a=1\nb=2\n(2 records)",
		"b=2\n(1 records)",
		"not-found",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output does not contain %q:\n%s", want, output)
		}
	}

	// the database was closed by the shell, a new handle is needed
	db, err := env.Open("users", 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := db.Get(nil, []byte("never")); !client.IsNotFound(err) {
		t.Errorf("Get(never) error = %v, want not-found", err)
	}
}

func TestScan(t *testing.T) {
	env := newTestEnv(t)

	db, err := env.Open("scan", common.FlagOpenCreate)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, k := range []string{"a", "b", "c", "d"} {
		if err := db.Put(nil, []byte(k), []byte(k), 0); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		from    string
		limit   int
		reverse bool
		want    string
	}{
		{"all", "", 0, false, "abcd"},
		{"from", "b", 0, false, "bcd"},
		{"limit", "", 2, false, "ab"},
		{"reverse", "", 0, true, "dcba"},
		{"from past end", "x", 0, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got strings.Builder
			n, err := scan(db, nil, tt.from, tt.limit, tt.reverse, func(k, _ []byte) {
				got.Write(k)
			})
			if err != nil {
				t.Fatalf("scan() error = %v", err)
			}
			if got.String() != tt.want || n != len(tt.want) {
				t.Errorf("scan() = %q (%d), want %q", got.String(), n, tt.want)
			}
		})
	}

	// every scan closed its cursor, so the database can be closed
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
