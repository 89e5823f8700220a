package testing

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dbRPC/lib/store"
)

// RunStoreBenchmarks runs all benchmarks for a storage engine
func RunStoreBenchmarks(b *testing.B, name string, factory EnvFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, factory(b))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory(b))
		})

		b.Run("TxnPutCommit", func(b *testing.B) {
			benchmarkTxnPutCommit(b, factory(b))
		})

		b.Run("CursorScan", func(b *testing.B) {
			benchmarkCursorScan(b, factory(b))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func openBenchDB(b *testing.B, env store.Environment) store.Database {
	database, err := env.Open("bench", store.OpenCreate)
	if err != nil {
		b.Fatalf("Open failed: %v", err)
	}
	return database
}

// Parallel autocommit writes on distinct keys
func benchmarkPut(b *testing.B, env store.Environment) {
	b.Cleanup(func() {
		env.Close()
	})
	database := openBenchDB(b, env)

	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := []byte(fmt.Sprintf("test-key-%d", counter.Add(1)))
			database.Put(nil, key, key, 0)
		}
	})
}

// Parallel autocommit reads of existing keys
func benchmarkGet(b *testing.B, env store.Environment) {
	b.Cleanup(func() {
		env.Close()
	})
	database := openBenchDB(b, env)

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("test-key-%d", i))
		database.Put(nil, key, key, 0)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Get(nil, []byte(fmt.Sprintf("test-key-%d", counter%numKeys)))
			counter++
		}
	})
}

// One transaction with ten writes per iteration
func benchmarkTxnPutCommit(b *testing.B, env store.Environment) {
	b.Cleanup(func() {
		env.Close()
	})
	database := openBenchDB(b, env)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := env.Begin(nil)
		if err != nil {
			b.Fatalf("Begin failed: %v", err)
		}
		for j := 0; j < 10; j++ {
			key := []byte(fmt.Sprintf("txn-%d-%d", i, j))
			database.Put(txn, key, key, 0)
		}
		if err := txn.Commit(); err != nil {
			b.Fatalf("Commit failed: %v", err)
		}
	}
}

// Full forward scan over 1000 records per iteration
func benchmarkCursorScan(b *testing.B, env store.Environment) {
	b.Cleanup(func() {
		env.Close()
	})
	database := openBenchDB(b, env)

	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("scan-%04d", i))
		database.Put(nil, key, key, 0)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := database.Cursor(nil)
		if err != nil {
			b.Fatalf("Cursor failed: %v", err)
		}
		for _, _, err := c.Get(store.CursorFirst, nil); err == nil; _, _, err = c.Get(store.CursorNext, nil) {
		}
		c.Close()
	}
}
