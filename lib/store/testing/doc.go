// Package testing provides standardised tests and benchmarks for
// storage engines that satisfy the store.Environment interface.
//
// The package contains:
//   - testing: A test suite for validating conformance to the Environment, Database, Cursor and Txn contracts
//   - benchmark: Performance tests for common record and transaction operations
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(tb testing.TB) store.Environment {
//		env, err := NewMyEnvironment()
//		if err != nil {
//			tb.Fatal(err)
//		}
//		return env
//	}
//
//	// Running the standard test suite
//	storetesting.RunStoreTests(t, "MyEngine", factory)
//
//	// Running performance benchmarks
//	storetesting.RunStoreBenchmarks(b, "MyEngine", factory)
package testing
