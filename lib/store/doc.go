// Package store defines the operation interface of a transactional key-value
// store as it is consumed by the RPC dispatcher, together with the closed
// error type every implementation reports its outcomes with.
//
// The package focuses on:
//   - A narrow interface (Environment, Database, Cursor, Txn) with one method
//     per store primitive: open/close a database, open/close a cursor,
//     get/put/delete a record, begin/commit/abort a transaction
//   - A single error type (Error) carrying a RetCode, so callers map store
//     outcomes once instead of inspecting ad hoc errors
//
// Key Components:
//
//   - Environment: One store instance (a directory or an in-memory space).
//     Databases are opened by name inside an environment and transactions
//     span all databases of the environment.
//
//   - Database: An open database handle. Reads and writes optionally run
//     inside a transaction (a nil Txn means autocommit).
//
//   - Cursor: An iteration position inside a database, optionally scoped to
//     a transaction. Positioning is done with CursorOp values.
//
//   - Txn: A unit of work, optionally nested under a parent transaction.
//     Commit and Abort are both terminal.
//
//   - Error / RetCode: The closed set of outcomes. Implementations must only
//     return *Error values (or nil) from interface methods.
//
// Implementations:
//
//	- ldbstore: goleveldb based environments, on disk or in memory.
//	  Available in the "github.com/ValentinKolb/dbRPC/lib/store/ldbstore" package.
//
// A reusable conformance suite for implementations lives in
// "github.com/ValentinKolb/dbRPC/lib/store/testing".
package store
