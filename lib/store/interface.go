package store

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// EnvFactory is a function type that creates a new environment.
// This is used to abstract the creation of the store from the server implementation.
type EnvFactory func() (Environment, error)

// OpenFlags control how a database is opened.
type OpenFlags uint32

const (
	OpenCreate   OpenFlags = 1 << iota // Create the database if it does not exist
	OpenReadOnly                       // Open the database read only
)

// PutFlags control the behaviour of write operations.
type PutFlags uint32

const (
	PutNoOverwrite PutFlags = 1 << iota // Fail with RetCKeyExists if the key is present
)

// CursorOp selects how a cursor is positioned by Cursor.Get.
type CursorOp uint32

const (
	CursorFirst    CursorOp = iota + 1 // Position on the first record
	CursorLast                         // Position on the last record
	CursorNext                         // Move to the next record (First if unpositioned)
	CursorPrev                         // Move to the previous record (Last if unpositioned)
	CursorSet                          // Position on exactly the given key
	CursorSetRange                     // Position on the smallest key >= the given key
	CursorCurrent                      // Return the current record
)

func (op CursorOp) String() string {
	switch op {
	case CursorFirst:
		return "first"
	case CursorLast:
		return "last"
	case CursorNext:
		return "next"
	case CursorPrev:
		return "prev"
	case CursorSet:
		return "set"
	case CursorSetRange:
		return "setRange"
	case CursorCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// Environment is one store instance. Databases are opened by name and
// transactions may span every database opened in the same environment.
type Environment interface {
	// Open opens (or creates, with OpenCreate) the database with the given name.
	// Opening the same name twice returns two independent handles.
	Open(name string, flags OpenFlags) (db Database, err error)
	// Begin starts a transaction. A non-nil parent starts a nested transaction
	// whose writes become part of the parent when it commits.
	Begin(parent Txn) (txn Txn, err error)
	// Close closes the environment and every database still open in it.
	Close() (err error)
}

// Database is an open database handle.
// A nil Txn argument means the operation is applied in autocommit mode.
type Database interface {
	// Name returns the name the database was opened with.
	Name() string
	// Get returns the value stored for key. RetCNotFound if the key is absent.
	Get(txn Txn, key []byte) (value []byte, err error)
	// Put inserts or updates key. With PutNoOverwrite an existing key fails with RetCKeyExists.
	Put(txn Txn, key, value []byte, flags PutFlags) (err error)
	// Delete removes key. RetCNotFound if the key is absent.
	Delete(txn Txn, key []byte) (err error)
	// Cursor opens a cursor over the database, scoped to txn if given.
	Cursor(txn Txn) (cursor Cursor, err error)
	// Close closes the handle. It fails with RetCBusy while an open
	// transaction still holds uncommitted writes on the last handle of this database.
	Close() (err error)
}

// Cursor is an iteration position inside a database.
type Cursor interface {
	// Get positions the cursor according to op and returns the record it is positioned on.
	// The key argument is only used by CursorSet and CursorSetRange.
	Get(op CursorOp, key []byte) (k, v []byte, err error)
	// Put writes the record and positions the cursor on it.
	Put(key, value []byte, flags PutFlags) (err error)
	// Delete removes the record the cursor is positioned on.
	Delete() (err error)
	// Close releases the cursor.
	Close() (err error)
}

// Txn is a unit of work. Commit and Abort are both terminal.
type Txn interface {
	// ID returns an identifier unique among the transactions of the environment.
	ID() uint64
	// Parent returns the parent transaction or nil.
	Parent() Txn
	// Commit makes the writes durable (root) or hands them to the parent (nested).
	Commit() (err error)
	// Abort discards the writes of the transaction.
	Abort() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new StoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new StoreError with a formatted message.
func Errorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the RetCode of err. nil maps to RetCSuccess, any error that
// is not a *Error maps to RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return RetCInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code RetCode) bool {
	return err != nil && CodeOf(err) == code
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation (e.g. use of a closed handle).
	RetCNotFound                            // 4: Key or database not found.
	RetCKeyExists                           // 5: Key already exists (no-overwrite write).
	RetCDeadlock                            // 6: Lock wait would deadlock.
	RetCLockTimeout                         // 7: Lock wait timed out.
	RetCBusy                                // 8: Resource is in use.
	RetCInvalidArgument                     // 9: Malformed argument (empty key, bad name, ...).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCKeyExists:
		return "KeyExists"
	case RetCDeadlock:
		return "Deadlock"
	case RetCLockTimeout:
		return "LockTimeout"
	case RetCBusy:
		return "Busy"
	case RetCInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}
