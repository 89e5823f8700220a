package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message (echoed in the response)
	MsgType MessageType `json:"msg_type"`

	// Handle arguments, 0 if absent
	DB     uint64 `json:"db,omitempty"`     // Used for: DB*, CursorOpen
	Txn    uint64 `json:"txn,omitempty"`    // Used for: DBGet, DBPut, DBDel, CursorOpen, TxnBegin (parent), TxnCommit, TxnAbort
	Cursor uint64 `json:"cursor,omitempty"` // Used for: Cursor* (except CursorOpen)

	// Scalar arguments
	Name  string `json:"name,omitempty"`  // Used for: DBOpen
	Key   []byte `json:"key,omitempty"`   // Used for: DBGet, DBPut, DBDel, CursorGet (request + response), CursorPut
	Value []byte `json:"value,omitempty"` // Used for: DBPut, CursorPut, DBGet (response), CursorGet (response)
	Flags uint32 `json:"flags,omitempty"` // Used for: DBOpen (Open*), DBPut + CursorPut (Put*), CursorGet (cursor op)

	// Response only fields
	Status Status `json:"status"`           // Wire status of the operation
	Handle uint64 `json:"handle,omitempty"` // New handle of DBOpen, CursorOpen, TxnBegin
	Err    string `json:"err,omitempty"`    // Optional human readable error detail
}

// Flags of DBOpen
const (
	FlagOpenCreate   uint32 = 1 << 0 // Create the database if it does not exist
	FlagOpenReadOnly uint32 = 1 << 1 // Reject writes through this handle
)

// Flags of DBPut and CursorPut
const (
	FlagPutNoOverwrite uint32 = 1 << 0 // Fail with StatusKeyExists if the key is present
)

// Cursor operations (Flags of CursorGet)
const (
	CursorFirst    uint32 = iota + 1 // Position on the first record
	CursorLast                       // Position on the last record
	CursorNext                       // Move to the next record (first if not positioned)
	CursorPrev                       // Move to the previous record (last if not positioned)
	CursorSet                        // Position on exactly Key
	CursorSetRange                   // Position on the smallest key >= Key
	CursorCurrent                    // Return the current record
)

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewDBOpenRequest creates a new DBOpen request
func NewDBOpenRequest(name string, flags uint32) *Message {
	return &Message{
		MsgType: MsgTDBOpen,
		Name:    name,
		Flags:   flags,
	}
}

// NewDBCloseRequest creates a new DBClose request
func NewDBCloseRequest(db uint64) *Message {
	return &Message{
		MsgType: MsgTDBClose,
		DB:      db,
	}
}

// NewDBGetRequest creates a new DBGet request (txn 0 = autocommit)
func NewDBGetRequest(db, txn uint64, key []byte) *Message {
	return &Message{
		MsgType: MsgTDBGet,
		DB:      db,
		Txn:     txn,
		Key:     key,
	}
}

// NewDBPutRequest creates a new DBPut request (txn 0 = autocommit)
func NewDBPutRequest(db, txn uint64, key, value []byte, flags uint32) *Message {
	return &Message{
		MsgType: MsgTDBPut,
		DB:      db,
		Txn:     txn,
		Key:     key,
		Value:   value,
		Flags:   flags,
	}
}

// NewDBDelRequest creates a new DBDel request (txn 0 = autocommit)
func NewDBDelRequest(db, txn uint64, key []byte) *Message {
	return &Message{
		MsgType: MsgTDBDel,
		DB:      db,
		Txn:     txn,
		Key:     key,
	}
}

// NewCursorOpenRequest creates a new CursorOpen request (txn 0 = no transaction)
func NewCursorOpenRequest(db, txn uint64) *Message {
	return &Message{
		MsgType: MsgTCursorOpen,
		DB:      db,
		Txn:     txn,
	}
}

// NewCursorCloseRequest creates a new CursorClose request
func NewCursorCloseRequest(cursor uint64) *Message {
	return &Message{
		MsgType: MsgTCursorClose,
		Cursor:  cursor,
	}
}

// NewCursorGetRequest creates a new CursorGet request. key is only used by CursorSet and CursorSetRange.
func NewCursorGetRequest(cursor uint64, op uint32, key []byte) *Message {
	return &Message{
		MsgType: MsgTCursorGet,
		Cursor:  cursor,
		Flags:   op,
		Key:     key,
	}
}

// NewCursorPutRequest creates a new CursorPut request
func NewCursorPutRequest(cursor uint64, key, value []byte, flags uint32) *Message {
	return &Message{
		MsgType: MsgTCursorPut,
		Cursor:  cursor,
		Key:     key,
		Value:   value,
		Flags:   flags,
	}
}

// NewCursorDelRequest creates a new CursorDel request
func NewCursorDelRequest(cursor uint64) *Message {
	return &Message{
		MsgType: MsgTCursorDel,
		Cursor:  cursor,
	}
}

// NewTxnBeginRequest creates a new TxnBegin request (parent 0 = top level)
func NewTxnBeginRequest(parent uint64) *Message {
	return &Message{
		MsgType: MsgTTxnBegin,
		Txn:     parent,
	}
}

// NewTxnCommitRequest creates a new TxnCommit request
func NewTxnCommitRequest(txn uint64) *Message {
	return &Message{
		MsgType: MsgTTxnCommit,
		Txn:     txn,
	}
}

// NewTxnAbortRequest creates a new TxnAbort request
func NewTxnAbortRequest(txn uint64) *Message {
	return &Message{
		MsgType: MsgTTxnAbort,
		Txn:     txn,
	}
}

// NewDisconnectRequest creates a new Disconnect request
func NewDisconnectRequest() *Message {
	return &Message{
		MsgType: MsgTDisconnect,
	}
}

// NewResponse creates a new response for a request of type msgType
func NewResponse(msgType MessageType, status Status, err error) *Message {
	msg := &Message{
		MsgType: msgType,
		Status:  status,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new response for a request that could not be handled at all
func NewErrorResponse(status Status, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Status:  status,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var msgTypeNames = map[MessageType]string{
	MsgTError:       "error",
	MsgTDBOpen:      "dbOpen",
	MsgTDBClose:     "dbClose",
	MsgTDBGet:       "dbGet",
	MsgTDBPut:       "dbPut",
	MsgTDBDel:       "dbDel",
	MsgTCursorOpen:  "cursorOpen",
	MsgTCursorClose: "cursorClose",
	MsgTCursorGet:   "cursorGet",
	MsgTCursorPut:   "cursorPut",
	MsgTCursorDel:   "cursorDel",
	MsgTTxnBegin:    "txnBegin",
	MsgTTxnCommit:   "txnCommit",
	MsgTTxnAbort:    "txnAbort",
	MsgTDisconnect:  "disconnect",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "unknown" {
		*t = MsgTUnknown
		return nil
	}
	for msgType, name := range msgTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

// The numeric values are part of the wire format and must not change.
const (
	MsgTUnknown MessageType = iota
	MsgTError               // Response to a request that could not be dispatched

	// Database operations

	MsgTDBOpen  // Open (or create) a database
	MsgTDBClose // Close a database handle
	MsgTDBGet   // Get a value by key
	MsgTDBPut   // Put a key-value pair
	MsgTDBDel   // Delete a key

	// Cursor operations

	MsgTCursorOpen  // Open a cursor on a database
	MsgTCursorClose // Close a cursor
	MsgTCursorGet   // Move a cursor and read the record
	MsgTCursorPut   // Write through a cursor
	MsgTCursorDel   // Delete the record under a cursor

	// Transaction operations

	MsgTTxnBegin  // Begin a (nested) transaction
	MsgTTxnCommit // Commit a transaction
	MsgTTxnAbort  // Abort a transaction

	// Session operations

	MsgTDisconnect // End the session, releasing all its handles
)
