package common

import (
	"encoding/json"
	"fmt"
)

// Status is the outcome of an operation as sent on the wire.
//
// The numeric values are part of the wire contract and stable across versions:
//
//	0 success          the operation succeeded
//	1 not-found        key, record or database does not exist
//	2 key-exists       no-overwrite write of an existing key
//	3 deadlock         lock wait would deadlock or timed out, abort and retry the transaction
//	4 resource-busy    resource still in use (database with live cursors or transactions)
//	5 invalid-handle   unknown, released or foreign handle, or handle of the wrong kind
//	6 invalid-argument malformed argument (empty key, bad name, unknown cursor op, ...)
//	7 protocol-error   malformed or unknown request
//	8 internal-error   anything else, the affected handle was released
type Status uint8

const (
	StatusSuccess Status = iota
	StatusNotFound
	StatusKeyExists
	StatusDeadlock
	StatusBusy
	StatusInvalidHandle
	StatusInvalidArgument
	StatusProtocolError
	StatusInternalError
)

var statusNames = [...]string{
	StatusSuccess:         "success",
	StatusNotFound:        "not-found",
	StatusKeyExists:       "key-exists",
	StatusDeadlock:        "deadlock",
	StatusBusy:            "resource-busy",
	StatusInvalidHandle:   "invalid-handle",
	StatusInvalidArgument: "invalid-argument",
	StatusProtocolError:   "protocol-error",
	StatusInternalError:   "internal-error",
}

// IsValid reports whether s is one of the defined statuses
func (s Status) IsValid() bool {
	return int(s) < len(statusNames)
}

func (s Status) String() string {
	if s.IsValid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// MarshalJSON implements the json.Marshaller interface for Status
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Status
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status: %s", name)
}
