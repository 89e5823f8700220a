package client

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// StatusError is returned for every request the server answered with a non-success status
type StatusError struct {
	Op     common.MessageType // the request that failed
	Status common.Status      // the wire status
	Msg    string             // the error message of the server
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Status, e.Msg)
}

// StatusOf returns the wire status carried by err. nil is StatusSuccess,
// errors that did not come from the server (transport, codec) are StatusInternalError.
func StatusOf(err error) common.Status {
	if err == nil {
		return common.StatusSuccess
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return common.StatusInternalError
}

func hasStatus(err error, status common.Status) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == status
}

// IsNotFound reports whether the key, record or database does not exist
func IsNotFound(err error) bool { return hasStatus(err, common.StatusNotFound) }

// IsKeyExists reports whether a no-overwrite write hit an existing key
func IsKeyExists(err error) bool { return hasStatus(err, common.StatusKeyExists) }

// IsDeadlock reports whether the transaction lost a lock conflict and should be aborted
func IsDeadlock(err error) bool { return hasStatus(err, common.StatusDeadlock) }

// IsBusy reports whether the resource is still in use
func IsBusy(err error) bool { return hasStatus(err, common.StatusBusy) }

// IsInvalidHandle reports whether the handle is unknown to the server. This is
// the case after the handle was released, after a reconnect or a server restart.
func IsInvalidHandle(err error) bool { return hasStatus(err, common.StatusInvalidHandle) }

// IsInvalidArgument reports whether the request was rejected as malformed
func IsInvalidArgument(err error) bool { return hasStatus(err, common.StatusInvalidArgument) }
