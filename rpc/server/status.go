package server

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dbRPC/lib/handle"
	"github.com/ValentinKolb/dbRPC/lib/store"
	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// ErrProtocol marks requests that are malformed or of an unknown type
var ErrProtocol = errors.New("protocol error")

func protocolErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func invalidArgumentf(format string, args ...interface{}) error {
	return store.Errorf(store.RetCInvalidArgument, format, args...)
}

// MapStatus translates the outcome of an operation into its wire status.
// The mapping is total: errors it does not know map to StatusInternalError.
func MapStatus(err error) common.Status {
	if err == nil {
		return common.StatusSuccess
	}

	switch {
	case errors.Is(err, ErrProtocol):
		return common.StatusProtocolError
	case errors.Is(err, handle.ErrNotFound),
		errors.Is(err, handle.ErrKindMismatch),
		errors.Is(err, handle.ErrNotOwner):
		return common.StatusInvalidHandle
	case errors.Is(err, handle.ErrBusy):
		return common.StatusBusy
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return mapRetCode(storeErr.Code)
	}
	return common.StatusInternalError
}

// mapRetCode maps the closed set of store return codes
func mapRetCode(code store.RetCode) common.Status {
	switch code {
	case store.RetCSuccess:
		return common.StatusSuccess
	case store.RetCNotFound:
		return common.StatusNotFound
	case store.RetCKeyExists:
		return common.StatusKeyExists
	case store.RetCDeadlock, store.RetCLockTimeout:
		return common.StatusDeadlock
	case store.RetCBusy:
		return common.StatusBusy
	case store.RetCInvalidArgument,
		store.RetCInvalidOperation,
		store.RetCUnsupportedOperation:
		// the request is not valid for the resource or its current state
		return common.StatusInvalidArgument
	default:
		return common.StatusInternalError
	}
}
