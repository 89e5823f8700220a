package client

import (
	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// Txn is a remote transaction handle. Commit and Abort end the transaction,
// its nested transactions and every cursor opened in any of them.
type Txn struct {
	env    *Env
	handle uint64
	parent *Txn
}

// Handle returns the handle of the transaction on the server (0 for a nil txn)
func (t *Txn) Handle() uint64 {
	if t == nil {
		return 0
	}
	return t.handle
}

// Parent returns the parent transaction or nil
func (t *Txn) Parent() *Txn { return t.parent }

// Commit commits the transaction
func (t *Txn) Commit() error {
	_, err := t.env.invokeRPCRequest(common.NewTxnCommitRequest(t.handle))
	return err
}

// Abort aborts the transaction
func (t *Txn) Abort() error {
	_, err := t.env.invokeRPCRequest(common.NewTxnAbortRequest(t.handle))
	return err
}
