package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dbRPC/lib/handle"
	"github.com/ValentinKolb/dbRPC/lib/store"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// Dispatcher executes decoded requests against the environments of the shards.
// Every handle argument is resolved through the handle table before the store
// is touched, resources created by a request are registered in the table and
// resources destroyed by a request are torn down in lifecycle order.
type Dispatcher struct {
	table   *handle.Table
	shards  *xsync.MapOf[uint64, store.Environment]
	metrics *serverMetrics
}

// NewDispatcher creates a dispatcher without shards that registers handles in table
func NewDispatcher(table *handle.Table) *Dispatcher {
	return &Dispatcher{
		table:  table,
		shards: xsync.NewMapOf[uint64, store.Environment](),
	}
}

// AddShard serves env under shardID
func (d *Dispatcher) AddShard(shardID uint64, env store.Environment) {
	d.shards.Store(shardID, env)
}

// Table returns the handle table of the dispatcher
func (d *Dispatcher) Table() *handle.Table {
	return d.table
}

// Handle executes req on behalf of the connection conn and returns the response.
// It never panics on malformed input and never retries a store operation.
func (d *Dispatcher) Handle(conn handle.ConnID, shardID uint64, req *common.Message) *common.Message {
	start := time.Now()
	resp := d.handle(conn, shardID, req)
	d.metrics.observeRequest(req.MsgType, resp.Status, start)
	return resp
}

// ReleaseConnection releases every handle owned by conn and closes (or aborts)
// the store resources behind them. It returns the number of released handles.
func (d *Dispatcher) ReleaseConnection(conn handle.ConnID) int {
	detached := d.table.DetachConnection(conn)
	if detached.Len() == 0 {
		return 0
	}

	d.teardown(detached)
	Logger.Infof("released %d handle(s) of connection %d", detached.Len(), conn)
	return detached.Len()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (d *Dispatcher) handle(conn handle.ConnID, shardID uint64, req *common.Message) *common.Message {
	env, ok := d.shards.Load(shardID)
	if !ok {
		return common.NewErrorResponse(common.StatusProtocolError, fmt.Sprintf("shard %d not found", shardID))
	}

	scope := handle.Scope{Conn: conn, Shard: shardID}
	d.table.Touch(conn)

	resp := &common.Message{MsgType: req.MsgType}
	var err error

	switch req.MsgType {
	case common.MsgTDBOpen:
		resp.Handle, err = d.dbOpen(scope, env, req)
	case common.MsgTDBClose:
		err = d.dbClose(scope, req)
	case common.MsgTDBGet:
		resp.Value, err = d.dbGet(scope, req)
	case common.MsgTDBPut:
		err = d.dbPut(scope, req)
	case common.MsgTDBDel:
		err = d.dbDel(scope, req)
	case common.MsgTCursorOpen:
		resp.Handle, err = d.cursorOpen(scope, req)
	case common.MsgTCursorClose:
		err = d.cursorClose(scope, req)
	case common.MsgTCursorGet:
		resp.Key, resp.Value, err = d.cursorGet(scope, req)
	case common.MsgTCursorPut:
		err = d.cursorPut(scope, req)
	case common.MsgTCursorDel:
		err = d.cursorDel(scope, req)
	case common.MsgTTxnBegin:
		resp.Handle, err = d.txnBegin(scope, env, req)
	case common.MsgTTxnCommit:
		err = d.txnEnd(scope, req, true)
	case common.MsgTTxnAbort:
		err = d.txnEnd(scope, req, false)
	case common.MsgTDisconnect:
		d.metrics.observeRelease("disconnect", d.ReleaseConnection(conn))
	default:
		return common.NewErrorResponse(common.StatusProtocolError,
			protocolErrorf("unsupported message type %s", req.MsgType).Error())
	}

	resp.Status = MapStatus(err)
	if err != nil {
		resp.Err = err.Error()
		resp.Handle = 0
		resp.Key = nil
		resp.Value = nil

		if resp.Status == common.StatusInternalError {
			Logger.Errorf("%s on shard %d for connection %d failed: %v", req.MsgType, shardID, conn, err)
		} else {
			Logger.Debugf("%s on shard %d for connection %d: %s (%v)", req.MsgType, shardID, conn, resp.Status, err)
		}
	}
	return resp
}

// --------------------------------------------------------------------------
// Databases
// --------------------------------------------------------------------------

func (d *Dispatcher) dbOpen(scope handle.Scope, env store.Environment, req *common.Message) (uint64, error) {
	flags, err := openFlags(req.Flags)
	if err != nil {
		return 0, err
	}

	db, err := env.Open(req.Name, flags)
	if err != nil {
		return 0, err
	}

	h, err := d.table.Allocate(handle.AllocRequest{
		Kind:     handle.KindDatabase,
		Scope:    scope,
		Resource: db,
	})
	if err != nil {
		_ = db.Close()
		return 0, err
	}
	return uint64(h), nil
}

func (d *Dispatcher) dbClose(scope handle.Scope, req *common.Message) error {
	e, err := d.table.BeginCloseDatabase(scope, handle.Handle(req.DB))
	if err != nil {
		return err
	}

	var closeErr error
	e.Exclusive(func() {
		if e.Dead() {
			// released by a connection teardown in the meantime
			closeErr = handle.ErrNotFound
			return
		}
		closeErr = e.Resource.(store.Database).Close()
	})

	switch {
	case closeErr == nil:
		d.table.FinishCloseDatabase(e, true)
		return nil
	case errors.Is(closeErr, handle.ErrNotFound):
		d.table.FinishCloseDatabase(e, false)
		return closeErr
	case store.IsCode(closeErr, store.RetCBusy):
		// an open transaction still holds writes, the handle stays usable
		d.table.FinishCloseDatabase(e, false)
		return closeErr
	default:
		d.table.FinishCloseDatabase(e, true)
		return fmt.Errorf("failed to close database %d, handle released: %v", req.DB, closeErr)
	}
}

func (d *Dispatcher) dbGet(scope handle.Scope, req *common.Message) (value []byte, err error) {
	err = d.withDB(scope, req.DB, req.Txn, func(db store.Database, txn store.Txn) error {
		value, err = db.Get(txn, req.Key)
		return err
	})
	return value, err
}

func (d *Dispatcher) dbPut(scope handle.Scope, req *common.Message) error {
	flags, err := putFlags(req.Flags)
	if err != nil {
		return err
	}

	return d.withDB(scope, req.DB, req.Txn, func(db store.Database, txn store.Txn) error {
		return db.Put(txn, req.Key, req.Value, flags)
	})
}

func (d *Dispatcher) dbDel(scope handle.Scope, req *common.Message) error {
	return d.withDB(scope, req.DB, req.Txn, func(db store.Database, txn store.Txn) error {
		return db.Delete(txn, req.Key)
	})
}

// withDB runs fn with leases on the database and the optional txn of a request.
// After an internal error the txn and the database are released.
func (d *Dispatcher) withDB(scope handle.Scope, dbHandle, txnHandle uint64, fn func(store.Database, store.Txn) error) error {
	db, txn, done, err := d.acquireDB(scope, dbHandle, txnHandle)
	if err != nil {
		return err
	}

	err = fn(db, txn)
	done()

	if MapStatus(err) == common.StatusInternalError {
		d.releaseTxn(scope, txnHandle)
		d.releaseDB(scope, dbHandle)
	}
	return err
}

// acquireDB leases the database and the optional txn of a request
func (d *Dispatcher) acquireDB(scope handle.Scope, dbHandle, txnHandle uint64) (store.Database, store.Txn, func(), error) {
	dbLease, err := d.table.Acquire(scope, handle.Handle(dbHandle), handle.KindDatabase)
	if err != nil {
		return nil, nil, nil, err
	}
	db := dbLease.Resource.(store.Database)

	if txnHandle == 0 {
		return db, nil, dbLease.Done, nil
	}

	txnLease, err := d.table.Acquire(scope, handle.Handle(txnHandle), handle.KindTxn)
	if err != nil {
		dbLease.Done()
		return nil, nil, nil, err
	}

	done := func() {
		txnLease.Done()
		dbLease.Done()
	}
	return db, txnLease.Resource.(store.Txn), done, nil
}

// --------------------------------------------------------------------------
// Cursors
// --------------------------------------------------------------------------

func (d *Dispatcher) cursorOpen(scope handle.Scope, req *common.Message) (h uint64, err error) {
	err = d.withDB(scope, req.DB, req.Txn, func(db store.Database, txn store.Txn) error {
		cursor, err := db.Cursor(txn)
		if err != nil {
			return err
		}

		id, err := d.table.Allocate(handle.AllocRequest{
			Kind:     handle.KindCursor,
			Scope:    scope,
			DB:       handle.Handle(req.DB),
			Txn:      handle.Handle(req.Txn),
			Resource: cursor,
		})
		if err != nil {
			_ = cursor.Close()
			return err
		}
		h = uint64(id)
		return nil
	})
	return h, err
}

func (d *Dispatcher) cursorClose(scope handle.Scope, req *common.Message) error {
	e, err := d.table.Release(scope, handle.Handle(req.Cursor), handle.KindCursor)
	if err != nil {
		return err
	}
	return closeCursor(e)
}

func (d *Dispatcher) cursorGet(scope handle.Scope, req *common.Message) (key, value []byte, err error) {
	op, err := cursorOp(req.Flags)
	if err != nil {
		return nil, nil, err
	}

	err = d.withCursor(scope, req.Cursor, func(cursor store.Cursor) error {
		key, value, err = cursor.Get(op, req.Key)
		return err
	})
	return key, value, err
}

func (d *Dispatcher) cursorPut(scope handle.Scope, req *common.Message) error {
	flags, err := putFlags(req.Flags)
	if err != nil {
		return err
	}

	return d.withCursor(scope, req.Cursor, func(cursor store.Cursor) error {
		return cursor.Put(req.Key, req.Value, flags)
	})
}

func (d *Dispatcher) cursorDel(scope handle.Scope, req *common.Message) error {
	return d.withCursor(scope, req.Cursor, func(cursor store.Cursor) error {
		return cursor.Delete()
	})
}

// withCursor runs fn with a lease on the cursor. A cursor that fails with an
// internal error is released.
func (d *Dispatcher) withCursor(scope handle.Scope, cursorHandle uint64, fn func(store.Cursor) error) error {
	lease, err := d.table.Acquire(scope, handle.Handle(cursorHandle), handle.KindCursor)
	if err != nil {
		return err
	}

	err = fn(lease.Resource.(store.Cursor))
	lease.Done()

	if MapStatus(err) == common.StatusInternalError {
		if e, releaseErr := d.table.Release(scope, handle.Handle(cursorHandle), handle.KindCursor); releaseErr == nil {
			Logger.Warningf("released cursor %d after internal error", cursorHandle)
			_ = closeCursor(e)
		}
	}
	return err
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (d *Dispatcher) txnBegin(scope handle.Scope, env store.Environment, req *common.Message) (uint64, error) {
	var txn store.Txn
	var err error
	if req.Txn == 0 {
		txn, err = env.Begin(nil)
	} else {
		lease, leaseErr := d.table.Acquire(scope, handle.Handle(req.Txn), handle.KindTxn)
		if leaseErr != nil {
			return 0, leaseErr
		}
		txn, err = env.Begin(lease.Resource.(store.Txn))
		lease.Done()

		if MapStatus(err) == common.StatusInternalError {
			d.releaseTxn(scope, req.Txn)
		}
	}
	if err != nil {
		return 0, err
	}

	h, err := d.table.Allocate(handle.AllocRequest{
		Kind:     handle.KindTxn,
		Scope:    scope,
		Txn:      handle.Handle(req.Txn),
		Resource: txn,
	})
	if err != nil {
		_ = txn.Abort()
		return 0, err
	}
	return uint64(h), nil
}

func (d *Dispatcher) txnEnd(scope handle.Scope, req *common.Message, commit bool) error {
	detached, err := d.table.DetachTxn(scope, handle.Handle(req.Txn))
	if err != nil {
		return err
	}
	return endTxn(detached, commit)
}

// --------------------------------------------------------------------------
// Release after internal errors
// --------------------------------------------------------------------------

// releaseTxn aborts the txn h of a failed request together with its nested
// txns and cursors. The caller must not hold a lease on any of them.
func (d *Dispatcher) releaseTxn(scope handle.Scope, h uint64) {
	if h == 0 {
		return
	}
	detached, err := d.table.DetachTxn(scope, handle.Handle(h))
	if err != nil {
		return
	}
	Logger.Warningf("aborting txn %d after internal error", h)
	if err := endTxn(detached, false); err != nil {
		Logger.Warningf("failed to abort txn %d: %v", h, err)
	}
}

// releaseDB closes the database h of a failed request. A database with live
// cursors stays open. The caller must not hold a lease on it.
func (d *Dispatcher) releaseDB(scope handle.Scope, h uint64) {
	e, err := d.table.BeginCloseDatabase(scope, handle.Handle(h))
	if err != nil {
		Logger.Warningf("database %d stays open after internal error: %v", h, err)
		return
	}

	e.Exclusive(func() {
		if e.Dead() {
			return
		}
		if err := e.Resource.(store.Database).Close(); err != nil {
			Logger.Warningf("failed to close database %d: %v", h, err)
		}
	})
	d.table.FinishCloseDatabase(e, true)
	Logger.Warningf("released database %d after internal error", h)
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

func openFlags(flags uint32) (store.OpenFlags, error) {
	if flags&^(common.FlagOpenCreate|common.FlagOpenReadOnly) != 0 {
		return 0, invalidArgumentf("unknown open flags %#x", flags)
	}

	var f store.OpenFlags
	if flags&common.FlagOpenCreate != 0 {
		f |= store.OpenCreate
	}
	if flags&common.FlagOpenReadOnly != 0 {
		f |= store.OpenReadOnly
	}
	return f, nil
}

func putFlags(flags uint32) (store.PutFlags, error) {
	if flags&^common.FlagPutNoOverwrite != 0 {
		return 0, invalidArgumentf("unknown put flags %#x", flags)
	}

	var f store.PutFlags
	if flags&common.FlagPutNoOverwrite != 0 {
		f |= store.PutNoOverwrite
	}
	return f, nil
}

var cursorOps = map[uint32]store.CursorOp{
	common.CursorFirst:    store.CursorFirst,
	common.CursorLast:     store.CursorLast,
	common.CursorNext:     store.CursorNext,
	common.CursorPrev:     store.CursorPrev,
	common.CursorSet:      store.CursorSet,
	common.CursorSetRange: store.CursorSetRange,
	common.CursorCurrent:  store.CursorCurrent,
}

func cursorOp(flags uint32) (store.CursorOp, error) {
	op, ok := cursorOps[flags]
	if !ok {
		return 0, invalidArgumentf("unknown cursor op %d", flags)
	}
	return op, nil
}
