package client

import (
	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// Database is a remote database handle.
// A nil *Txn argument runs the operation in autocommit mode.
type Database struct {
	env    *Env
	handle uint64
	name   string
}

// Handle returns the handle of the database on the server
func (db *Database) Handle() uint64 { return db.handle }

// Name returns the name the database was opened with
func (db *Database) Name() string { return db.name }

// Get returns the value of key
func (db *Database) Get(txn *Txn, key []byte) ([]byte, error) {
	resp, err := db.env.invokeRPCRequest(common.NewDBGetRequest(db.handle, txn.Handle(), key))
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Put writes key with the given common.FlagPut* flags
func (db *Database) Put(txn *Txn, key, value []byte, flags uint32) error {
	_, err := db.env.invokeRPCRequest(common.NewDBPutRequest(db.handle, txn.Handle(), key, value, flags))
	return err
}

// Delete removes key
func (db *Database) Delete(txn *Txn, key []byte) error {
	_, err := db.env.invokeRPCRequest(common.NewDBDelRequest(db.handle, txn.Handle(), key))
	return err
}

// Cursor opens a cursor on the database, scoped to txn if it is not nil
func (db *Database) Cursor(txn *Txn) (*Cursor, error) {
	resp, err := db.env.invokeRPCRequest(common.NewCursorOpenRequest(db.handle, txn.Handle()))
	if err != nil {
		return nil, err
	}
	return &Cursor{env: db.env, handle: resp.Handle}, nil
}

// Close closes the database. It fails with a busy status while cursors of it are open.
func (db *Database) Close() error {
	_, err := db.env.invokeRPCRequest(common.NewDBCloseRequest(db.handle))
	return err
}
