package client

import (
	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// Cursor is a remote cursor handle
type Cursor struct {
	env    *Env
	handle uint64
}

// Handle returns the handle of the cursor on the server
func (c *Cursor) Handle() uint64 { return c.handle }

// Get positions the cursor with one of the common.Cursor* operations and returns the record
func (c *Cursor) Get(op uint32, key []byte) (k, v []byte, err error) {
	resp, err := c.env.invokeRPCRequest(common.NewCursorGetRequest(c.handle, op, key))
	if err != nil {
		return nil, nil, err
	}
	return resp.Key, resp.Value, nil
}

func (c *Cursor) First() (k, v []byte, err error) { return c.Get(common.CursorFirst, nil) }
func (c *Cursor) Last() (k, v []byte, err error)  { return c.Get(common.CursorLast, nil) }
func (c *Cursor) Next() (k, v []byte, err error)  { return c.Get(common.CursorNext, nil) }
func (c *Cursor) Prev() (k, v []byte, err error)  { return c.Get(common.CursorPrev, nil) }

// Seek positions the cursor on the smallest key >= key
func (c *Cursor) Seek(key []byte) (k, v []byte, err error) {
	return c.Get(common.CursorSetRange, key)
}

// Put writes the record and positions the cursor on it
func (c *Cursor) Put(key, value []byte, flags uint32) error {
	_, err := c.env.invokeRPCRequest(common.NewCursorPutRequest(c.handle, key, value, flags))
	return err
}

// Delete removes the record the cursor is positioned on
func (c *Cursor) Delete() error {
	_, err := c.env.invokeRPCRequest(common.NewCursorDelRequest(c.handle))
	return err
}

// Close closes the cursor
func (c *Cursor) Close() error {
	_, err := c.env.invokeRPCRequest(common.NewCursorCloseRequest(c.handle))
	return err
}
