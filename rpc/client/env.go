package client

import (
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/serializer"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
)

// NewRPCEnv creates a client for the environment served under shardId
// The function takes a shard ID, a config, a transport and a serializer as parameters
// and connects the transport. All handles created through the returned Env
// belong to this connection and are released by the server when it ends.
func NewRPCEnv(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Env, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &Env{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// Env is a remote environment
type Env struct {
	rpcClientAdapter
}

// Open opens the database name with the given common.FlagOpen* flags
func (e *Env) Open(name string, flags uint32) (*Database, error) {
	resp, err := e.invokeRPCRequest(common.NewDBOpenRequest(name, flags))
	if err != nil {
		return nil, err
	}
	return &Database{env: e, handle: resp.Handle, name: name}, nil
}

// Begin starts a transaction, nested under parent if it is not nil
func (e *Env) Begin(parent *Txn) (*Txn, error) {
	resp, err := e.invokeRPCRequest(common.NewTxnBeginRequest(parent.Handle()))
	if err != nil {
		return nil, err
	}
	return &Txn{env: e, handle: resp.Handle, parent: parent}, nil
}

// Disconnect releases every handle of this connection on the server.
// The connection itself stays usable.
func (e *Env) Disconnect() error {
	_, err := e.invokeRPCRequest(common.NewDisconnectRequest())
	return err
}

// Close closes the transport, the server releases all handles of the connection
func (e *Env) Close() error {
	return e.transport.Close()
}
