package transport

import (
	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc answers one serialized request. connId identifies the
// connection (or http session) the request arrived on and scopes every handle
// the request creates or uses, shardId selects the store environment.
// Requests of one connection may be handled concurrently.
type ServerHandleFunc func(connId uint64, shardId uint64, req []byte) (resp []byte)

// DisconnectFunc is called by a server transport once a connection (or session) has ended
// and no request of it is in flight anymore. It is called exactly once per connection id.
type DisconnectFunc func(connId uint64)

// IRPCServerTransport accepts connections and feeds their requests to the
// registered handler. Connection ids are never reused within one transport.
type IRPCServerTransport interface {
	// RegisterHandler sets the handler for requests, it must be called before Listen
	RegisterHandler(handler ServerHandleFunc)
	// RegisterDisconnectHandler sets the handler called when a connection ends
	RegisterDisconnectHandler(handler DisconnectFunc)
	// Listen accepts connections on config.Transport.Endpoint.
	// It blocks until Close is called or the listener fails
	Listen(config common.ServerConfig) error
	// Close stops listening and ends all connections, the disconnect handler
	// runs for every connection that was still open
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
//
// Handles issued by the server belong to the connection they were created on,
// so implementations send every request of one transport over the same
// connection (or session) and never retry a request.
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection, the server releases all handles of it
	Close() error
}
