// Package transport defines how requests travel between the client library
// and the server. Implementations live in the subpackages tcp, unix, http
// and grpc, the framed stream logic shared by tcp and unix is in base.
//
// A server transport calls its ServerHandleFunc for every request with the
// id of the connection the request arrived on and the target shard. The id is
// stable for the lifetime of the connection (for http: of the session) and
// never reused. When a connection ends, the DisconnectFunc is called exactly
// once, after every request of that connection was answered. The server uses
// it to release the handles the connection owned.
//
// A client transport sends all requests over one connection, handles created
// on it are not valid on any other. Requests are never retried: after a
// connection failure the next request opens a new connection and the caller
// has to reopen its handles.
package transport
