// Package http implements an HTTP-based transport layer for RPC communication.
// It provides concrete implementations of the transport interfaces defined in the
// parent package, enabling communication between clients and servers over HTTP.
//
// HTTP has no connection the server could bind handles to, so the client picks a
// random session id (a uuid) in Connect and sends it in the X-DBRPC-Session header
// of every request. The server maps each session id to a connection id. A session
// ends with DELETE /session (sent by Close), when it was idle for longer than the
// idle timeout, or when the server shuts down. Requests without the header form a
// session of their own that ends right after the response.
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. All requests go to the
//     first reachable endpoint and are never retried.
//
//   - httpServerTransport: Implements IRPCServerTransport, routing POST /{shardId}
//     requests to the handler together with the connection id of their session.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. A session
//	ends only after all of its in-flight requests were answered.
package http
