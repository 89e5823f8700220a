// Package base provides the stream transport shared by the tcp and unix transports.
// It implements framing, request correlation and connection tracking independent of
// the specific network protocol and is extended with protocol-specific connectors.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - Frame-based message protocol with shardID and requestID tracking
//   - Connection identity for the server (every accepted connection gets a fresh id)
//   - Buffer reuse on the server side
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Client implementation pinned to a single connection to the
//     first reachable endpoint. Handles live on the connection they were created on,
//     so requests are never retried or spread over several connections. A failed
//     connection fails all pending requests, the next Send dials a new one.
//
//   - serverTransport: Accepts connections and routes requests to the handler
//     together with the connection id. When a connection ends, the disconnect
//     handler is called after all in-flight requests of it are answered.
//
// Frame Format:
//
//	8 bytes shardID | 8 bytes requestID | 4 bytes length | payload (big endian)
//
// Thread Safety:
//
//	All public methods are thread-safe. The server processes up to WorkersPerConn
//	requests of one connection concurrently, responses are matched by requestID.
package base
