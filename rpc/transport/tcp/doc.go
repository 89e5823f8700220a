// Package tcp implements the TCP socket transport of the RPC system. It provides
// concrete implementations of the base package's connector interfaces.
//
// This package builds on the base package's framing, buffer reuse and connection
// tracking. See the base package documentation for the underlying mechanisms.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Both connectors apply the socket options of the transport config (no delay,
// keep-alive, linger and buffer sizes). The default server buffer size is 512 KB.
package tcp
