// Package unix implements the RPC transport over Unix domain sockets. It provides
// communication for processes running on the same machine.
//
// This package extends the base transport layer with Unix socket-specific connectors
// while inheriting framing, connection tracking and error handling from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners (an existing socket file is replaced)
//
// The default server buffer size is 64 KB.
package unix
