// Package rpc provides remote access to transactional key-value environments.
// Clients open databases, transactions and cursors on the server and refer to
// them by opaque handles that are bound to the connection that created them.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, wire statuses, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP, gRPC). Every transport reports a stable connection id
//     per client and notifies the server when a connection ends.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: Proxies for environments, databases, cursors and transactions that
//     translate method calls into requests and wire statuses into errors.
//
//   - server: The RPC server: dispatcher, handle lifecycle, status mapping,
//     idle connection reaper and metrics.
package rpc
