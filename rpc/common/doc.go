// Package common provides core data structures and utilities shared across
// the RPC client, server and transports. It defines the wire message, the wire
// status codes, configuration structures and the logger setup.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Requests carry the
//     operation, handle arguments (DB, Txn, Cursor) and scalar arguments (Name,
//     Key, Value, Flags). Responses carry a Status, an optional new Handle and
//     results. Includes factory methods for every request type.
//
//   - MessageType: Enumeration of all supported operations, grouped into
//     database, cursor, transaction and session operations.
//
//   - Status: The closed set of wire status codes. The numeric values are part
//     of the wire contract.
//
//   - ServerConfig / ClientConfig: Configuration for server and client, with
//     human readable String() renderers used by the CLI.
//
//   - Logger: Custom logging implementation that plugs into the dragonboat
//     logger registry, optionally writing to a rotating log file.
package common
