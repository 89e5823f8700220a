// Package cmd implements the command-line interface of dbRPC. It provides a
// hierarchical command structure with operations for running the server and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the dbRPC server
//   - db: Client commands (get, put, del, scan, an interactive shell and a benchmark)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dbrpc -help for a list of all commands.
package cmd
