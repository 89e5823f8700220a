// Package server implements the RPC server of dbRPC. It maps the ephemeral
// resources of the store (open databases, cursors and transactions) to handles
// exchanged over the wire and executes decoded requests against the store.
//
// The package focuses on:
//   - Resolving every handle argument through the handle table before the store is touched
//   - Tearing down dependent resources in lifecycle order
//   - Translating store outcomes into stable wire statuses (MapStatus)
//   - Releasing everything a connection owns when it ends or stays idle
//
// Key Components:
//
//   - Dispatcher: Executes one request on behalf of a connection. Resources created
//     by a request are registered in the handle table, resources destroyed by a request
//     are detached from the table before the store closes them.
//
//   - MapStatus: Pure and total mapping of errors to common.Status.
//
//   - NewRPCServer: Factory function creating a server with one environment per
//     configured shard, the given transport and serializer.
//
// Lifecycle Rules:
//
//   - Committing or aborting a transaction first releases its cursors and nested
//     transactions. Cursors are closed, nested transactions are committed (or
//     aborted) children first, then the transaction itself.
//
//   - Closing a database with open cursors fails with StatusBusy and changes nothing.
//     A store that refuses the close as busy leaves the handle usable; any other
//     failure releases the handle and reports StatusInternalError.
//
//   - A request failing with StatusInternalError releases the handles it named: the
//     cursor is closed, the txn aborted, the database closed unless cursors of it are live.
//
//   - When a connection ends (transport disconnect, Disconnect request, idle timeout)
//     all of its cursors are closed, its transactions aborted and its databases closed.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeMemory},
//	    {ShardID: 200, Type: common.ShardTypeDisk},
//	  },
//	  DataDir:           "./data",
//	  LockTimeoutMs:     2000,
//	  IdleTimeoutSecond: 300,
//	  Transport:         common.ServerTransportConfig{Endpoint: "0.0.0.0:8080", WorkersPerConn: 16},
//	  LogLevel:          "info",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	The server handles concurrent requests of many connections, including several
//	in-flight requests of one connection. Serve should be called only once.
package server
