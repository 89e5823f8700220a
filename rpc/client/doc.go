// Package client implements the RPC client of a remote dbRPC environment.
// It provides proxies for environments, databases, cursors and transactions
// that forward every operation to the server via the configured transport.
//
// The package focuses on:
//   - Transparent access to a remote transactional store
//   - Integration with the transport and serialization layers
//   - Conversion of wire statuses into errors (*StatusError)
//
// Key Components:
//
//   - NewRPCEnv: Factory function that connects the transport and returns an Env
//     for one shard.
//
//   - Database, Cursor, Txn: Proxies that carry the handle issued by the server.
//
//   - StatusError: The error returned for non-success statuses, with helpers like
//     IsNotFound, IsKeyExists, IsDeadlock, IsBusy and IsInvalidHandle.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:         []string{"localhost:8080"},
//	    ConnectRetryCount: 3,
//	  },
//	}
//
//	env, _ := client.NewRPCEnv(100, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer env.Close()
//
//	db, _ := env.Open("users", common.FlagOpenCreate)
//	txn, _ := env.Begin(nil)
//	_ = db.Put(txn, []byte("alice"), []byte("admin"), 0)
//	_ = txn.Commit()
//
// Handles belong to the connection of the transport. After the connection was
// lost (or the server restarted) every request with an old handle fails with
// an invalid-handle status and the resources have to be opened again.
//
// Thread Safety:
//
//	All proxies are thread-safe and can be used concurrently from multiple
//	goroutines. Operations of one transaction are serialized by the server.
package client
