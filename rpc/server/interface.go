package server

// IRPCServer is the interface of the RPC server
type IRPCServer interface {
	// Serve initializes the shards and serves requests until Shutdown is called
	Serve() error
	// Shutdown stops the transport, releases every connection and closes all environments
	Shutdown() error
}
