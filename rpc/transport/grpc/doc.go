// Package grpc implements the RPC transport on top of a gRPC bidirectional stream.
//
// The service dbrpc.Transport has a single streaming method Stream. Frames are sent
// as raw bytes through a custom codec (8 bytes shardID, 8 bytes requestID, payload),
// so no generated protobuf code is involved. On the server every stream is one
// connection: handles created on it are released when the stream ends.
//
// The client keeps one stream open and multiplexes all requests over it, matching
// responses by requestID. If the stream fails, pending requests fail and the next
// request opens a new stream (the handles of the old one are gone).
package grpc
