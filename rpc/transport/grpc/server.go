package grpc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
)

var Logger = logger.GetLogger("transport/rpc")

const stopTimeout = 2 * time.Second

// serviceDesc describes the single bidirectional stream of the transport
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamName,
			Handler:       handleStream,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// NewGRPCServerTransport creates a server transport where every client stream is one connection
func NewGRPCServerTransport() transport.IRPCServerTransport {
	return &grpcServerTransport{}
}

type grpcServerTransport struct {
	handler    transport.ServerHandleFunc
	disconnect transport.DisconnectFunc
	config     common.ServerConfig

	mu     sync.Mutex
	server *grpc.Server
	closed bool

	nextConnID atomic.Uint64
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *grpcServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *grpcServerTransport) RegisterDisconnectHandler(handler transport.DisconnectFunc) {
	t.disconnect = handler
}

func (t *grpcServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return errors.New("no handler registered")
	}
	t.config = config

	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", config.Transport.Endpoint)
	}

	server := grpc.NewServer(grpc.ForceServerCodec(frameCodec{}))
	server.RegisterService(&serviceDesc, t)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.server = server
	t.mu.Unlock()

	Logger.Infof("Starting gRPC server on %s with %d workers per stream",
		config.Transport.Endpoint, max(config.Transport.WorkersPerConn, 1))

	if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrapf(err, "error serving on %s", config.Transport.Endpoint)
	}
	return nil
}

func (t *grpcServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	server := t.server
	t.mu.Unlock()

	if server == nil {
		return nil
	}

	stopChan := make(chan interface{})
	go func() {
		server.GracefulStop()
		close(stopChan)
	}()

	select {
	case <-stopChan:
	case <-time.After(stopTimeout):
		// open streams keep GracefulStop waiting
		Logger.Debugf("Could not gracefully stop gRPC server: timed out after %s", stopTimeout)
		server.Stop()
		<-stopChan
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func handleStream(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*grpcServerTransport).serveStream(stream)
}

// serveStream handles the requests of one stream until the client ends it
func (t *grpcServerTransport) serveStream(stream grpc.ServerStream) error {
	connID := t.nextConnID.Add(1)

	if peerInfo, ok := peer.FromContext(stream.Context()); ok {
		Logger.Debugf("Stream %d opened from %s", connID, peerInfo.Addr)
	}

	workerSemaphore := make(chan struct{}, max(t.config.Transport.WorkersPerConn, 1))

	var wg sync.WaitGroup
	var sendMu sync.Mutex

	handleResponse := func(req *frame) {
		defer func() {
			<-workerSemaphore
			wg.Done()
		}()

		resp := &frame{
			shardID:   req.shardID,
			requestID: req.requestID,
			payload:   t.handler(connID, req.shardID, req.payload),
		}

		sendMu.Lock()
		defer sendMu.Unlock()

		if err := stream.SendMsg(resp); err != nil {
			Logger.Errorf("Failed to write response on stream %d: %v", connID, err)
		}
	}

	var recvErr error
	for {
		req := &frame{}
		if recvErr = stream.RecvMsg(req); recvErr != nil {
			break
		}

		workerSemaphore <- struct{}{}
		wg.Add(1)
		go handleResponse(req)
	}

	// Wait for all workers before the handles of the stream are released
	wg.Wait()

	Logger.Debugf("Stream %d ended: %v", connID, recvErr)
	if t.disconnect != nil {
		t.disconnect(connID)
	}
	return nil
}
