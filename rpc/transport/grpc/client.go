package grpc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	dialTimeout = 5 * time.Second
	retryDelay  = 50 * time.Millisecond
)

// ErrClosed is returned by Send after the transport was closed
var ErrClosed = errors.New("transport is closed")

// NewGRPCClientTransport creates a client transport that sends all requests over one gRPC stream
func NewGRPCClientTransport() transport.IRPCClientTransport {
	return &grpcClientTransport{}
}

type grpcClientTransport struct {
	config common.ClientConfig

	mu     sync.Mutex // Protects conn, stream and closed
	conn   *grpc.ClientConn
	stream *clientStream
	closed bool

	nextRequestID atomic.Uint64
}

// clientStream is one server side connection, it is never reused after it failed
type clientStream struct {
	stream       grpc.ClientStream
	cancel       context.CancelFunc
	sendMu       sync.Mutex
	requestChans *xsync.MapOf[uint64, chan *frame]
	done         chan struct{}
	failOnce     sync.Once
	err          error
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *grpcClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return errors.New("no endpoints provided")
	}

	_ = t.Close()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.config = config
	t.closed = false

	attempts := max(config.Transport.ConnectRetryCount, 1)
	var lastErr error
	for _, endpoint := range config.Transport.Endpoints {
		for i := 0; i < attempts; i++ {
			conn, err := dial(endpoint)
			if err == nil {
				t.conn = conn
				if t.stream, err = t.openStream(); err != nil {
					_ = conn.Close()
					t.conn = nil
					return err
				}
				Logger.Infof("Connected to %s using grpc transport", endpoint)
				return nil
			}
			lastErr = err
			Logger.Debugf("Connection attempt %d/%d to %s failed: %v", i+1, attempts, endpoint, err)
			if i < attempts-1 {
				time.Sleep(retryDelay)
			}
		}
	}

	return errors.Wrap(lastErr, "failed to connect to any endpoint")
}

func (t *grpcClientTransport) Send(shardId uint64, req []byte) (resp []byte, err error) {
	stream, err := t.getStream()
	if err != nil {
		return nil, err
	}

	requestID := t.nextRequestID.Add(1)
	respCh := make(chan *frame, 1)
	stream.requestChans.Store(requestID, respCh)
	defer stream.requestChans.Delete(requestID)

	stream.sendMu.Lock()
	err = stream.stream.SendMsg(&frame{shardID: shardId, requestID: requestID, payload: req})
	stream.sendMu.Unlock()
	if err != nil {
		stream.fail(err)
		return nil, errors.Wrap(err, "failed to send request")
	}

	var timeoutCh <-chan time.Time
	if t.config.TimeoutSecond > 0 {
		timer := time.NewTimer(time.Duration(t.config.TimeoutSecond) * time.Second)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case f := <-respCh:
		return f.payload, nil
	case <-stream.done:
		select {
		case f := <-respCh:
			return f.payload, nil
		default:
		}
		return nil, errors.Wrap(stream.err, "stream lost")
	case <-timeoutCh:
		return nil, errors.New("request timed out")
	}
}

func (t *grpcClientTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.stream != nil {
		t.stream.fail(ErrClosed)
		t.stream = nil
	}
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func dial(endpoint string) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})),
		grpc.WithBlock())
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", endpoint)
	}
	return conn, nil
}

// getStream returns the current stream and opens a new one if it failed
func (t *grpcClientTransport) getStream() (*clientStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if t.conn == nil {
		return nil, errors.New("transport not connected")
	}
	if t.stream != nil && !t.stream.failed() {
		return t.stream, nil
	}

	stream, err := t.openStream()
	if err != nil {
		return nil, err
	}
	t.stream = stream
	return stream, nil
}

func (t *grpcClientTransport) openStream() (*clientStream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := t.conn.NewStream(ctx, &serviceDesc.Streams[0], streamPath)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "error opening stream")
	}

	s := &clientStream{
		stream:       stream,
		cancel:       cancel,
		requestChans: xsync.NewMapOf[uint64, chan *frame](),
		done:         make(chan struct{}),
	}
	go s.readResponses()
	return s, nil
}

// readResponses distributes the responses of the stream to waiting requests
func (s *clientStream) readResponses() {
	for {
		f := &frame{}
		if err := s.stream.RecvMsg(f); err != nil {
			s.fail(err)
			return
		}

		respCh, found := s.requestChans.Load(f.requestID)
		if !found {
			Logger.Warningf("Received response for unknown request ID %d with shard ID %d", f.requestID, f.shardID)
			continue
		}
		select {
		case respCh <- f:
		default:
		}
	}
}

func (s *clientStream) fail(err error) {
	s.failOnce.Do(func() {
		if !errors.Is(err, ErrClosed) {
			Logger.Warningf("gRPC stream lost: %v", err)
		}
		s.err = err
		close(s.done)

		// Ends the stream on the server, which releases its handles
		s.cancel()
	})
}

func (s *clientStream) failed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
