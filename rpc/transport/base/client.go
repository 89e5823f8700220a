package base

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// ErrClosed is returned by Send after the transport was closed
var ErrClosed = errors.New("transport is closed")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection based on the provided configuration
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// clientConnection represents a single net connection.
// Once the connection failed it is never used again, handles created on it
// are released by the server.
type clientConnection struct {
	conn         net.Conn
	endpoint     string
	requestChans *xsync.MapOf[uint64, chan responseResult]
	writeMu      sync.Mutex    // Protects writes to the connection
	done         chan struct{} // Closed when the connection failed or was closed
	failOnce     sync.Once
	err          error // Set before done is closed
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	mu            sync.Mutex // Protects conn and closed
	conn          *clientConnection
	closed        bool
	nextRequestID atomic.Uint64 // Atomic counter for unique request IDs
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Close an existing connection
	if t.conn != nil {
		t.conn.fail(ErrClosed)
		t.conn = nil
	}

	t.config = config
	t.closed = false

	conn, err := t.dial()
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *clientTransport) Send(shardId uint64, req []byte) (resp []byte, err error) {
	connection, err := t.getConnection()
	if err != nil {
		return nil, err
	}

	// Generate a unique request ID
	requestID := t.nextRequestID.Add(1)

	// Create a channel for the response and register the request
	respCh := make(chan responseResult, 1)
	connection.requestChans.Store(requestID, respCh)
	defer connection.requestChans.Delete(requestID)

	var timeout time.Duration
	if t.config.TimeoutSecond > 0 {
		timeout = time.Duration(t.config.TimeoutSecond) * time.Second
	}

	// Lock the connection only for writing
	connection.writeMu.Lock()
	if timeout > 0 {
		_ = connection.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err = writeFrame(connection.conn, shardId, requestID, req)
	connection.writeMu.Unlock()

	if err != nil {
		// A partially written frame leaves the stream unusable
		connection.fail(err)
		return nil, fmt.Errorf("failed to send request: %v", err)
	}

	// Wait for response or timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-connection.done:
		// The response may have arrived right before the connection failed
		select {
		case result := <-respCh:
			return result.data, result.err
		default:
		}
		return nil, fmt.Errorf("connection lost: %v", connection.err)
	case <-timeoutCh:
		return nil, fmt.Errorf("request timed out")
	}
}

func (t *clientTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.conn != nil {
		t.conn.fail(ErrClosed)
		t.conn = nil
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getConnection returns the current connection and reconnects lazily if it failed
func (t *clientTransport) getConnection() (*clientConnection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if t.conn != nil && !t.conn.failed() {
		return t.conn, nil
	}
	if len(t.config.Transport.Endpoints) == 0 {
		return nil, fmt.Errorf("transport not connected")
	}

	conn, err := t.dial()
	if err != nil {
		return nil, err
	}
	t.conn = conn
	return conn, nil
}

// dial connects to the first reachable endpoint
func (t *clientTransport) dial() (*clientConnection, error) {
	attempts := max(t.config.Transport.ConnectRetryCount, 1)

	var lastErr error
	for _, endpoint := range t.config.Transport.Endpoints {
		// Initial backoff duration in milliseconds
		backoffMs := 50

		for i := 0; i < attempts; i++ {
			conn, err := t.connect(endpoint)
			if err == nil {
				Logger.Infof("Connected to %s using %s transport", endpoint, t.connector.GetName())
				go conn.readResponses()
				return conn, nil
			}

			lastErr = err
			Logger.Debugf("Connection attempt %d/%d to %s failed: %v", i+1, attempts, endpoint, err)

			if i < attempts-1 {
				// Exponential backoff with a small random jitter (+-10%)
				jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
				time.Sleep(time.Duration(jitter) * time.Millisecond)
				backoffMs *= 2
			}
		}
	}

	return nil, fmt.Errorf("failed to connect to any endpoint: %v", lastErr)
}

// connect establishes a connection to the endpoint
func (t *clientTransport) connect(endpoint string) (*clientConnection, error) {
	conn, err := t.connector.Connect(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %v", endpoint, err)
	}

	return &clientConnection{
		conn:         conn,
		endpoint:     endpoint,
		requestChans: xsync.NewMapOf[uint64, chan responseResult](),
		done:         make(chan struct{}),
	}, nil
}

// readResponses reads responses in a loop and distributes them to waiting requests
func (c *clientConnection) readResponses() {
	for {
		shardID, requestID, data, err := readFrame(c.conn, nil)
		if err != nil {
			c.fail(err)
			return
		}

		// Find the corresponding request channel
		respCh, found := c.requestChans.Load(requestID)
		if !found {
			// The request timed out before the response arrived
			Logger.Warningf("Received response for unknown request ID %d with shard ID %d", requestID, shardID)
			continue
		}

		select {
		case respCh <- responseResult{data, nil}:
		default:
		}
	}
}

// fail marks the connection as unusable and closes it
func (c *clientConnection) fail(err error) {
	c.failOnce.Do(func() {
		if !errors.Is(err, ErrClosed) {
			Logger.Warningf("Connection to %s lost: %v", c.endpoint, err)
		}
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

// failed reports whether the connection can no longer be used
func (c *clientConnection) failed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
