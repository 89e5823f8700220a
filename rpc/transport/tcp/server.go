package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/ValentinKolb/dbRPC/rpc/transport/base"
)

const (
	defaultBufferSize = 512 * 1024 // 512 KB
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}

	return listener, nil
}

// UpgradeConnection applies the socket options of the transport config to a TCP connection
func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	return upgrade(tcpConn, socketOptions{
		noDelay:         config.Transport.TCPNoDelay,
		keepAliveSec:    config.Transport.TCPKeepAliveSec,
		lingerSec:       config.Transport.TCPLingerSec,
		writeBufferSize: config.Transport.WriteBufferSize,
		readBufferSize:  config.Transport.ReadBufferSize,
	})
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPServerTransport creates a new TCP server transport
func NewTCPServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, defaultBufferSize)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

type socketOptions struct {
	noDelay         bool
	keepAliveSec    int
	lingerSec       int
	writeBufferSize int
	readBufferSize  int
}

func upgrade(tcpConn *net.TCPConn, opts socketOptions) error {
	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(opts.noDelay); err != nil {
		return err
	}

	if opts.writeBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(opts.writeBufferSize); err != nil {
			return err
		}
	}

	if opts.readBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(opts.readBufferSize); err != nil {
			return err
		}
	}

	if opts.keepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(opts.keepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	if opts.lingerSec > 0 {
		if err := tcpConn.SetLinger(opts.lingerSec); err != nil {
			return err
		}
	}

	return nil
}
