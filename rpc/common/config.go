package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerShardType string

const (
	ShardTypeMemory ServerShardType = "mem"  // environment kept in memory
	ShardTypeDisk   ServerShardType = "disk" // environment in a directory below DataDir
)

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type is the kind of environment backing the shard
	Type ServerShardType
}

// ServerTransportConfig holds the settings of the server transport
type ServerTransportConfig struct {
	// Endpoint is the address to listen on (host:port or socket path)
	Endpoint string
	// WorkersPerConn limits concurrent requests per stream connection
	WorkersPerConn int
	// BufferSize is the size of the pooled read buffers of stream transports
	BufferSize int
	// Socket options (tcp only, 0 = system default)
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
	WriteBufferSize int
	ReadBufferSize  int
}

// ServerConfig holds all configuration parameters of the server
type ServerConfig struct {
	// Shards served by this server
	Shards []ServerShard

	// DataDir holds one directory per disk shard
	DataDir string

	// LockTimeoutMs is the max time a writer waits for a record lock
	LockTimeoutMs int64

	// IdleTimeoutSecond releases all handles of a connection without activity (0 = never)
	IdleTimeoutSecond int64

	// TimeoutSecond is the write timeout of responses (0 = none)
	TimeoutSecond int64

	// Transport settings
	Transport ServerTransportConfig

	// MetricsEndpoint serves prometheus metrics if set (e.g. 0.0.0.0:9100)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
	LogFile  string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Idle Timeout", fmt.Sprintf("%d sec", c.IdleTimeoutSecond))
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	if c.MetricsEndpoint != "" {
		addField("Metrics", c.MetricsEndpoint)
	}

	// Store
	addSection("Store")
	addField("Data Directory", c.DataDir)
	addField("Lock Timeout", fmt.Sprintf("%d ms", c.LockTimeoutMs))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.LogFile != "" {
		addField("Log File", c.LogFile)
	}

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the settings of the client transport
type ClientTransportConfig struct {
	// Endpoints are tried in order, all requests go to the first reachable one
	Endpoints []string
	// ConnectRetryCount is the number of connection attempts per endpoint (requests are never retried)
	ConnectRetryCount int
	// Socket options (tcp only)
	TCPNoDelay      bool
	TCPKeepAliveSec int
	WriteBufferSize int
	ReadBufferSize  int
}

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Connect Retry Count", strconv.Itoa(c.Transport.ConnectRetryCount))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
