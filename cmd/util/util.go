package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/serializer"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/ValentinKolb/dbRPC/rpc/transport/grpc"
	"github.com/ValentinKolb/dbRPC/rpc/transport/http"
	"github.com/ValentinKolb/dbRPC/rpc/transport/tcp"
	"github.com/ValentinKolb/dbRPC/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. DBRPC_TIMEOUT)
	EnvPrefix = "dbrpc"
)

// WrapString wraps text at Wrap characters, words are never split
func WrapString(text string) string {
	var b strings.Builder
	width := 0
	for _, word := range strings.Fields(text) {
		switch {
		case width == 0:
		case width+1+len(word) > Wrap:
			b.WriteByte('\n')
			width = 0
		default:
			b.WriteByte(' ')
			width++
		}
		b.WriteString(word)
		width += len(word)
	}
	return b.String()
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the dbRPC server. Multiple endpoints can be specified as a comma-separated list, the client uses the first reachable one for all requests"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try connecting to each endpoint (requests are never retried)"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB, ignored for http and grpc)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB, ignored for http and grpc)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))
}

// InitConfig loads the env files and makes viper read DBRPC_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			Endpoints:         strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectRetryCount: viper.GetInt("transport-retries"),
			TCPNoDelay:        viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec:   viper.GetInt("transport-tcp-keepalive"),
			WriteBufferSize:   viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:    viper.GetInt("transport-read-buffer") * 1024,
		},
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// transports maps the --transport names to their client and server factories
var transports = map[string]struct {
	client func() transport.IRPCClientTransport
	server func() transport.IRPCServerTransport
}{
	"http": {http.NewHttpClientTransport, http.NewHttpServerTransport},
	"tcp":  {tcp.NewTCPClientTransport, tcp.NewTCPServerTransport},
	"unix": {unix.NewUnixClientTransport, unix.NewUnixServerTransport},
	"grpc": {grpc.NewGRPCClientTransport, grpc.NewGRPCServerTransport},
}

// GetTransport creates a client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	name := viper.GetString("transport")
	t, ok := transports[name]
	if !ok {
		return nil, fmt.Errorf("invalid transport %s", name)
	}
	return t.client(), nil
}

// GetServerTransport creates a server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	name := viper.GetString("transport")
	t, ok := transports[name]
	if !ok {
		return nil, fmt.Errorf("invalid transport %s", name)
	}
	return t.server(), nil
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
