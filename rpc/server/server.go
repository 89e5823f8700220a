package server

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dbRPC/lib/handle"
	"github.com/ValentinKolb/dbRPC/lib/store"
	"github.com/ValentinKolb/dbRPC/lib/store/ldbstore"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/serializer"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) IRPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	table := handle.NewTable(handle.Options{})

	s := &rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		dispatcher: NewDispatcher(table),
	}
	if config.MetricsEndpoint != "" {
		s.metrics = newServerMetrics(table)
		s.dispatcher.metrics = s.metrics
	}
	return s
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	dispatcher *Dispatcher
	metrics    *serverMetrics

	mu        sync.Mutex
	envs      []store.Environment
	cancel    context.CancelFunc
	closeLogs func() error
	stopped   bool
}

// Serve starts the RPC server
// This function will also initialize the logging and the shards and start the transport layer
func (s *rpcServer) Serve() error {
	ctx, err := s.init()
	if err != nil {
		return err
	}

	if s.config.IdleTimeoutSecond > 0 {
		go s.reapIdleConnections(ctx, time.Duration(s.config.IdleTimeoutSecond)*time.Second)
	}

	if s.metrics != nil {
		go func() {
			if err := s.metrics.serve(ctx, s.config.MetricsEndpoint); err != nil {
				Logger.Errorf("metrics endpoint failed: %v", err)
			}
		}()
	}

	return s.transport.Listen(s.config)
}

func (s *rpcServer) Shutdown() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	envs := s.envs
	closeLogs := s.closeLogs
	s.mu.Unlock()

	// Stops the listener and reports every connection as disconnected
	err := s.transport.Close()
	if err != nil {
		Logger.Errorf("failed to close transport: %v", err)
	}

	if cancel != nil {
		cancel()
	}

	// Connections the transport did not report
	for _, conn := range s.dispatcher.Table().Connections() {
		s.dispatcher.ReleaseConnection(conn)
	}

	for _, env := range envs {
		if closeErr := env.Close(); closeErr != nil {
			Logger.Errorf("failed to close environment: %v", closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}

	Logger.Infof("RPC server stopped")
	if closeLogs != nil {
		if logErr := closeLogs(); logErr != nil && err == nil {
			err = logErr
		}
	}
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *rpcServer) init() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("server was shut down")
	}

	// Init logger
	if s.config.LogLevel != "" || s.config.LogFile != "" {
		closeLogs, err := common.InitLoggers(s.config.LogLevel, s.config.LogFile)
		if err != nil {
			return nil, err
		}
		s.closeLogs = closeLogs
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(s.config.String())

	if len(s.config.Shards) == 0 {
		return nil, fmt.Errorf("no shards configured")
	}

	lockTimeout := time.Duration(s.config.LockTimeoutMs) * time.Millisecond

	// CREATE SHARDS
	for _, shardConfig := range s.config.Shards {
		var env store.Environment
		var err error

		switch shardConfig.Type {
		case common.ShardTypeMemory:
			env, err = ldbstore.NewEnvironment(ldbstore.Options{
				InMemory:    true,
				LockTimeout: lockTimeout,
			})
		case common.ShardTypeDisk:
			if s.config.DataDir == "" {
				err = fmt.Errorf("disk shard %d needs a data directory", shardConfig.ShardID)
				break
			}
			env, err = ldbstore.NewEnvironment(ldbstore.Options{
				Dir:         filepath.Join(s.config.DataDir, fmt.Sprintf("shard-%d", shardConfig.ShardID)),
				LockTimeout: lockTimeout,
			})
		default:
			err = fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}

		if err != nil {
			s.closeEnvs()
			return nil, fmt.Errorf("failed to create shard %d: %w", shardConfig.ShardID, err)
		}

		s.envs = append(s.envs, env)
		s.dispatcher.AddShard(shardConfig.ShardID, env)
		Logger.Infof("created %s environment for shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	Logger.Infof("dbRPC setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return ctx, nil
}

// closeEnvs closes the environments created so far (caller must hold s.mu)
func (s *rpcServer) closeEnvs() {
	for _, env := range s.envs {
		_ = env.Close()
	}
	s.envs = nil
}

func (s *rpcServer) registerTransportHandlers() {
	s.transport.RegisterHandler(func(connId uint64, shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Decode the request
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(
				common.StatusProtocolError,
				fmt.Sprintf("failed to deserialize request: %s", err),
			)
		} else {
			// Let the dispatcher handle the request
			respMsg = s.dispatcher.Handle(handle.ConnID(connId), shardId, &msg)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(
				common.StatusInternalError,
				fmt.Sprintf("failed to serialize response: %s", err),
			))
		}
		return val
	})

	s.transport.RegisterDisconnectHandler(func(connId uint64) {
		n := s.dispatcher.ReleaseConnection(handle.ConnID(connId))
		s.metrics.observeRelease("disconnect", n)
	})
}
