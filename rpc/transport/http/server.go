package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// SessionHeader carries the session id chosen by the client.
// Requests without it form a session of their own that ends with the response.
const SessionHeader = "X-DBRPC-Session"

const shutdownTimeout = 2 * time.Second

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{
		sessions: xsync.NewMapOf[string, *httpSession](),
	}
}

type httpServerTransport struct {
	handler    transport.ServerHandleFunc
	disconnect transport.DisconnectFunc
	config     common.ServerConfig

	mu     sync.Mutex
	server *http.Server
	stopCh chan struct{}
	closed bool

	nextConnID atomic.Uint64
	sessions   *xsync.MapOf[string, *httpSession]
}

// httpSession maps a client session to a connection id.
// Requests hold the read lock, ending the session takes the write lock.
type httpSession struct {
	connID   uint64
	mu       sync.RWMutex
	ended    bool
	lastSeen atomic.Int64
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) RegisterDisconnectHandler(handler transport.DisconnectFunc) {
	t.disconnect = handler
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	// Create a new HTTP server
	mux := http.NewServeMux()

	// Register handler
	if t.config.LogLevel == "debug" {
		mux.HandleFunc("POST /{shardId}", loggerMiddleware(t.handleRequest))
		mux.HandleFunc("DELETE /session", loggerMiddleware(t.handleEndSession))
	} else {
		mux.HandleFunc("POST /{shardId}", t.handleRequest)
		mux.HandleFunc("DELETE /session", t.handleEndSession)
	}

	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	server := &http.Server{Handler: mux}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.server = server
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()

	if config.IdleTimeoutSecond > 0 {
		go t.expireSessions(time.Duration(config.IdleTimeoutSecond)*time.Second, stopCh)
	}

	Logger.Infof("Starting HTTP server on %s", config.Transport.Endpoint)

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (t *httpServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	server := t.server
	if t.stopCh != nil {
		close(t.stopCh)
	}
	t.mu.Unlock()

	var err error
	if server != nil {
		// Waits for in-flight requests
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err = server.Shutdown(ctx); err != nil {
			err = server.Close()
		}
	}

	// End all remaining sessions
	t.sessions.Range(func(id string, s *httpSession) bool {
		t.endSession(id, s)
		return true
	})

	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	// Parse shardId from request
	shardId, err := strconv.ParseUint(
		r.PathValue("shardId"),
		10, 64,
	)

	// Check if shardId is valid
	if err != nil {
		http.Error(w, "Invalid shardId", http.StatusBadRequest)
		return
	}

	// Read request body
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()

	// Check if body could be read
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	var resp []byte
	if sessionID := r.Header.Get(SessionHeader); sessionID != "" {
		session := t.acquireSession(sessionID)
		resp = t.handler(session.connID, shardId, body)
		session.mu.RUnlock()
	} else {
		// One-shot session, everything it opened is released after the response
		connID := t.nextConnID.Add(1)
		resp = t.handler(connID, shardId, body)
		if t.disconnect != nil {
			t.disconnect(connID)
		}
	}

	// Write response
	if _, err = w.Write(resp); err != nil {
		Logger.Errorf("Failed to write response: %v", err)
	}
}

// handleEndSession ends the session named in the session header
func (t *httpServerTransport) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Missing session header", http.StatusBadRequest)
		return
	}

	if session, ok := t.sessions.Load(sessionID); ok {
		t.endSession(sessionID, session)
	}
	w.WriteHeader(http.StatusNoContent)
}

// acquireSession returns the live session for the id with its read lock held
func (t *httpServerTransport) acquireSession(id string) *httpSession {
	for {
		session, _ := t.sessions.LoadOrCompute(id, func() *httpSession {
			return &httpSession{connID: t.nextConnID.Add(1)}
		})

		session.mu.RLock()
		if !session.ended {
			session.lastSeen.Store(time.Now().UnixNano())
			return session
		}
		session.mu.RUnlock()
	}
}

// endSession waits for in-flight requests of the session and reports the disconnect once
func (t *httpServerTransport) endSession(id string, session *httpSession) {
	session.mu.Lock()
	if session.ended {
		session.mu.Unlock()
		return
	}
	session.ended = true
	session.mu.Unlock()

	t.sessions.Compute(id, func(old *httpSession, loaded bool) (*httpSession, bool) {
		return old, !loaded || old == session
	})

	Logger.Debugf("Session %s (connection %d) ended", id, session.connID)
	if t.disconnect != nil {
		t.disconnect(session.connID)
	}
}

// expireSessions ends sessions without requests for longer than idle
func (t *httpServerTransport) expireSessions(idle time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(max(idle/4, 100*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			deadline := now.Add(-idle).UnixNano()
			t.sessions.Range(func(id string, s *httpSession) bool {
				if s.lastSeen.Load() < deadline {
					Logger.Infof("Session %s idle for more than %s", id, idle)
					t.endSession(id, s)
				}
				return true
			})
		}
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		duration := time.Since(start)
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, duration)
	}
}
