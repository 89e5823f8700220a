package server

import (
	"context"
	"time"
)

// reapIdleConnections releases the handles of connections without a request
// for longer than idle until ctx is done
func (s *rpcServer) reapIdleConnections(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(max(idle/4, 100*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conn := range s.dispatcher.Table().IdleConnections(idle) {
				n := s.dispatcher.ReleaseConnection(conn)
				if n > 0 {
					Logger.Infof("connection %d idle for more than %s, released %d handle(s)", conn, idle, n)
				}
				s.metrics.observeRelease("idle", n)
			}
		}
	}
}
