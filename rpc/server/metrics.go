package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ValentinKolb/dbRPC/lib/handle"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics collects request and handle metrics of one server.
// A nil *serverMetrics discards all observations.
type serverMetrics struct {
	set *metrics.Set
}

func newServerMetrics(table *handle.Table) *serverMetrics {
	set := metrics.NewSet()

	gauge := func(name string, value func(handle.Stats) int) {
		set.NewGauge(name, func() float64 {
			return float64(value(table.Stats()))
		})
	}
	gauge(`dbrpc_handles{kind="database"}`, func(s handle.Stats) int { return s.Databases })
	gauge(`dbrpc_handles{kind="cursor"}`, func(s handle.Stats) int { return s.Cursors })
	gauge(`dbrpc_handles{kind="txn"}`, func(s handle.Stats) int { return s.Txns })
	gauge(`dbrpc_connections`, func(s handle.Stats) int { return s.Connections })

	return &serverMetrics{set: set}
}

// observeRequest counts a handled request by type and status
func (m *serverMetrics) observeRequest(msgType common.MessageType, status common.Status, start time.Time) {
	if m == nil {
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`dbrpc_requests_total{type=%q,status=%q}`, msgType, status)).Inc()
	m.set.GetOrCreateHistogram(fmt.Sprintf(`dbrpc_request_duration_seconds{type=%q}`, msgType)).UpdateDuration(start)
}

// observeRelease counts handles released without an explicit close
func (m *serverMetrics) observeRelease(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`dbrpc_released_handles_total{reason=%q}`, reason)).Add(n)
}

// writePrometheus writes all metrics in the prometheus text format
func (m *serverMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}

// serve exposes the metrics at http://endpoint/metrics until ctx is done
func (m *serverMetrics) serve(ctx context.Context, endpoint string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		m.writePrometheus(w)
	})

	server := &http.Server{Addr: endpoint, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	Logger.Infof("Serving metrics on http://%s/metrics", endpoint)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
