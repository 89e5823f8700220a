package server

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dbRPC/lib/handle"
	"github.com/ValentinKolb/dbRPC/rpc/common"
)

func TestServerMetrics(t *testing.T) {
	d := newTestDispatcher(t)
	d.metrics = newServerMetrics(d.Table())

	db := mustOpen(t, d, 1, "db")
	mustCall(t, d, 1, common.NewCursorOpenRequest(db, 0))
	expectStatus(t, call(d, 1, common.NewDBGetRequest(db, 0, []byte("missing"))), common.StatusNotFound)
	d.metrics.observeRelease("idle", d.ReleaseConnection(handle.ConnID(1)))

	var buf bytes.Buffer
	d.metrics.writePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		`dbrpc_requests_total{type="dbOpen",status="success"} 1`,
		`dbrpc_requests_total{type="dbGet",status="not-found"} 1`,
		`dbrpc_released_handles_total{reason="idle"} 2`,
		`dbrpc_handles{kind="cursor"} 0`,
		`dbrpc_request_duration_seconds_bucket{type="cursorOpen"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics do not contain %q", want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *serverMetrics
	m.observeRequest(common.MsgTDBGet, common.StatusSuccess, time.Now())
	m.observeRelease("disconnect", 3)
}
