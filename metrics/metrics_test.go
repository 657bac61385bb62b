package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Segment("ok")
	m.SetInFlight(2)
	m.ObserveSegment(8)
	m.ObserveRequest("voxtral", "ok", time.Second, 1024, 1)
	m.ObserveHTTP(200, time.Millisecond)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Segment("dropped")
	m.Segment("dropped")
	m.ObserveRequest("voxtral", "ok", time.Second, 2048, 2)

	if got := testutil.ToFloat64(m.Segments.WithLabelValues("dropped")); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Retries); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("voxtral", "ok")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetInFlight(1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "parole_segments_in_flight 1") {
		t.Errorf("metrics output missing gauge:\n%s", rec.Body.String())
	}
}
