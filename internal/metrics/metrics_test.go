package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOperationCountsByResult(t *testing.T) {
	m := New()
	m.ObserveOperation("link", "ok", 10*time.Millisecond)
	m.ObserveOperation("link", "ok", 5*time.Millisecond)
	m.ObserveOperation("link", "invariant", time.Millisecond)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("link", "ok")); got != 2 {
		t.Fatalf("expected 2 ok links, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("link", "invariant")); got != 1 {
		t.Fatalf("expected 1 rejected link, got %v", got)
	}
}

func TestHandlerExposesLedgerMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", 200)
	m.ObserveOperation("create_issuance", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"ealtrack_http_requests_total", "ealtrack_ledger_operations_total", "ealtrack_ledger_operation_seconds"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("link", "ok", time.Millisecond)
	m.ObserveRequest("GET", 200)
}
