package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.ObserveDocument("green", 0.9, time.Second)
	m.ExtractionFailed()
	m.CRMRequest("GET", 200)
	m.CRMRetry("network")
	m.CRMRecord("created")
	m.AIReview("ok")

	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveDocument("yellow", 0.5, 10*time.Millisecond)
	m.ObserveDocument("yellow", 0.6, 10*time.Millisecond)
	m.CRMRequest("POST", 0)
	m.CRMRequest("POST", 429)
	m.CRMRetry("rate_limited")

	if got := testutil.ToFloat64(m.documentsTotal.WithLabelValues("yellow")); got != 2 {
		t.Fatalf("expected 2 yellow documents, got %v", got)
	}
	if got := testutil.ToFloat64(m.crmRequestsTotal.WithLabelValues("POST", "error")); got != 1 {
		t.Fatalf("expected 1 network error, got %v", got)
	}
	if got := testutil.ToFloat64(m.crmRetriesTotal.WithLabelValues("rate_limited")); got != 1 {
		t.Fatalf("expected 1 rate limit retry, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.CRMRecord("created")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `hh_screener_crm_records_total{outcome="created"} 1`) {
		t.Fatalf("expected records counter in output:\n%s", body)
	}
}
