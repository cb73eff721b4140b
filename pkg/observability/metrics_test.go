package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecordsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/provider/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware(mux)

	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/provider/123", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET /api/provider/{id}", "GET", "404")))
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, reg)

	m.ObserveChat("ok", time.Second)
	m.ObserveChat("validation_failure", time.Second)
	m.GuardRejected("single_statement")
	m.AnomalyScanned()
	m.ObserveQueryRows(12)
	m.ObserveLLM(time.Second)
	m.ObserveTool("top_codes", "ok", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardRejections.WithLabelValues("single_statement")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anomalyScans))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("top_codes", "ok")))
}

func TestHandler_Exposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveChat("ok", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "medicaid_explorer_chat_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveChat("ok", time.Second)
	m.GuardRejected("empty")
	m.AnomalyScanned()

	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestSpans(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
}
