package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	t.Parallel()

	r := New(prometheus.NewRegistry())
	r.ObserveConnectorCall("amazon", "search_by_code", "ok")
	r.ObserveConnectorCall("amazon", "search_by_code", "ok")
	r.ObserveCandidates("rakuten", 3)
	r.ObserveReconcile(1, 2, 1, 3)
	r.ObserveNotification("threshold")
	r.ObserveMail("daily", false)
	r.ObserveJobState("price_refresh", "failed_permanently")
	r.ObserveJobAttempt("price_refresh", time.Second)

	assert.InDelta(t, 2, testutil.ToFloat64(r.connectorCalls.WithLabelValues("amazon", "search_by_code", "ok")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(r.candidatesTotal.WithLabelValues("rakuten")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.productsCreated), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.listingsCreated), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(r.samplesAppended), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.notificationsTotal.WithLabelValues("threshold")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.mailsTotal.WithLabelValues("daily", "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.jobRunsTotal.WithLabelValues("price_refresh", "failed_permanently")), 0)
}

func TestNilRecorderIsSafe(t *testing.T) {
	t.Parallel()

	var r *Recorder
	require.NotPanics(t, func() {
		r.ObserveConnectorCall("yahoo", "fetch_price", "error")
		r.ObserveReconcile(1, 1, 1, 1)
		r.IncActiveWorkers()
		r.DecActiveWorkers()
		_ = r.Handler()
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	t.Parallel()

	rec := New(prometheus.NewRegistry())
	router := chi.NewRouter()
	router.Use(rec.Middleware)
	router.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Handle("/metrics", rec.Handler())

	for _, path := range []string{"/test", "/notfound"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 1, testutil.ToFloat64(rec.httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.httpRequestsTotal.WithLabelValues("GET", "404")), 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "http_requests_total"))
}
