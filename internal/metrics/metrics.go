// Package metrics exposes Prometheus collectors for the pricing pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns every collector of the service. A nil *Recorder discards
// observations, which keeps unit tests free of registry plumbing.
type Recorder struct {
	gatherer prometheus.Gatherer

	connectorCalls       *prometheus.CounterVec
	candidatesTotal      *prometheus.CounterVec
	rateLimitDelay       *prometheus.HistogramVec
	productsCreated      prometheus.Counter
	listingsCreated      prometheus.Counter
	listingsPriceChanged prometheus.Counter
	samplesAppended      prometheus.Counter
	notificationsTotal   *prometheus.CounterVec
	mailsTotal           *prometheus.CounterVec
	jobRunsTotal         *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeWorkers        prometheus.Gauge
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg. Passing a *prometheus.Registry also
// makes it the source for Handler.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	r := &Recorder{
		connectorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricealert_connector_calls_total",
			Help: "Marketplace connector calls, labeled by site, operation and outcome.",
		}, []string{"site", "op", "outcome"}),
		candidatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricealert_connector_candidates_total",
			Help: "Listing candidates returned by code searches, labeled by site.",
		}, []string{"site"}),
		rateLimitDelay: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricealert_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		productsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricealert_products_created_total",
			Help: "Canonical products created by reconciliation.",
		}),
		listingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricealert_listings_created_total",
			Help: "Marketplace listings created by reconciliation.",
		}),
		listingsPriceChanged: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricealert_listings_price_changed_total",
			Help: "Existing listings whose price or effective price changed.",
		}),
		samplesAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricealert_price_samples_total",
			Help: "Price samples appended to listing history.",
		}),
		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricealert_notifications_total",
			Help: "Notifications created, labeled by type.",
		}, []string{"type"}),
		mailsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricealert_mails_total",
			Help: "Notification mails, labeled by frequency and outcome.",
		}, []string{"frequency", "outcome"}),
		jobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricealert_job_runs_total",
			Help: "Scheduled job state transitions, labeled by job and state.",
		}, []string{"job", "state"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricealert_job_attempt_duration_seconds",
			Help:    "Histogram of job attempt durations.",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pricealert_active_workers",
			Help: "Number of workers currently running a job.",
		}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		r.gatherer = g
	}
	return r
}

// Handler returns an http.Handler exposing the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ObserveConnectorCall counts one marketplace call.
func (r *Recorder) ObserveConnectorCall(site, op, outcome string) {
	if r == nil {
		return
	}
	r.connectorCalls.WithLabelValues(site, op, outcome).Inc()
}

// ObserveCandidates counts candidates returned by a site.
func (r *Recorder) ObserveCandidates(site string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.candidatesTotal.WithLabelValues(site).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func (r *Recorder) ObserveRateLimitDelay(site string, d time.Duration) {
	if r == nil {
		return
	}
	r.rateLimitDelay.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveReconcile records the outcome of one reconciliation batch.
func (r *Recorder) ObserveReconcile(productsCreated, listingsCreated, priceChanged, samples int) {
	if r == nil {
		return
	}
	r.productsCreated.Add(float64(productsCreated))
	r.listingsCreated.Add(float64(listingsCreated))
	r.listingsPriceChanged.Add(float64(priceChanged))
	r.samplesAppended.Add(float64(samples))
}

// ObserveNotification counts a created notification.
func (r *Recorder) ObserveNotification(kind string) {
	if r == nil {
		return
	}
	r.notificationsTotal.WithLabelValues(kind).Inc()
}

// ObserveMail counts a mail attempt.
func (r *Recorder) ObserveMail(frequency string, sent bool) {
	if r == nil {
		return
	}
	outcome := "sent"
	if !sent {
		outcome = "failed"
	}
	r.mailsTotal.WithLabelValues(frequency, outcome).Inc()
}

// ObserveJobState counts a job run entering state.
func (r *Recorder) ObserveJobState(job, state string) {
	if r == nil {
		return
	}
	r.jobRunsTotal.WithLabelValues(job, state).Inc()
}

// ObserveJobAttempt records how long one attempt took.
func (r *Recorder) ObserveJobAttempt(job string, d time.Duration) {
	if r == nil {
		return
	}
	r.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func (r *Recorder) IncActiveWorkers() {
	if r == nil {
		return
	}
	r.activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func (r *Recorder) DecActiveWorkers() {
	if r == nil {
		return
	}
	r.activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
