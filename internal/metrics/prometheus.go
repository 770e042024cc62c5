package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vape-recon/internal/reconcile/model"
)

// Recorder: метрики HTTP и сверки. Реализует service.Observer.
type Recorder struct {
	reg prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	decisions     *prometheus.CounterVec
	history       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	commitSeconds prometheus.Histogram
	commitRetries prometheus.Counter
}

// New регистрирует метрики в собственном реестре (nil - новый реестр).
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "endpoint", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "endpoint", "status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_listings_total",
			Help: "Listings reconciled, by resolver outcome.",
		}, []string{"site", "state", "method"}),
		history: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_price_history_entries_total",
			Help: "Price history entries written.",
		}, []string{"site"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_listing_failures_total",
			Help: "Listings rejected or failed to commit.",
		}, []string{"site", "outcome"}),
		commitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recon_commit_duration_seconds",
			Help:    "Wall time of a listing commit including retries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recon_commit_retries_total",
			Help: "Transaction attempts beyond the first.",
		}),
	}
	reg.MustRegister(r.httpRequests, r.httpDuration, r.decisions, r.history, r.failures, r.commitSeconds, r.commitRetries)
	return r
}

// RecordRequest записывает метрики для HTTP-запроса.
func (r *Recorder) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	r.httpRequests.WithLabelValues(method, endpoint, status).Inc()
	r.httpDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

func (r *Recorder) ObserveDecision(site string, st model.State, method string) {
	r.decisions.WithLabelValues(site, string(st), method).Inc()
}

func (r *Recorder) ObserveHistory(site string) {
	r.history.WithLabelValues(site).Inc()
}

func (r *Recorder) ObserveFailure(site, outcome string) {
	r.failures.WithLabelValues(site, outcome).Inc()
}

func (r *Recorder) ObserveCommit(attempts int, elapsed time.Duration, _ error) {
	r.commitSeconds.Observe(elapsed.Seconds())
	if attempts > 1 {
		r.commitRetries.Add(float64(attempts - 1))
	}
}

// Handler: экспорт метрик Prometheus.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func classifyStatus(statusCode int) string {
	if statusCode < 100 || statusCode >= 600 {
		return "unknown"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}
