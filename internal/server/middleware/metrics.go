package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegisx/aegisx/internal/credential"
)

// Metrics holds the server's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	authAttempts  *prometheus.CounterVec
	verifySeconds prometheus.Histogram
	licenseStatus *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegisx",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aegisx",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegisx",
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by method and outcome",
		}, []string{"method", "outcome"}),
		verifySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aegisx",
			Name:      "apikey_verify_duration_seconds",
			Help:      "API key verification latency including bcrypt",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}),
		licenseStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aegisx",
			Name:      "license_status",
			Help:      "1 for the current license status, 0 otherwise",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.requests, m.duration, m.authAttempts, m.verifySeconds, m.licenseStatus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Instrument is a chi middleware that records request counts and latency by
// route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		// Use the chi route pattern if available, else the raw path.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		m.requests.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()
		m.duration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// SetLicenseStatus marks status as the current license status.
func (m *Metrics) SetLicenseStatus(status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		m.licenseStatus.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) observeVerify(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.verifySeconds.Observe(d.Seconds())
	m.observeAuth("api_key", err)
}

func (m *Metrics) observeAuth(method string, err error) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(method, credential.Code(err)).Inc()
}
