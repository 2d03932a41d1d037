package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "device"

// Metrics holds the collectors for device registration and the HTTP layer
type Metrics struct {
	registry *prometheus.Registry

	registrations   *prometheus.CounterVec
	collisions      prometheus.Counter
	limitExceeded   prometheus.Counter
	similarityScore prometheus.Histogram
	requestDuration *prometheus.HistogramVec
}

// New creates collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Device registrations by outcome or error code.",
		}, []string{"outcome"}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hash_collisions_total",
			Help:      "Fingerprint hashes already owned by another user.",
		}),
		limitExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_exceeded_total",
			Help:      "Registrations that reached the device cap and blocked the user.",
		}),
		similarityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "similarity_score",
			Help:      "Scores of registrations matched by similarity.",
			Buckets:   []float64{0.75, 0.8, 0.85, 0.9, 0.95, 1},
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.registrations,
		m.collisions,
		m.limitExceeded,
		m.similarityScore,
		m.requestDuration,
	)
	return m
}

// ObserveRegistration counts a registration; outcome is the outcome name or an error code
func (m *Metrics) ObserveRegistration(outcome string) {
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSimilarity(score float64) {
	m.similarityScore.Observe(score)
}

func (m *Metrics) ObserveCollision() {
	m.collisions.Inc()
}

func (m *Metrics) ObserveLimitExceeded() {
	m.limitExceeded.Inc()
}

// ObserveRequest records the latency of one HTTP request
func (m *Metrics) ObserveRequest(d time.Duration, status int, method, route string) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Middleware records request latency labelled by the chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.ObserveRequest(time.Since(start), status, r.Method, route)
	})
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
