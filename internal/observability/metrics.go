package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the API process.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	ordersSubmitted  *prometheus.CounterVec
	stockRejections  *prometheus.CounterVec
	orderTotalAmount *prometheus.HistogramVec
}

// NewMetrics initialises the registry with HTTP and order metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	submitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_orders_submitted_total",
		Help: "Orders submitted by mode.",
	}, []string{"mode"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_rejections_total",
		Help: "Sale lines rejected for insufficient stock.",
	}, []string{"mode"})
	amounts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_order_total_amount",
		Help:    "Submitted order totals in currency units.",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 7),
	}, []string{"mode"})
	registry.MustRegister(requests, duration, submitted, rejections, amounts)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		ordersSubmitted:  submitted,
		stockRejections:  rejections,
		orderTotalAmount: amounts,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// OrderSubmitted counts a persisted order and observes its total.
func (m *Metrics) OrderSubmitted(mode string, total float64) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(mode).Inc()
	m.orderTotalAmount.WithLabelValues(mode).Observe(total)
}

// StockRejected counts an insufficient stock failure.
func (m *Metrics) StockRejected(mode string) {
	if m == nil {
		return
	}
	m.stockRejections.WithLabelValues(mode).Inc()
}

// Registerer exposes the registry so other packages can add collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
