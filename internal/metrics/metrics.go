// Package metrics provides Prometheus instrumentation for the marquee server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only marquee metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const unmatchedRoute = "unmatched"

// Metrics holds all Prometheus collectors used by the marquee server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
	CacheSize           prometheus.Gauge
	CacheLoadsTotal     prometheus.Counter
	CacheInvalidations  prometheus.Counter
	QuotesTotal         *prometheus.CounterVec
	AuthFailuresTotal   prometheus.Counter
	ActiveStreams       *prometheus.GaugeVec
}

// New creates and registers all marquee metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marquee_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marquee_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marquee_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marquee_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marquee_cache_size",
			Help: "Number of built movies in the in-memory cache.",
		}),

		CacheLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marquee_cache_loads_total",
			Help: "Total number of full cache reloads from the database.",
		}),

		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marquee_cache_invalidations_total",
			Help: "Total number of NOTIFY-triggered cache invalidations.",
		}),

		QuotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marquee_quotes_total",
			Help: "Total number of quoted screenings, by whether a discount applied.",
		}, []string{"discounted"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marquee_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),

		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marquee_active_streams",
			Help: "Number of active streaming connections.",
		}, []string{"transport"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.CacheSize,
		m.CacheLoadsTotal,
		m.CacheInvalidations,
		m.QuotesTotal,
		m.AuthFailuresTotal,
		m.ActiveStreams,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and latency labelled by the chi route
// pattern, so path parameters do not explode label cardinality. Requests that
// match no route are labelled "unmatched".
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		code := strconv.Itoa(rw.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.observeGRPC(info.FullMethod, err, start)
		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor that records
// request count, latency, and active stream gauge.
func (m *Metrics) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		m.ActiveStreams.WithLabelValues("grpc").Inc()
		defer m.ActiveStreams.WithLabelValues("grpc").Dec()
		start := time.Now()
		err := handler(srv, ss)
		m.observeGRPC(info.FullMethod, err, start)
		return err
	}
}

func (m *Metrics) observeGRPC(fullMethod string, err error, start time.Time) {
	method := path.Base(fullMethod)
	st, _ := status.FromError(err)
	code := st.Code().String()
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
}

// RecordQuote increments the quote counter.
func (m *Metrics) RecordQuote(discounted bool) {
	m.QuotesTotal.WithLabelValues(strconv.FormatBool(discounted)).Inc()
}

func (m *Metrics) SetCacheSize(size float64) {
	m.CacheSize.Set(size)
}

func (m *Metrics) IncCacheLoads() {
	m.CacheLoadsTotal.Inc()
}

func (m *Metrics) IncCacheInvalidations() {
	m.CacheInvalidations.Inc()
}

// StreamOpened increments the active stream gauge for transport and returns
// a func that decrements it.
func (m *Metrics) StreamOpened(transport string) func() {
	gauge := m.ActiveStreams.WithLabelValues(transport)
	gauge.Inc()
	return gauge.Dec
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
