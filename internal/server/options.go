package server

import (
	"context"
	"net/http"
	"time"

	"github.com/matt-riley/marquee/internal/metrics"
)

const (
	defaultStreamPollInterval = time.Second
	defaultMaxJSONBodyBytes   = 1 << 20
)

type options struct {
	streamPollInterval time.Duration
	maxJSONBodyBytes   int64
	metrics            *metrics.Metrics
	auth               func(http.Handler) http.Handler
	healthCheck        func(context.Context) error
}

// Option configures the HTTP handler and the gRPC pricing server.
type Option func(*options)

// WithStreamPollInterval sets how often event streams poll for new events.
func WithStreamPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.streamPollInterval = d
		}
	}
}

// WithMaxJSONBodySize caps request bodies; larger bodies get 413.
func WithMaxJSONBodySize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxJSONBodyBytes = n
		}
	}
}

// WithMetrics enables request instrumentation, the /metrics endpoint and
// active-stream tracking.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAuth wraps every /v1 route with mw. /healthz and /metrics stay public.
func WithAuth(mw func(http.Handler) http.Handler) Option {
	return func(o *options) { o.auth = mw }
}

// WithHealthCheck makes /healthz report 503 when check fails.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(o *options) { o.healthCheck = check }
}

func newOptions(opts []Option) options {
	o := options{
		streamPollInterval: defaultStreamPollInterval,
		maxJSONBodyBytes:   defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) streamOpened(transport string) func() {
	if o.metrics == nil {
		return func() {}
	}
	return o.metrics.StreamOpened(transport)
}
