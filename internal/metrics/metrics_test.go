package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNew(t *testing.T) {
	m := New()
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	m.CacheLoadsTotal.Inc()
	fams, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(fams) == 0 {
		t.Fatal("expected at least one metric family after increment")
	}
}

func TestRecordQuote(t *testing.T) {
	m := New()

	m.RecordQuote(true)
	m.RecordQuote(true)
	m.RecordQuote(false)

	if v := testutil.ToFloat64(m.QuotesTotal.WithLabelValues("true")); v != 2 {
		t.Fatalf("expected discounted count 2, got %v", v)
	}
	if v := testutil.ToFloat64(m.QuotesTotal.WithLabelValues("false")); v != 1 {
		t.Fatalf("expected undiscounted count 1, got %v", v)
	}
}

func TestSetCacheSize(t *testing.T) {
	m := New()

	m.SetCacheSize(5)
	m.SetCacheSize(3)
	if v := testutil.ToFloat64(m.CacheSize); v != 3 {
		t.Fatalf("expected cache size 3, got %v", v)
	}
}

func TestCacheCounters(t *testing.T) {
	m := New()

	m.IncCacheLoads()
	m.IncCacheLoads()
	m.IncCacheInvalidations()

	if v := testutil.ToFloat64(m.CacheLoadsTotal); v != 2 {
		t.Fatalf("expected cache loads 2, got %v", v)
	}
	if v := testutil.ToFloat64(m.CacheInvalidations); v != 1 {
		t.Fatalf("expected cache invalidations 1, got %v", v)
	}
}

func TestStreamOpened(t *testing.T) {
	m := New()

	closeFirst := m.StreamOpened("sse")
	closeSecond := m.StreamOpened("sse")
	if v := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("sse")); v != 2 {
		t.Fatalf("expected 2 active streams, got %v", v)
	}

	closeFirst()
	closeSecond()
	if v := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("sse")); v != 0 {
		t.Fatalf("expected 0 active streams, got %v", v)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheLoadsTotal.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(string(body), "marquee_cache_loads_total") {
		t.Fatal("expected response to contain marquee_cache_loads_total")
	}
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()

	router := chi.NewRouter()
	router.Use(m.HTTPMiddleware)
	router.Get("/v1/movies/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, target := range []string{"/v1/movies/a", "/v1/movies/b", "/healthz", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	tests := []struct {
		route  string
		status string
		want   float64
	}{
		{route: "/v1/movies/{id}", status: "404", want: 2},
		{route: "/healthz", status: "200", want: 1},
		{route: unmatchedRoute, status: "404", want: 1},
	}
	for _, test := range tests {
		if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, test.route, test.status)); v != test.want {
			t.Errorf("requests{route=%q,status=%s} = %v, want %v", test.route, test.status, v, test.want)
		}
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	m := New()
	interceptor := m.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, _ = interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	_, _ = interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Unauthenticated, "no")
	})
	_, _ = interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, errors.New("plain")
	})

	for code, want := range map[string]float64{"OK": 1, "Unauthenticated": 1, "Unknown": 1} {
		if v := testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("Check", code)); v != want {
			t.Errorf("grpc requests{code=%s} = %v, want %v", code, v, want)
		}
	}
}

func TestStreamServerInterceptor(t *testing.T) {
	m := New()
	interceptor := m.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	err := interceptor(nil, nil, info, func(any, grpc.ServerStream) error {
		if v := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("grpc")); v != 1 {
			t.Errorf("active streams during handler = %v, want 1", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}

	if v := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("grpc")); v != 0 {
		t.Fatalf("active streams after handler = %v, want 0", v)
	}
	if v := testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("Watch", "OK")); v != 1 {
		t.Fatalf("grpc requests = %v, want 1", v)
	}
}
