package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestHTTPBearerAuthMiddleware(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		validator := &testTokenValidator{}
		nextCalled := false
		handler := HTTPBearerAuthMiddleware(validator)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			nextCalled = true
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rec.Code)
		}
		if nextCalled {
			t.Fatal("expected next handler not to be called")
		}
		if validator.called {
			t.Fatal("expected validator not to be called")
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header to be Bearer, got %q", got)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "expected"}
		nextCalled := false
		handler := HTTPBearerAuthMiddleware(validator)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			nextCalled = true
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rec.Code)
		}
		if nextCalled {
			t.Fatal("expected next handler not to be called")
		}
		if !validator.called {
			t.Fatal("expected validator to be called")
		}
	})

	t.Run("invalid authorization header", func(t *testing.T) {
		validator := &testTokenValidator{}
		handler := HTTPBearerAuthMiddleware(validator)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("expected next handler not to be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic bad")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rec.Code)
		}
		if validator.called {
			t.Fatal("expected validator not to be called")
		}
	})

	t.Run("principal without key id is rejected", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "good", principal: Principal{Name: "nameless"}}
		handler := HTTPBearerAuthMiddleware(validator)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("expected next handler not to be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "good", principal: Principal{KeyID: "key-123", Name: "box office"}}
		handler := HTTPBearerAuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || p.KeyID != "key-123" || p.Name != "box office" {
				t.Errorf("PrincipalFromContext = %+v, %v; want key-123/box office, true", p, ok)
			}
			if got := APIKeyIDFromContext(r.Context()); got != "key-123" {
				t.Errorf("APIKeyIDFromContext = %q, want key-123", got)
			}
			w.WriteHeader(http.StatusNoContent)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer good")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected %d, got %d", http.StatusNoContent, rec.Code)
		}
		if validator.gotToken != "good" {
			t.Fatalf("expected token %q, got %q", "good", validator.gotToken)
		}
	})

	t.Run("nil validator", func(t *testing.T) {
		handler := HTTPBearerAuthMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("expected next handler not to be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rec.Code)
		}
	})
}

func TestHTTPBearerAuthMiddleware_FailureHooks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 2)
	defer rl.Stop()

	failures := 0
	validator := &testTokenValidator{expectedToken: "good", principal: Principal{KeyID: "k"}}
	handler := HTTPBearerAuthMiddleware(validator,
		WithOnAuthFailure(func() { failures++ }),
		WithRateLimiter(rl),
	)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		req.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("attempt %d status = %d, want %d", i+1, codes[i], want[i])
		}
	}
	if failures != 3 {
		t.Fatalf("onFailure calls = %d, want 3", failures)
	}

	// Another client is unaffected.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:5000"
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}

func TestUnaryBearerAuthInterceptor(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		validator := &testTokenValidator{}
		interceptor := UnaryBearerAuthInterceptor(validator)
		handlerCalled := false

		_, err := interceptor(context.Background(), struct{}{}, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
			handlerCalled = true
			return nil, nil
		})

		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected unauthenticated, got %v", status.Code(err))
		}
		if handlerCalled {
			t.Fatal("expected handler not to be called")
		}
		if validator.called {
			t.Fatal("expected validator not to be called")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "expected"}
		interceptor := UnaryBearerAuthInterceptor(validator)
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer bad"))

		_, err := interceptor(ctx, struct{}{}, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
			t.Fatal("expected handler not to be called")
			return nil, nil
		})

		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected unauthenticated, got %v", status.Code(err))
		}
		if !validator.called {
			t.Fatal("expected validator to be called")
		}
	})

	t.Run("second authorization value accepted", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "good", principal: Principal{KeyID: "key-123"}}
		interceptor := UnaryBearerAuthInterceptor(validator)
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
			"authorization", "Basic nope",
			"authorization", "Bearer good",
		))

		res, err := interceptor(ctx, struct{}{}, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
			if got := APIKeyIDFromContext(ctx); got != "key-123" {
				return nil, status.Errorf(codes.Internal, "APIKeyIDFromContext = %q, want key-123", got)
			}
			return "ok", nil
		})

		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if res != "ok" {
			t.Fatalf("expected response %q, got %#v", "ok", res)
		}
	})

	t.Run("rate limited peer", func(t *testing.T) {
		rl := NewRateLimiter(context.Background(), 1)
		defer rl.Stop()

		interceptor := UnaryBearerAuthInterceptor(&testTokenValidator{expectedToken: "good"}, WithRateLimiter(rl))
		ctx := peer.NewContext(
			metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer bad")),
			&peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: 4000}},
		)
		handler := func(context.Context, any) (any, error) { return nil, nil }

		if _, err := interceptor(ctx, struct{}{}, &grpc.UnaryServerInfo{}, handler); status.Code(err) != codes.Unauthenticated {
			t.Fatalf("first failure code = %v, want Unauthenticated", status.Code(err))
		}
		if _, err := interceptor(ctx, struct{}{}, &grpc.UnaryServerInfo{}, handler); status.Code(err) != codes.ResourceExhausted {
			t.Fatalf("second failure code = %v, want ResourceExhausted", status.Code(err))
		}
	})
}

func TestStreamBearerAuthInterceptor(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		validator := &testTokenValidator{}
		interceptor := StreamBearerAuthInterceptor(validator)

		err := interceptor(nil, &testServerStream{ctx: context.Background()}, &grpc.StreamServerInfo{}, func(any, grpc.ServerStream) error {
			t.Fatal("expected handler not to be called")
			return nil
		})

		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected unauthenticated, got %v", status.Code(err))
		}
		if validator.called {
			t.Fatal("expected validator not to be called")
		}
	})

	t.Run("valid token injects principal into stream context", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "good", principal: Principal{KeyID: "key-123"}}
		interceptor := StreamBearerAuthInterceptor(validator)
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer good"))

		var gotKeyID string
		err := interceptor(nil, &testServerStream{ctx: ctx}, &grpc.StreamServerInfo{}, func(_ any, ss grpc.ServerStream) error {
			gotKeyID = APIKeyIDFromContext(ss.Context())
			return nil
		})

		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if gotKeyID != "key-123" {
			t.Fatalf("stream context key ID = %q, want key-123", gotKeyID)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "expected"}
		interceptor := StreamBearerAuthInterceptor(validator)
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer bad"))

		err := interceptor(nil, &testServerStream{ctx: ctx}, &grpc.StreamServerInfo{}, func(any, grpc.ServerStream) error {
			t.Fatal("expected handler not to be called")
			return nil
		})

		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected unauthenticated, got %v", status.Code(err))
		}
	})
}

func TestBearerAuthInterceptors_PublicMethods(t *testing.T) {
	const healthCheck = "/grpc.health.v1.Health/Check"
	validator := &testTokenValidator{expectedToken: "good"}
	public := WithPublicMethods(healthCheck, "/grpc.health.v1.Health/Watch")

	unary := UnaryBearerAuthInterceptor(validator, public)
	res, err := unary(context.Background(), struct{}{}, &grpc.UnaryServerInfo{FullMethod: healthCheck}, func(context.Context, any) (any, error) {
		return "serving", nil
	})
	if err != nil || res != "serving" {
		t.Fatalf("public unary call = (%v, %v), want (serving, nil)", res, err)
	}

	_, err = unary(context.Background(), struct{}{}, &grpc.UnaryServerInfo{FullMethod: "/marquee.v1.PricingService/QuoteFee"}, func(context.Context, any) (any, error) {
		t.Fatal("expected handler not to be called")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("protected unary call code = %v, want Unauthenticated", status.Code(err))
	}

	stream := StreamBearerAuthInterceptor(validator, public)
	called := false
	err = stream(nil, &testServerStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}, func(any, grpc.ServerStream) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("public stream call = (called %v, %v), want (true, nil)", called, err)
	}
	if validator.called {
		t.Fatal("validator should not run for public methods")
	}
}

func TestAPIKeyIDFromContext_Unauthenticated(t *testing.T) {
	if got := APIKeyIDFromContext(context.Background()); got != "" {
		t.Fatalf("APIKeyIDFromContext() = %q, want empty", got)
	}
}

type testTokenValidator struct {
	expectedToken string
	err           error
	called        bool
	gotToken      string
	principal     Principal
}

func (v *testTokenValidator) ValidateToken(_ context.Context, token string) (Principal, error) {
	v.called = true
	v.gotToken = token
	if v.err != nil {
		return Principal{}, v.err
	}
	if v.expectedToken != "" && token != v.expectedToken {
		return Principal{}, errors.New("invalid token")
	}
	return v.principal, nil
}
