package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var (
	errMissingAuthorizationHeader = errors.New("missing authorization header")
	errInvalidAuthorizationHeader = errors.New("invalid authorization header")
	errNilValidator               = errors.New("token validator is nil")
)

// Principal identifies the API key a request was authenticated with.
type Principal struct {
	KeyID string
	Name  string
}

// TokenValidator validates a bearer token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (Principal, error)
}

// AuthOption configures optional auth middleware parameters.
type AuthOption func(*authConfig)

type authConfig struct {
	onFailure   func()
	rateLimiter *RateLimiter
	public      map[string]struct{}
}

// WithOnAuthFailure registers a callback invoked on every authentication
// failure (e.g. to increment a Prometheus counter).
func WithOnAuthFailure(fn func()) AuthOption {
	return func(c *authConfig) { c.onFailure = fn }
}

// WithRateLimiter attaches a per-IP rate limiter that throttles repeated
// authentication failures.
func WithRateLimiter(rl *RateLimiter) AuthOption {
	return func(c *authConfig) { c.rateLimiter = rl }
}

// WithPublicMethods lets the listed full gRPC method names through without a
// token. It has no effect on HTTP middleware.
func WithPublicMethods(fullMethods ...string) AuthOption {
	return func(c *authConfig) {
		if c.public == nil {
			c.public = make(map[string]struct{}, len(fullMethods))
		}
		for _, m := range fullMethods {
			c.public[m] = struct{}{}
		}
	}
}

func (c authConfig) isPublic(fullMethod string) bool {
	_, ok := c.public[fullMethod]
	return ok
}

func newAuthConfig(opts []AuthOption) authConfig {
	cfg := authConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// recordFailure reports whether the caller at ip may still be told to retry.
// An empty ip is never throttled.
func (c authConfig) recordFailure(ip string) bool {
	if c.onFailure != nil {
		c.onFailure()
	}
	if c.rateLimiter == nil || ip == "" {
		return true
	}
	return c.rateLimiter.RecordFailureAndAllow(ip)
}

// HTTPBearerAuthMiddleware enforces bearer-token auth for HTTP handlers.
func HTTPBearerAuthMiddleware(validator TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := newAuthConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authorizeHTTP(r.Context(), r.Header.Get("Authorization"), validator)
			if err != nil {
				LoggerFromContext(r.Context()).DebugContext(r.Context(), "authentication failed", "error", err)
				if !cfg.recordFailure(ExtractIP(r.RemoteAddr)) {
					http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
					return
				}
				writeHTTPUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// UnaryBearerAuthInterceptor enforces bearer-token auth for unary gRPC requests.
func UnaryBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info != nil && cfg.isPublic(info.FullMethod) {
			return handler(ctx, req)
		}
		principal, err := authorizeGRPC(ctx, validator)
		if err != nil {
			if !cfg.recordFailure(extractGRPCPeerIP(ctx)) {
				return nil, status.Error(codes.ResourceExhausted, "too many failed auth attempts")
			}
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		return handler(NewContextWithPrincipal(ctx, principal), req)
	}
}

// StreamBearerAuthInterceptor enforces bearer-token auth for streaming gRPC requests.
func StreamBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.StreamServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if info != nil && cfg.isPublic(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx := ss.Context()
		principal, err := authorizeGRPC(ctx, validator)
		if err != nil {
			if !cfg.recordFailure(extractGRPCPeerIP(ctx)) {
				return status.Error(codes.ResourceExhausted, "too many failed auth attempts")
			}
			return status.Error(codes.Unauthenticated, "unauthorized")
		}

		return handler(srv, &wrappedServerStream{
			ServerStream: ss,
			ctx:          NewContextWithPrincipal(ctx, principal),
		})
	}
}

type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFromContext retrieves the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func NewContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// APIKeyIDFromContext returns the authenticated key ID, or "" for
// unauthenticated contexts.
func APIKeyIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.KeyID
}

func authorizeHTTP(ctx context.Context, authorizationHeader string, validator TokenValidator) (Principal, error) {
	if validator == nil {
		return Principal{}, errNilValidator
	}
	if strings.TrimSpace(authorizationHeader) == "" {
		return Principal{}, errMissingAuthorizationHeader
	}

	token, err := parseBearerToken(authorizationHeader)
	if err != nil {
		return Principal{}, err
	}
	return validatePrincipal(ctx, validator, token)
}

func authorizeGRPC(ctx context.Context, validator TokenValidator) (Principal, error) {
	if validator == nil {
		return Principal{}, errNilValidator
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Principal{}, errMissingAuthorizationHeader
	}

	authorizationHeaders := md.Get("authorization")
	if len(authorizationHeaders) == 0 {
		return Principal{}, errMissingAuthorizationHeader
	}

	for _, authorizationHeader := range authorizationHeaders {
		token, err := parseBearerToken(authorizationHeader)
		if err != nil {
			continue
		}
		if principal, err := validatePrincipal(ctx, validator, token); err == nil {
			return principal, nil
		}
	}

	return Principal{}, errInvalidAuthorizationHeader
}

func validatePrincipal(ctx context.Context, validator TokenValidator, token string) (Principal, error) {
	principal, err := validator.ValidateToken(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	if strings.TrimSpace(principal.KeyID) == "" {
		return Principal{}, errInvalidAuthorizationHeader
	}
	return principal, nil
}

func parseBearerToken(authorizationHeader string) (string, error) {
	parts := strings.Fields(authorizationHeader)
	if len(parts) != 2 {
		return "", errInvalidAuthorizationHeader
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidAuthorizationHeader
	}
	if parts[1] == "" {
		return "", errInvalidAuthorizationHeader
	}

	return parts[1], nil
}

func writeHTTPUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

func extractGRPCPeerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return ExtractIP(p.Addr.String())
}
