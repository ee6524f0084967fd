// Package main is the entry point for the marquee server.
//
// Usage:
//
//	server [serve]              run the HTTP and gRPC servers
//	server migrate              apply database migrations and exit
//	server create-api-key NAME  print a new bearer token
//	server revoke-api-key ID    revoke a key by ID
//	server list-api-keys        list key IDs, names and state
//
// The serve bootstrap sequence is:
//  1. Load configuration from environment variables (and .env).
//  2. Connect to PostgreSQL via pgxpool; optionally run migrations.
//  3. Create the repository, the pricing factory and the service (eagerly
//     loading the movie cache); optionally seed the built-in lineup.
//  4. Start the HTTP server (:8080) and gRPC server (:9090) concurrently.
//  5. Wait for SIGINT/SIGTERM, then gracefully shut down both servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // PRICING_TIMEZONE must resolve on hosts without a zoneinfo database.

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/matt-riley/marquee/internal/config"
	"github.com/matt-riley/marquee/internal/logging"
	"github.com/matt-riley/marquee/internal/metrics"
	"github.com/matt-riley/marquee/internal/middleware"
	"github.com/matt-riley/marquee/internal/pricing"
	"github.com/matt-riley/marquee/internal/repository"
	"github.com/matt-riley/marquee/internal/server"
	"github.com/matt-riley/marquee/internal/service"
	"github.com/matt-riley/marquee/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	tracerShutdownTimeout = 5 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd, err := parseCommand(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	repo := repository.NewPostgresRepository(pool, repository.WithEventBatchSize(cfg.EventBatchSize))

	switch cmd.name {
	case commandMigrate:
		return runMigrations(ctx, pool)
	case commandCreateAPIKey:
		return createAPIKey(ctx, repo, cmd.arg, stdout)
	case commandRevokeAPIKey:
		return revokeAPIKey(ctx, repo, cmd.arg, stdout)
	case commandListAPIKeys:
		return listAPIKeys(ctx, repo, stdout)
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			return err
		}
	}

	return serve(ctx, stop, cfg, log, pool, repo)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger, pool *pgxpool.Pool, repo *repository.PostgresRepository) error {
	shutdownTracer, err := tracing.Init(ctx)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	factory, err := pricing.NewFactory(
		pricing.WithNoMatch(cfg.NoMatch),
		pricing.WithLocation(cfg.PricingLocation),
	)
	if err != nil {
		return fmt.Errorf("init pricing: %w", err)
	}
	svc, err := service.New(ctx, repo, factory,
		service.WithLogger(log),
		service.WithCacheMetrics(m.IncCacheLoads, m.IncCacheInvalidations, m.SetCacheSize),
		service.WithQuoteMetrics(m.RecordQuote),
		service.WithCacheResyncInterval(cfg.CacheResyncInterval),
		service.WithActor(middleware.APIKeyIDFromContext),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	if cfg.SeedLineup {
		seeded, err := svc.SeedMovies(ctx, pricing.LineupDefinitions())
		if err != nil {
			return fmt.Errorf("seed lineup: %w", err)
		}
		log.Info("lineup seeded", "movies", seeded)
	}

	rateLimiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer rateLimiter.Stop()

	tokenValidator := middleware.NewAPIKeyValidator(repo)
	authOpts := []middleware.AuthOption{
		middleware.WithOnAuthFailure(m.AuthFailuresTotal.Inc),
		middleware.WithRateLimiter(rateLimiter),
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(newHTTPHandler(svc, tokenValidator, m, cfg, log, repo.Ping, authOpts...), "marquee-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer, healthServer := newGRPCServer(svc, tokenValidator, m, cfg, log, authOpts...)

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	defer grpcListener.Close()

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr, "no_match", cfg.NoMatch.String())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")
	healthServer.Shutdown()

	httpShutdownCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		grpcServer.Stop()
	}

	return serveErr
}

// newHTTPHandler assembles the JSON API with bearer auth on /v1 and request
// logging on every route.
func newHTTPHandler(svc server.Service, validator middleware.TokenValidator, m *metrics.Metrics, cfg config.Config, log *slog.Logger, healthCheck func(context.Context) error, authOpts ...middleware.AuthOption) http.Handler {
	api := server.NewHTTPHandler(svc,
		server.WithAuth(middleware.HTTPBearerAuthMiddleware(validator, authOpts...)),
		server.WithMetrics(m),
		server.WithStreamPollInterval(cfg.StreamPollInterval),
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		server.WithHealthCheck(healthCheck),
	)
	return middleware.HTTPRequestLogging(log)(api)
}

// newGRPCServer registers the pricing service and the standard health
// service. Health checks do not require a token.
func newGRPCServer(svc server.Service, validator middleware.TokenValidator, m *metrics.Metrics, cfg config.Config, log *slog.Logger, authOpts ...middleware.AuthOption) (*grpc.Server, *health.Server) {
	authOpts = append(authOpts, middleware.WithPublicMethods(
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
		healthpb.Health_List_FullMethodName,
	))

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			m.UnaryServerInterceptor(),
			middleware.UnaryBearerAuthInterceptor(validator, authOpts...),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamRequestLoggingInterceptor(log),
			m.StreamServerInterceptor(),
			middleware.StreamBearerAuthInterceptor(validator, authOpts...),
		),
	)

	server.NewGRPCServer(svc, server.WithStreamPollInterval(cfg.StreamPollInterval)).Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(server.PricingServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return grpcServer, healthServer
}
