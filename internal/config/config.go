// Package config loads server configuration from environment variables.
//
// A .env file in the working directory is read first when present; variables
// already set in the environment take precedence over it.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - GRPC_ADDR: listen address for the gRPC server (default ":9090").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - LOG_FORMAT: json or text (default "json").
//   - AUTH_RATE_LIMIT: failed auth attempts allowed per IP per minute
//     (default "10", must be > 0 if set).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - EVENT_BATCH_SIZE: max number of events returned per query
//     (default "1000", must be > 0 if set).
//   - STREAM_POLL_INTERVAL: polling interval for the SSE event stream
//     (default "1s", must be > 0 if set).
//   - CACHE_RESYNC_INTERVAL: safety-net cache refresh interval
//     (default "1m", must be > 0 if set).
//   - NO_MATCH_FALLBACK: discount when no condition matches, "zero" or
//     "base_fee" (default "zero").
//   - PRICING_TIMEZONE: IANA zone period conditions are evaluated in
//     (default "UTC").
//   - AUTO_MIGRATE: apply database migrations before serving (default false).
//   - SEED_LINEUP: create the built-in lineup when no movies exist
//     (default false).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/matt-riley/marquee/internal/core"
)

const (
	defaultHTTPAddr                  = ":8080"
	defaultGRPCAddr                  = ":9090"
	defaultLogLevel                  = "info"
	defaultLogFormat                 = "json"
	defaultStreamPollInterval        = time.Second
	defaultAuthRateLimit             = 10
	defaultMaxJSONBodySize     int64 = 1 << 20 // 1MB
	defaultEventBatchSize            = 1000
	defaultCacheResyncInterval       = time.Minute
	defaultPricingTimezone           = "UTC"
)

// Config holds the runtime configuration for the marquee server.
type Config struct {
	DatabaseURL         string
	HTTPAddr            string
	GRPCAddr            string
	LogLevel            string
	LogFormat           string
	AuthRateLimit       int
	MaxJSONBodySize     int64
	EventBatchSize      int
	StreamPollInterval  time.Duration
	CacheResyncInterval time.Duration
	NoMatch             core.NoMatch
	PricingLocation     *time.Location
	AutoMigrate         bool
	SeedLineup          bool
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	_ = godotenv.Load()

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	authRateLimit, err := positiveInt("AUTH_RATE_LIMIT", defaultAuthRateLimit)
	if err != nil {
		return Config{}, err
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	eventBatchSize, err := positiveInt("EVENT_BATCH_SIZE", defaultEventBatchSize)
	if err != nil {
		return Config{}, err
	}

	streamPollInterval, err := positiveDuration("STREAM_POLL_INTERVAL", defaultStreamPollInterval)
	if err != nil {
		return Config{}, err
	}

	cacheResyncInterval, err := positiveDuration("CACHE_RESYNC_INTERVAL", defaultCacheResyncInterval)
	if err != nil {
		return Config{}, err
	}

	noMatch := core.NoMatchZero
	if v := strings.TrimSpace(os.Getenv("NO_MATCH_FALLBACK")); v != "" {
		parsed, err := core.ParseNoMatch(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse NO_MATCH_FALLBACK: %w", err)
		}
		noMatch = parsed
	}

	location, err := time.LoadLocation(envOrDefault("PRICING_TIMEZONE", defaultPricingTimezone))
	if err != nil {
		return Config{}, fmt.Errorf("parse PRICING_TIMEZONE: %w", err)
	}

	autoMigrate, err := boolOrDefault("AUTO_MIGRATE", false)
	if err != nil {
		return Config{}, err
	}

	seedLineup, err := boolOrDefault("SEED_LINEUP", false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DatabaseURL:         databaseURL,
		HTTPAddr:            envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:            envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		LogLevel:            envOrDefault("LOG_LEVEL", defaultLogLevel),
		LogFormat:           envOrDefault("LOG_FORMAT", defaultLogFormat),
		AuthRateLimit:       authRateLimit,
		MaxJSONBodySize:     maxJSONBodySize,
		EventBatchSize:      eventBatchSize,
		StreamPollInterval:  streamPollInterval,
		CacheResyncInterval: cacheResyncInterval,
		NoMatch:             noMatch,
		PricingLocation:     location,
		AutoMigrate:         autoMigrate,
		SeedLineup:          seedLineup,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func positiveInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func boolOrDefault(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
