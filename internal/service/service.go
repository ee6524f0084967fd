// Package service hosts the pricing engine behind a cache of built movies.
//
// Stored definitions are turned into immutable *core.Movie graphs through an
// injected builder. A redefinition never mutates a graph in place: the cache
// entry is swapped for a freshly built one.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/marquee/internal/core"
	"github.com/matt-riley/marquee/internal/pricing"
	"github.com/matt-riley/marquee/internal/repository"
)

const (
	EventTypeUpdated = "updated"
	EventTypeDeleted = "deleted"

	bestEffortTimeout          = 2 * time.Second
	defaultCacheResyncInterval = time.Minute
	cacheReloadTimeout         = 5 * time.Second
	tracerName                 = "github.com/matt-riley/marquee/internal/service"
)

var (
	ErrMovieNotFound      = errors.New("movie not found")
	ErrInvalidDefinition  = errors.New("invalid movie definition")
	ErrInvalidScreening   = errors.New("invalid screening")
	ErrEmptyBatch         = errors.New("quote batch is empty")
	errRepositoryRequired = errors.New("repository is nil")
	errBuilderRequired    = errors.New("movie builder is nil")
)

type Repository interface {
	CreateMovie(ctx context.Context, movie repository.Movie) (repository.Movie, error)
	UpdateMovie(ctx context.Context, movie repository.Movie) (repository.Movie, error)
	GetMovie(ctx context.Context, id uuid.UUID) (repository.Movie, error)
	ListMovies(ctx context.Context) ([]repository.Movie, error)
	DeleteMovie(ctx context.Context, id uuid.UUID) error
	ListEventsSince(ctx context.Context, eventID int64) ([]repository.MovieEvent, error)
	ListEventsSinceForMovie(ctx context.Context, eventID int64, movieID uuid.UUID) ([]repository.MovieEvent, error)
	PublishMovieEvent(ctx context.Context, event repository.MovieEvent) (repository.MovieEvent, error)
	SeedMovies(ctx context.Context, movies []repository.Movie) ([]repository.Movie, error)
}

// Builder turns a definition into a ready-to-use movie. *pricing.Factory
// satisfies it.
type Builder interface {
	Build(def pricing.Definition) (*core.Movie, error)
}

type cacheInvalidationSubscriber interface {
	SubscribeMovieInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// Movie is a stored definition together with its identity and timestamps.
type Movie struct {
	ID uuid.UUID `json:"id"`
	pricing.Definition
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuoteRequest asks for the fee of one screening of a movie. A nil Fee means
// the screening is charged the movie's own base fee.
type QuoteRequest struct {
	MovieID   uuid.UUID
	Sequence  int
	StartTime time.Time
	Fee       *core.Money
}

type QuoteResult struct {
	MovieID uuid.UUID `json:"movie_id"`
	Title   string    `json:"title"`
	core.Quote
}

type entry struct {
	record Movie
	built  *core.Movie
}

type Service struct {
	repo    Repository
	builder Builder
	log     *slog.Logger
	tracer  trace.Tracer

	resyncInterval time.Duration
	actor          func(context.Context) string

	onCacheLoad         func()
	onCacheInvalidation func()
	onCacheSize         func(float64)
	onQuote             func(discounted bool)

	mu    sync.RWMutex
	cache map[uuid.UUID]entry
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCacheMetrics registers callbacks for full reloads, NOTIFY-driven
// invalidations and the number of cached movies after each change. Nil
// callbacks are ignored.
func WithCacheMetrics(onLoad, onInvalidation func(), onSize func(float64)) Option {
	return func(s *Service) {
		s.onCacheLoad = onLoad
		s.onCacheInvalidation = onInvalidation
		s.onCacheSize = onSize
	}
}

// WithQuoteMetrics registers a callback invoked once per quoted screening.
func WithQuoteMetrics(onQuote func(discounted bool)) Option {
	return func(s *Service) {
		s.onQuote = onQuote
	}
}

func WithCacheResyncInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.resyncInterval = d
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithActor sets how the identity recorded on movie events is derived from a
// request context.
func WithActor(actor func(context.Context) string) Option {
	return func(s *Service) {
		s.actor = actor
	}
}

// New builds the service and eagerly loads the cache. When repo supports
// invalidation subscriptions, a listener keeps the cache fresh until ctx is
// done.
func New(ctx context.Context, repo Repository, builder Builder, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errRepositoryRequired
	}
	if builder == nil {
		return nil, errBuilderRequired
	}

	svc := &Service{
		repo:           repo,
		builder:        builder,
		log:            slog.Default(),
		tracer:         otel.Tracer(tracerName),
		resyncInterval: defaultCacheResyncInterval,
		cache:          make(map[uuid.UUID]entry),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadCache rebuilds every stored movie and swaps in the result. Stored
// definitions that no longer build are logged and left out.
func (s *Service) LoadCache(ctx context.Context) error {
	records, err := s.repo.ListMovies(ctx)
	if err != nil {
		return fmt.Errorf("load movies: %w", err)
	}
	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}

	next := make(map[uuid.UUID]entry, len(records))
	for _, record := range records {
		e, err := s.buildEntry(record)
		if err != nil {
			s.log.WarnContext(ctx, "skipping stored movie", slog.String("movie_id", record.ID.String()), slog.Any("error", err))
			continue
		}
		next[record.ID] = e
	}

	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()

	s.reportCacheSize(len(next))
	return nil
}

func (s *Service) CreateMovie(ctx context.Context, def pricing.Definition) (Movie, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateMovie")
	defer span.End()

	built, payload, err := s.build(def)
	if err != nil {
		return Movie{}, recordSpanError(span, err)
	}

	created, err := s.repo.CreateMovie(ctx, repository.Movie{Title: def.Title, Definition: payload})
	if err != nil {
		return Movie{}, recordSpanError(span, fmt.Errorf("create movie: %w", err))
	}

	record := Movie{ID: created.ID, Definition: def, CreatedAt: created.CreatedAt, UpdatedAt: created.UpdatedAt}
	span.SetAttributes(attribute.String("movie.id", record.ID.String()))
	s.setCached(entry{record: record, built: built})
	s.publishMovieEventBestEffort(ctx, EventTypeUpdated, record)

	return record, nil
}

func (s *Service) UpdateMovie(ctx context.Context, id uuid.UUID, def pricing.Definition) (Movie, error) {
	ctx, span := s.tracer.Start(ctx, "service.UpdateMovie", trace.WithAttributes(attribute.String("movie.id", id.String())))
	defer span.End()

	built, payload, err := s.build(def)
	if err != nil {
		return Movie{}, recordSpanError(span, err)
	}

	updated, err := s.repo.UpdateMovie(ctx, repository.Movie{ID: id, Title: def.Title, Definition: payload})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCached(id)
			return Movie{}, recordSpanError(span, ErrMovieNotFound)
		}
		return Movie{}, recordSpanError(span, fmt.Errorf("update movie: %w", err))
	}

	record := Movie{ID: updated.ID, Definition: def, CreatedAt: updated.CreatedAt, UpdatedAt: updated.UpdatedAt}
	s.setCached(entry{record: record, built: built})
	s.publishMovieEventBestEffort(ctx, EventTypeUpdated, record)

	return record, nil
}

func (s *Service) GetMovie(ctx context.Context, id uuid.UUID) (Movie, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return Movie{}, err
	}
	return e.record, nil
}

// ListMovies returns the cached movies ordered by title, then ID.
func (s *Service) ListMovies(_ context.Context) ([]Movie, error) {
	s.mu.RLock()
	movies := make([]Movie, 0, len(s.cache))
	for _, e := range s.cache {
		movies = append(movies, e.record)
	}
	s.mu.RUnlock()

	sort.Slice(movies, func(i, j int) bool {
		if movies[i].Title != movies[j].Title {
			return movies[i].Title < movies[j].Title
		}
		return movies[i].ID.String() < movies[j].ID.String()
	})

	return movies, nil
}

func (s *Service) DeleteMovie(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "service.DeleteMovie", trace.WithAttributes(attribute.String("movie.id", id.String())))
	defer span.End()

	existing, err := s.lookup(ctx, id)
	if err != nil {
		return recordSpanError(span, err)
	}

	if err := s.repo.DeleteMovie(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCached(id)
			return recordSpanError(span, ErrMovieNotFound)
		}
		return recordSpanError(span, fmt.Errorf("delete movie: %w", err))
	}

	s.deleteCached(id)
	s.publishMovieEventBestEffort(ctx, EventTypeDeleted, existing.record)

	return nil
}

// QuoteFee prices one screening of a movie.
func (s *Service) QuoteFee(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.QuoteFee", trace.WithAttributes(
		attribute.String("movie.id", req.MovieID.String()),
		attribute.Int("screening.sequence", req.Sequence),
	))
	defer span.End()

	result, err := s.quote(ctx, req)
	if err != nil {
		return QuoteResult{}, recordSpanError(span, err)
	}

	span.SetAttributes(
		attribute.Int64("quote.discount", result.Discount.Amount()),
		attribute.Int64("quote.fee", result.Fee.Amount()),
	)
	return result, nil
}

// QuoteBatch prices each request in order. The first failure fails the whole
// batch.
func (s *Service) QuoteBatch(ctx context.Context, requests []QuoteRequest) ([]QuoteResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.QuoteBatch", trace.WithAttributes(attribute.Int("batch.size", len(requests))))
	defer span.End()

	if len(requests) == 0 {
		return nil, recordSpanError(span, ErrEmptyBatch)
	}

	results := make([]QuoteResult, 0, len(requests))
	for i, req := range requests {
		result, err := s.quote(ctx, req)
		if err != nil {
			return nil, recordSpanError(span, fmt.Errorf("requests[%d]: %w", i, err))
		}
		results = append(results, result)
	}

	return results, nil
}

// SeedMovies creates defs when no movies exist yet and reports how many were
// created. The emptiness check and the inserts run in one repository
// transaction, so concurrent replicas seed at most once.
func (s *Service) SeedMovies(ctx context.Context, defs []pricing.Definition) (int, error) {
	ctx, span := s.tracer.Start(ctx, "service.SeedMovies")
	defer span.End()

	built := make([]*core.Movie, len(defs))
	rows := make([]repository.Movie, len(defs))
	for i, def := range defs {
		movie, payload, err := s.build(def)
		if err != nil {
			return 0, recordSpanError(span, fmt.Errorf("seed %q: %w", def.Title, err))
		}
		built[i] = movie
		rows[i] = repository.Movie{Title: def.Title, Definition: payload}
	}

	created, err := s.repo.SeedMovies(ctx, rows)
	if err != nil {
		return 0, recordSpanError(span, fmt.Errorf("seed movies: %w", err))
	}

	for i, row := range created {
		record := Movie{ID: row.ID, Definition: defs[i], CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}
		s.setCached(entry{record: record, built: built[i]})
		s.publishMovieEventBestEffort(ctx, EventTypeUpdated, record)
	}
	span.SetAttributes(attribute.Int("movies.seeded", len(created)))
	return len(created), nil
}

func (s *Service) ListEventsSince(ctx context.Context, eventID int64) ([]repository.MovieEvent, error) {
	events, err := s.repo.ListEventsSince(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", eventID, err)
	}

	return events, nil
}

func (s *Service) ListEventsSinceForMovie(ctx context.Context, eventID int64, movieID uuid.UUID) ([]repository.MovieEvent, error) {
	events, err := s.repo.ListEventsSinceForMovie(ctx, eventID, movieID)
	if err != nil {
		return nil, fmt.Errorf("list events since %d for movie %s: %w", eventID, movieID, err)
	}

	return events, nil
}

func (s *Service) quote(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
	e, err := s.lookup(ctx, req.MovieID)
	if err != nil {
		return QuoteResult{}, err
	}

	fee := e.built.Fee()
	if req.Fee != nil {
		fee = *req.Fee
	}

	screening, err := core.NewScreening(req.Sequence, req.StartTime, fee)
	if err != nil {
		return QuoteResult{}, fmt.Errorf("%w: %w", ErrInvalidScreening, err)
	}

	quote := e.built.Quote(screening)
	if s.onQuote != nil {
		s.onQuote(!quote.Discount.IsZero())
	}

	return QuoteResult{MovieID: e.record.ID, Title: e.built.Title(), Quote: quote}, nil
}

// lookup serves from the cache and falls back to the repository so that a
// replica that has not yet seen a NOTIFY still answers.
func (s *Service) lookup(ctx context.Context, id uuid.UUID) (entry, error) {
	if e, ok := s.getCached(id); ok {
		return e, nil
	}

	record, err := s.repo.GetMovie(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entry{}, ErrMovieNotFound
		}
		return entry{}, fmt.Errorf("get movie: %w", err)
	}

	e, err := s.buildEntry(record)
	if err != nil {
		return entry{}, fmt.Errorf("build stored movie %s: %w", id, err)
	}

	s.setCached(e)
	return e, nil
}

func (s *Service) build(def pricing.Definition) (*core.Movie, json.RawMessage, error) {
	built, err := s.builder.Build(def)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	payload, err := json.Marshal(def)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal definition: %w", err)
	}
	return built, payload, nil
}

func (s *Service) buildEntry(record repository.Movie) (entry, error) {
	var def pricing.Definition
	if err := json.Unmarshal(record.Definition, &def); err != nil {
		return entry{}, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	built, err := s.builder.Build(def)
	if err != nil {
		return entry{}, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	return entry{
		record: Movie{ID: record.ID, Definition: def, CreatedAt: record.CreatedAt, UpdatedAt: record.UpdatedAt},
		built:  built,
	}, nil
}

func (s *Service) getCached(id uuid.UUID) (entry, bool) {
	s.mu.RLock()
	e, ok := s.cache[id]
	s.mu.RUnlock()

	return e, ok
}

func (s *Service) setCached(e entry) {
	s.mu.Lock()
	s.cache[e.record.ID] = e
	size := len(s.cache)
	s.mu.Unlock()

	s.reportCacheSize(size)
}

func (s *Service) deleteCached(id uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, id)
	size := len(s.cache)
	s.mu.Unlock()

	s.reportCacheSize(size)
}

func (s *Service) reportCacheSize(size int) {
	if s.onCacheSize != nil {
		s.onCacheSize(float64(size))
	}
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeMovieInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeMovieInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeMovieInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				if s.onCacheInvalidation != nil {
					s.onCacheInvalidation()
				}
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()
	if err := s.LoadCache(reloadCtx); err != nil && ctx.Err() == nil {
		s.log.ErrorContext(ctx, "cache reload failed", slog.Any("error", err))
	}
}

func (s *Service) publishMovieEventBestEffort(ctx context.Context, eventType string, movie Movie) {
	// Mutations have already committed before events are published.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()
	if err := s.publishMovieEvent(publishCtx, eventType, movie); err != nil {
		s.log.WarnContext(ctx, "publish movie event failed",
			slog.String("movie_id", movie.ID.String()),
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
	}
}

func (s *Service) publishMovieEvent(ctx context.Context, eventType string, movie Movie) error {
	payload, err := json.Marshal(movie)
	if err != nil {
		return fmt.Errorf("marshal %s event payload: %w", eventType, err)
	}

	var actor string
	if s.actor != nil {
		actor = s.actor(ctx)
	}

	_, err = s.repo.PublishMovieEvent(ctx, repository.MovieEvent{
		MovieID:   movie.ID,
		EventType: eventType,
		Actor:     actor,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	return nil
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
