// Package repository provides PostgreSQL-backed persistence for movie pricing
// definitions, API keys and movie events. It also owns the LISTEN/NOTIFY
// plumbing the service layer uses to keep its cache of built movies fresh.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultNotifyChannel  = "movie_events"
	defaultEventBatchSize = 1000
	listenRetryDelay      = time.Second
)

// Movie is a stored pricing definition. Definition holds the raw JSON the
// pricing factory builds from; the repository never interprets it.
type Movie struct {
	ID         uuid.UUID       `json:"id"`
	Title      string          `json:"title"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PostgresRepository implements movie, API key and event persistence backed by
// a pgxpool connection pool.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	notifyChannel  string
	eventBatchSize int
}

type Option func(*PostgresRepository)

// WithNotifyChannel overrides the LISTEN/NOTIFY channel name.
func WithNotifyChannel(channel string) Option {
	return func(r *PostgresRepository) {
		r.notifyChannel = normalizeNotifyChannel(channel)
	}
}

// WithEventBatchSize caps the number of events returned by a single
// ListEventsSince query.
func WithEventBatchSize(n int) Option {
	return func(r *PostgresRepository) {
		if n > 0 {
			r.eventBatchSize = n
		}
	}
}

func NewPostgresRepository(pool *pgxpool.Pool, opts ...Option) *PostgresRepository {
	r := &PostgresRepository{
		pool:           pool,
		notifyChannel:  defaultNotifyChannel,
		eventBatchSize: defaultEventBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks that the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// CreateMovie inserts a movie and returns it with its generated ID and
// timestamps.
func (r *PostgresRepository) CreateMovie(ctx context.Context, movie Movie) (Movie, error) {
	var created Movie
	err := r.pool.QueryRow(ctx, `
		INSERT INTO movies (title, definition)
		VALUES ($1, $2)
		RETURNING id, title, definition, created_at, updated_at
	`,
		movie.Title,
		ensureJSON(movie.Definition, "{}"),
	).Scan(
		&created.ID,
		&created.Title,
		&created.Definition,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return Movie{}, fmt.Errorf("create movie: %w", err)
	}

	return created, nil
}

// UpdateMovie replaces the definition of an existing movie. Returns
// pgx.ErrNoRows (wrapped) if the movie does not exist.
// seedLockKey serialises concurrent SeedMovies calls across replicas.
const seedLockKey = 0x6d61727175656531

// SeedMovies inserts movies in one transaction when the movies table is empty
// and returns the created rows. It returns no rows when any movie exists.
func (r *PostgresRepository) SeedMovies(ctx context.Context, movies []Movie) ([]Movie, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(seedLockKey)); err != nil {
		return nil, fmt.Errorf("lock seed: %w", err)
	}

	var populated bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM movies)`).Scan(&populated); err != nil {
		return nil, fmt.Errorf("check movies: %w", err)
	}
	if populated {
		return nil, nil
	}

	created := make([]Movie, 0, len(movies))
	for _, movie := range movies {
		var row Movie
		if err := tx.QueryRow(ctx, `
			INSERT INTO movies (title, definition)
			VALUES ($1, $2)
			RETURNING id, title, definition, created_at, updated_at
		`,
			movie.Title,
			ensureJSON(movie.Definition, "{}"),
		).Scan(&row.ID, &row.Title, &row.Definition, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("seed movie %q: %w", movie.Title, err)
		}
		created = append(created, row)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit seed tx: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) UpdateMovie(ctx context.Context, movie Movie) (Movie, error) {
	var updated Movie
	err := r.pool.QueryRow(ctx, `
		UPDATE movies
		SET title = $2,
		    definition = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, title, definition, created_at, updated_at
	`,
		movie.ID,
		movie.Title,
		ensureJSON(movie.Definition, "{}"),
	).Scan(
		&updated.ID,
		&updated.Title,
		&updated.Definition,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return Movie{}, fmt.Errorf("update movie: %w", err)
	}

	return updated, nil
}

// GetMovie returns pgx.ErrNoRows (wrapped) if the movie does not exist.
func (r *PostgresRepository) GetMovie(ctx context.Context, id uuid.UUID) (Movie, error) {
	var movie Movie
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, definition, created_at, updated_at
		FROM movies
		WHERE id = $1
	`, id).Scan(
		&movie.ID,
		&movie.Title,
		&movie.Definition,
		&movie.CreatedAt,
		&movie.UpdatedAt,
	)
	if err != nil {
		return Movie{}, fmt.Errorf("get movie: %w", err)
	}

	return movie, nil
}

func (r *PostgresRepository) ListMovies(ctx context.Context) ([]Movie, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, definition, created_at, updated_at
		FROM movies
		ORDER BY title, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	defer rows.Close()

	movies := make([]Movie, 0)
	for rows.Next() {
		var movie Movie
		if err := rows.Scan(
			&movie.ID,
			&movie.Title,
			&movie.Definition,
			&movie.CreatedAt,
			&movie.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan movie: %w", err)
		}

		movies = append(movies, movie)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list movies rows: %w", err)
	}

	return movies, nil
}

// DeleteMovie returns pgx.ErrNoRows (wrapped) if the movie does not exist.
func (r *PostgresRepository) DeleteMovie(ctx context.Context, id uuid.UUID) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM movies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete movie: %w", err)
	}

	return deleteNoRows("delete movie", commandTag)
}

// SubscribeMovieInvalidation returns a channel that receives a signal whenever
// a movie event notification arrives on the LISTEN channel. The channel is
// closed when ctx is done.
func (r *PostgresRepository) SubscribeMovieInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(listenRetryDelay)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for movie event notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func deleteNoRows(op string, commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, pgx.ErrNoRows)
	}

	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}
