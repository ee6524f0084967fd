package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MovieEvent records one change to a movie definition. Events drive cache
// invalidation across replicas and the change stream served to clients.
type MovieEvent struct {
	EventID   int64           `json:"event_id"`
	MovieID   uuid.UUID       `json:"movie_id"`
	EventType string          `json:"event_type"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PublishMovieEvent inserts an event and sends a NOTIFY on the configured
// channel within a single transaction.
func (r *PostgresRepository) PublishMovieEvent(ctx context.Context, event MovieEvent) (MovieEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return MovieEvent{}, fmt.Errorf("begin publish event tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var created MovieEvent
	if err := tx.QueryRow(ctx, `
		INSERT INTO movie_events (movie_id, event_type, actor, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING event_id, movie_id, event_type, actor, payload, created_at
	`,
		event.MovieID,
		event.EventType,
		event.Actor,
		ensureJSON(event.Payload, "{}"),
	).Scan(
		&created.EventID,
		&created.MovieID,
		&created.EventType,
		&created.Actor,
		&created.Payload,
		&created.CreatedAt,
	); err != nil {
		return MovieEvent{}, fmt.Errorf("insert movie event: %w", err)
	}

	notifyPayload, err := marshalNotifyPayload(created)
	if err != nil {
		return MovieEvent{}, fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, notifyPayload); err != nil {
		return MovieEvent{}, fmt.Errorf("notify movie event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return MovieEvent{}, fmt.Errorf("commit publish event tx: %w", err)
	}

	return created, nil
}

// ListEventsSince returns events with IDs greater than eventID in ID order,
// at most the configured batch size.
func (r *PostgresRepository) ListEventsSince(ctx context.Context, eventID int64) ([]MovieEvent, error) {
	return r.listEvents(ctx, `
		SELECT event_id, movie_id, event_type, actor, payload, created_at
		FROM movie_events
		WHERE event_id > $1
		ORDER BY event_id
		LIMIT $2
	`, eventID, r.eventBatchSize)
}

// ListEventsSinceForMovie is ListEventsSince restricted to one movie.
func (r *PostgresRepository) ListEventsSinceForMovie(ctx context.Context, eventID int64, movieID uuid.UUID) ([]MovieEvent, error) {
	return r.listEvents(ctx, `
		SELECT event_id, movie_id, event_type, actor, payload, created_at
		FROM movie_events
		WHERE event_id > $1 AND movie_id = $2
		ORDER BY event_id
		LIMIT $3
	`, eventID, movieID, r.eventBatchSize)
}

func (r *PostgresRepository) listEvents(ctx context.Context, query string, args ...any) ([]MovieEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]MovieEvent, 0)
	for rows.Next() {
		var event MovieEvent
		if err := rows.Scan(
			&event.EventID,
			&event.MovieID,
			&event.EventType,
			&event.Actor,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events rows: %w", err)
	}

	return events, nil
}

func marshalNotifyPayload(event MovieEvent) (string, error) {
	serialized, err := json.Marshal(struct {
		MovieID   uuid.UUID `json:"movie_id"`
		EventType string    `json:"event_type"`
	}{
		MovieID:   event.MovieID,
		EventType: event.EventType,
	})
	if err != nil {
		return "", err
	}

	return string(serialized), nil
}
