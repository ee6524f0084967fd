package server

import (
	"context"

	"github.com/google/uuid"

	"github.com/matt-riley/marquee/internal/pricing"
	"github.com/matt-riley/marquee/internal/repository"
	"github.com/matt-riley/marquee/internal/service"
)

// Service is the subset of *service.Service the transports call.
type Service interface {
	CreateMovie(ctx context.Context, def pricing.Definition) (service.Movie, error)
	UpdateMovie(ctx context.Context, id uuid.UUID, def pricing.Definition) (service.Movie, error)
	GetMovie(ctx context.Context, id uuid.UUID) (service.Movie, error)
	ListMovies(ctx context.Context) ([]service.Movie, error)
	DeleteMovie(ctx context.Context, id uuid.UUID) error
	QuoteFee(ctx context.Context, req service.QuoteRequest) (service.QuoteResult, error)
	QuoteBatch(ctx context.Context, requests []service.QuoteRequest) ([]service.QuoteResult, error)
	ListEventsSince(ctx context.Context, eventID int64) ([]repository.MovieEvent, error)
	ListEventsSinceForMovie(ctx context.Context, eventID int64, movieID uuid.UUID) ([]repository.MovieEvent, error)
}

var _ Service = (*service.Service)(nil)
