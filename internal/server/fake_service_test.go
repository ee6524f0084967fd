package server

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/matt-riley/marquee/internal/pricing"
	"github.com/matt-riley/marquee/internal/repository"
	"github.com/matt-riley/marquee/internal/service"
)

type fakeService struct {
	createMovieFunc             func(ctx context.Context, def pricing.Definition) (service.Movie, error)
	updateMovieFunc             func(ctx context.Context, id uuid.UUID, def pricing.Definition) (service.Movie, error)
	getMovieFunc                func(ctx context.Context, id uuid.UUID) (service.Movie, error)
	listMoviesFunc              func(ctx context.Context) ([]service.Movie, error)
	deleteMovieFunc             func(ctx context.Context, id uuid.UUID) error
	quoteFeeFunc                func(ctx context.Context, req service.QuoteRequest) (service.QuoteResult, error)
	quoteBatchFunc              func(ctx context.Context, requests []service.QuoteRequest) ([]service.QuoteResult, error)
	listEventsSinceFunc         func(ctx context.Context, eventID int64) ([]repository.MovieEvent, error)
	listEventsSinceForMovieFunc func(ctx context.Context, eventID int64, movieID uuid.UUID) ([]repository.MovieEvent, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeService) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeService) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (f *fakeService) CreateMovie(ctx context.Context, def pricing.Definition) (service.Movie, error) {
	f.record("CreateMovie")
	if f.createMovieFunc == nil {
		return service.Movie{}, nil
	}
	return f.createMovieFunc(ctx, def)
}

func (f *fakeService) UpdateMovie(ctx context.Context, id uuid.UUID, def pricing.Definition) (service.Movie, error) {
	f.record("UpdateMovie")
	if f.updateMovieFunc == nil {
		return service.Movie{}, nil
	}
	return f.updateMovieFunc(ctx, id, def)
}

func (f *fakeService) GetMovie(ctx context.Context, id uuid.UUID) (service.Movie, error) {
	f.record("GetMovie")
	if f.getMovieFunc == nil {
		return service.Movie{}, service.ErrMovieNotFound
	}
	return f.getMovieFunc(ctx, id)
}

func (f *fakeService) ListMovies(ctx context.Context) ([]service.Movie, error) {
	f.record("ListMovies")
	if f.listMoviesFunc == nil {
		return nil, nil
	}
	return f.listMoviesFunc(ctx)
}

func (f *fakeService) DeleteMovie(ctx context.Context, id uuid.UUID) error {
	f.record("DeleteMovie")
	if f.deleteMovieFunc == nil {
		return nil
	}
	return f.deleteMovieFunc(ctx, id)
}

func (f *fakeService) QuoteFee(ctx context.Context, req service.QuoteRequest) (service.QuoteResult, error) {
	f.record("QuoteFee")
	if f.quoteFeeFunc == nil {
		return service.QuoteResult{}, nil
	}
	return f.quoteFeeFunc(ctx, req)
}

func (f *fakeService) QuoteBatch(ctx context.Context, requests []service.QuoteRequest) ([]service.QuoteResult, error) {
	f.record("QuoteBatch")
	if f.quoteBatchFunc == nil {
		return nil, nil
	}
	return f.quoteBatchFunc(ctx, requests)
}

func (f *fakeService) ListEventsSince(ctx context.Context, eventID int64) ([]repository.MovieEvent, error) {
	f.record("ListEventsSince")
	if f.listEventsSinceFunc == nil {
		return nil, nil
	}
	return f.listEventsSinceFunc(ctx, eventID)
}

func (f *fakeService) ListEventsSinceForMovie(ctx context.Context, eventID int64, movieID uuid.UUID) ([]repository.MovieEvent, error) {
	f.record("ListEventsSinceForMovie")
	if f.listEventsSinceForMovieFunc == nil {
		return nil, nil
	}
	return f.listEventsSinceForMovieFunc(ctx, eventID, movieID)
}
