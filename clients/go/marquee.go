// Package marquee provides client interfaces and domain types for the marquee
// ticket pricing service.
//
// Use the sub-packages to create transport-specific clients:
//
//	import marqueehttp "github.com/matt-riley/marquee/clients/go/http"
//	import marqueegrpc "github.com/matt-riley/marquee/clients/go/grpc"
package marquee

import (
	"context"
	"time"
)

// MovieReader covers read access to movie definitions.
type MovieReader interface {
	GetMovie(ctx context.Context, id string) (Movie, error)
	ListMovies(ctx context.Context) ([]Movie, error)
}

// MovieWriter covers changes to movie definitions. Only the HTTP API accepts
// writes.
type MovieWriter interface {
	CreateMovie(ctx context.Context, def Definition) (Movie, error)
	UpdateMovie(ctx context.Context, id string, def Definition) (Movie, error)
	DeleteMovie(ctx context.Context, id string) error
}

// Quoter prices screenings.
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	QuoteBatch(ctx context.Context, reqs []QuoteRequest) ([]Quote, error)
}

// Streamer delivers movie change events.
// The returned channel is closed when ctx is cancelled or the connection drops.
type Streamer interface {
	Stream(ctx context.Context, lastEventID int64) (<-chan MovieEvent, error)
}

// Definition holds the pricing parameters of a movie. Money values are
// integer minor units.
type Definition struct {
	Title              string `json:"title"`
	RunningTimeMinutes int    `json:"running_time_minutes"`
	Fee                int64  `json:"fee"`
	Policy             Policy `json:"policy"`
}

// Policy describes how a discount is computed. Amount is read for "amount"
// policies and Fraction (a decimal such as "0.1") for "percent" policies.
type Policy struct {
	Type       string      `json:"type"` // "amount" | "percent" | "none"
	Amount     *int64      `json:"amount,omitempty"`
	Fraction   string      `json:"fraction,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Condition decides whether a screening qualifies for the discount.
type Condition struct {
	Type      string `json:"type"` // "sequence" | "period"
	Sequence  int    `json:"sequence,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	Start     string `json:"start,omitempty"` // "HH:MM"
	End       string `json:"end,omitempty"`
}

// Movie is a stored definition with its identity.
type Movie struct {
	ID string `json:"id"`
	Definition
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuoteRequest prices one screening. Fee overrides the movie's base fee when
// set.
type QuoteRequest struct {
	MovieID   string    `json:"movie_id"`
	Sequence  int       `json:"sequence"`
	StartTime time.Time `json:"start_time"`
	Fee       *int64    `json:"fee,omitempty"`
}

// Quote is the priced outcome of a QuoteRequest.
type Quote struct {
	MovieID  string `json:"movie_id"`
	Title    string `json:"title"`
	BaseFee  int64  `json:"base_fee"`
	Discount int64  `json:"discount"`
	Fee      int64  `json:"fee"`
}

// MovieEvent is a notification of a movie change.
type MovieEvent struct {
	Type    string // "update" | "delete" | "error"
	MovieID string
	Movie   *Movie // nil on error
	EventID int64
}
