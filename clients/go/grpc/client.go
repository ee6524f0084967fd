// Package grpc provides a gRPC client for the marquee pricing service.
package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	pricingpb "github.com/matt-riley/marquee/api/proto/v1"
	marquee "github.com/matt-riley/marquee/clients/go"
)

// Config holds configuration for the gRPC client.
type Config struct {
	// Address is the host:port of the marquee gRPC server, e.g. "localhost:9090".
	Address string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// MovieID restricts Stream to a single movie when set.
	MovieID string
	// DialOpts are additional gRPC dial options (e.g. TLS credentials).
	// If empty, insecure credentials are used.
	DialOpts []grpc.DialOption
}

// Client implements marquee.MovieReader, marquee.Quoter and marquee.Streamer
// over gRPC.
type Client struct {
	cfg  Config
	conn *grpc.ClientConn
}

// NewGRPCClient creates a client for the marquee gRPC server.
// Call Close() when done.
func NewGRPCClient(cfg Config) (*Client, error) {
	opts := cfg.DialOpts
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("marquee: grpc dial: %w", err)
	}
	return &Client{cfg: cfg, conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) authCtx(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.cfg.APIKey)
}

func (c *Client) invoke(ctx context.Context, method string, req, resp pricingpb.Message) error {
	reply := pricingpb.Empty(resp)
	if err := c.conn.Invoke(c.authCtx(ctx), pricingpb.FullMethod(method), pricingpb.Marshal(req), reply); err != nil {
		return fmt.Errorf("marquee: %s: %w", method, err)
	}
	if err := pricingpb.Unmarshal(reply, resp); err != nil {
		return fmt.Errorf("marquee: %s: %w", method, err)
	}
	return nil
}

// -- MovieReader --------------------------------------------------------------

func (c *Client) GetMovie(ctx context.Context, id string) (marquee.Movie, error) {
	var movie pricingpb.Movie
	if err := c.invoke(ctx, "GetMovie", &pricingpb.GetMovieRequest{ID: id}, &movie); err != nil {
		return marquee.Movie{}, err
	}
	return fromProtoMovie(&movie), nil
}

// ListMovies follows page tokens until the catalogue is exhausted.
func (c *Client) ListMovies(ctx context.Context) ([]marquee.Movie, error) {
	var movies []marquee.Movie
	req := &pricingpb.ListMoviesRequest{}
	for {
		var resp pricingpb.ListMoviesResponse
		if err := c.invoke(ctx, "ListMovies", req, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Movies {
			movies = append(movies, fromProtoMovie(&resp.Movies[i]))
		}
		if resp.NextPageToken == "" {
			return movies, nil
		}
		req.PageToken = resp.NextPageToken
	}
}

// -- Quoter -------------------------------------------------------------------

func (c *Client) Quote(ctx context.Context, req marquee.QuoteRequest) (marquee.Quote, error) {
	var quote pricingpb.Quote
	if err := c.invoke(ctx, "QuoteFee", toProtoQuoteRequest(req), &quote); err != nil {
		return marquee.Quote{}, err
	}
	return fromProtoQuote(quote), nil
}

func (c *Client) QuoteBatch(ctx context.Context, reqs []marquee.QuoteRequest) ([]marquee.Quote, error) {
	batch := &pricingpb.QuoteBatchRequest{Requests: make([]pricingpb.QuoteFeeRequest, 0, len(reqs))}
	for _, req := range reqs {
		batch.Requests = append(batch.Requests, *toProtoQuoteRequest(req))
	}

	var resp pricingpb.QuoteBatchResponse
	if err := c.invoke(ctx, "QuoteBatch", batch, &resp); err != nil {
		return nil, err
	}
	quotes := make([]marquee.Quote, 0, len(resp.Results))
	for _, q := range resp.Results {
		quotes = append(quotes, fromProtoQuote(q))
	}
	return quotes, nil
}

// -- Streamer -----------------------------------------------------------------

var watchMoviesDesc = &grpc.StreamDesc{StreamName: "WatchMovies", ServerStreams: true}

// Stream opens the WatchMovies stream and emits MovieEvents on the returned
// channel. The channel is closed when ctx is cancelled or the stream ends.
func (c *Client) Stream(ctx context.Context, lastEventID int64) (<-chan marquee.MovieEvent, error) {
	stream, err := c.conn.NewStream(c.authCtx(ctx), watchMoviesDesc, pricingpb.FullMethod("WatchMovies"))
	if err != nil {
		return nil, fmt.Errorf("marquee: WatchMovies: %w", err)
	}
	req := &pricingpb.WatchMoviesRequest{MovieID: c.cfg.MovieID, LastEventID: lastEventID}
	if err := stream.SendMsg(pricingpb.Marshal(req)); err != nil {
		return nil, fmt.Errorf("marquee: WatchMovies: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("marquee: WatchMovies: %w", err)
	}

	ch := make(chan marquee.MovieEvent, 16)
	go func() {
		defer close(ch)
		for {
			var ev pricingpb.MovieEvent
			wire := pricingpb.Empty(&ev)
			if err := stream.RecvMsg(wire); err != nil {
				return
			}
			if err := pricingpb.Unmarshal(wire, &ev); err != nil {
				return
			}
			event := marquee.MovieEvent{Type: ev.Type, MovieID: ev.MovieID, EventID: ev.EventID}
			if ev.Movie != nil {
				movie := fromProtoMovie(ev.Movie)
				event.Movie = &movie
			}
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func toProtoQuoteRequest(req marquee.QuoteRequest) *pricingpb.QuoteFeeRequest {
	return &pricingpb.QuoteFeeRequest{
		MovieID:   req.MovieID,
		Sequence:  int32(req.Sequence),
		StartTime: req.StartTime,
		Fee:       req.Fee,
	}
}

func fromProtoQuote(q pricingpb.Quote) marquee.Quote {
	return marquee.Quote{MovieID: q.MovieID, Title: q.Title, BaseFee: q.BaseFee, Discount: q.Discount, Fee: q.Fee}
}

func fromProtoMovie(m *pricingpb.Movie) marquee.Movie {
	policy := marquee.Policy{Type: m.Policy.Type, Amount: m.Policy.Amount, Fraction: m.Policy.Fraction}
	for _, c := range m.Policy.Conditions {
		policy.Conditions = append(policy.Conditions, marquee.Condition{
			Type:      c.Type,
			Sequence:  int(c.Sequence),
			DayOfWeek: c.DayOfWeek,
			Start:     c.Start,
			End:       c.End,
		})
	}
	return marquee.Movie{
		ID: m.ID,
		Definition: marquee.Definition{
			Title:              m.Title,
			RunningTimeMinutes: int(m.RunningTimeMinutes),
			Fee:                m.Fee,
			Policy:             policy,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
