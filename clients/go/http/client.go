// Package http provides an HTTP client for the marquee pricing service.
package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	marquee "github.com/matt-riley/marquee/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the marquee server, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// MovieID restricts Stream to a single movie when set.
	MovieID string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements marquee.MovieReader, marquee.MovieWriter, marquee.Quoter
// and marquee.Streamer over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClient returns a new HTTP client for the marquee service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marquee: HTTP %d: %s", e.StatusCode, e.Message)
}

type wireQuoteReq struct {
	Sequence  int       `json:"sequence"`
	StartTime time.Time `json:"start_time"`
	Fee       *int64    `json:"fee,omitempty"`
}

type wireQuoteBatch struct {
	Requests []marquee.QuoteRequest `json:"requests,omitempty"`
	Results  []marquee.Quote        `json:"results,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marquee: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("marquee: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marquee: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("marquee: decode response: %w", err)
	}
	return nil
}

// readAPIError prefers the server's {"error": ...} body and falls back to the
// raw text.
func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func moviePath(id string) string {
	return "/v1/movies/" + url.PathEscape(id)
}

// -- MovieReader / MovieWriter ------------------------------------------------

func (c *Client) CreateMovie(ctx context.Context, def marquee.Definition) (marquee.Movie, error) {
	var movie marquee.Movie
	if err := c.do(ctx, http.MethodPost, "/v1/movies", def, &movie); err != nil {
		return marquee.Movie{}, err
	}
	return movie, nil
}

func (c *Client) GetMovie(ctx context.Context, id string) (marquee.Movie, error) {
	var movie marquee.Movie
	if err := c.do(ctx, http.MethodGet, moviePath(id), nil, &movie); err != nil {
		return marquee.Movie{}, err
	}
	return movie, nil
}

func (c *Client) ListMovies(ctx context.Context) ([]marquee.Movie, error) {
	var movies []marquee.Movie
	if err := c.do(ctx, http.MethodGet, "/v1/movies", nil, &movies); err != nil {
		return nil, err
	}
	return movies, nil
}

func (c *Client) UpdateMovie(ctx context.Context, id string, def marquee.Definition) (marquee.Movie, error) {
	var movie marquee.Movie
	if err := c.do(ctx, http.MethodPut, moviePath(id), def, &movie); err != nil {
		return marquee.Movie{}, err
	}
	return movie, nil
}

func (c *Client) DeleteMovie(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, moviePath(id), nil, nil)
}

// -- Quoter -------------------------------------------------------------------

func (c *Client) Quote(ctx context.Context, req marquee.QuoteRequest) (marquee.Quote, error) {
	body := wireQuoteReq{Sequence: req.Sequence, StartTime: req.StartTime, Fee: req.Fee}
	var quote marquee.Quote
	if err := c.do(ctx, http.MethodPost, moviePath(req.MovieID)+"/quote", body, &quote); err != nil {
		return marquee.Quote{}, err
	}
	return quote, nil
}

func (c *Client) QuoteBatch(ctx context.Context, reqs []marquee.QuoteRequest) ([]marquee.Quote, error) {
	var out wireQuoteBatch
	if err := c.do(ctx, http.MethodPost, "/v1/quotes", wireQuoteBatch{Requests: reqs}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// -- Streamer -----------------------------------------------------------------

// Stream connects to the SSE stream and emits MovieEvents on the returned
// channel. The channel is closed when ctx is cancelled or the connection drops.
func (c *Client) Stream(ctx context.Context, lastEventID int64) (<-chan marquee.MovieEvent, error) {
	target := c.cfg.BaseURL + "/v1/stream"
	if c.cfg.MovieID != "" {
		target += "?movie_id=" + url.QueryEscape(c.cfg.MovieID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("marquee: create stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastEventID, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marquee: stream connect: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	ch := make(chan marquee.MovieEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		br := bufio.NewReaderSize(resp.Body, 1<<20)
		parseSSE(ctx, br, ch)
	}()
	return ch, nil
}

// parseSSE handles the id, event and data fields the server emits. A blank
// line dispatches the pending event; repeated data lines are joined with "\n".
func parseSSE(ctx context.Context, r *bufio.Reader, ch chan<- marquee.MovieEvent) {
	var (
		eventType string
		dataLines []string
		eventID   int64
	)

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(dataLines) > 0 {
				ev := marquee.MovieEvent{Type: eventType, EventID: eventID}
				if eventType == "update" || eventType == "delete" {
					var movie marquee.Movie
					if jsonErr := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &movie); jsonErr == nil && movie.ID != "" {
						ev.Movie = &movie
						ev.MovieID = movie.ID
					}
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			eventType = ""
			dataLines = nil
		case strings.HasPrefix(line, "id:"):
			if id, parseErr := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "id:")), 10, 64); parseErr == nil {
				eventID = id
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if err != nil {
			return
		}
	}
}
