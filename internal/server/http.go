package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/matt-riley/marquee/internal/core"
	"github.com/matt-riley/marquee/internal/middleware"
	"github.com/matt-riley/marquee/internal/pricing"
	"github.com/matt-riley/marquee/internal/repository"
	"github.com/matt-riley/marquee/internal/service"
)

const healthCheckTimeout = 2 * time.Second

var (
	errJSONBodyTooLarge = errors.New("json request body too large")
	errInvalidMovieID   = errors.New("invalid movie id")
)

type HTTPServer struct {
	service Service
	opts    options
}

type quoteJSONRequest struct {
	Sequence  int         `json:"sequence"`
	StartTime time.Time   `json:"start_time"`
	Fee       *core.Money `json:"fee,omitempty"`
}

type quoteBatchJSONItem struct {
	MovieID   uuid.UUID   `json:"movie_id"`
	Sequence  int         `json:"sequence"`
	StartTime time.Time   `json:"start_time"`
	Fee       *core.Money `json:"fee,omitempty"`
}

type quoteBatchJSONRequest struct {
	Requests []quoteBatchJSONItem `json:"requests"`
}

type quoteBatchJSONResponse struct {
	Results []service.QuoteResult `json:"results"`
}

// NewHTTPHandler builds the JSON API router.
func NewHTTPHandler(svc Service, opts ...Option) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	s := &HTTPServer{service: svc, opts: newOptions(opts)}

	r := chi.NewRouter()
	if s.opts.metrics != nil {
		r.Use(s.opts.metrics.HTTPMiddleware)
		r.Method(http.MethodGet, "/metrics", s.opts.metrics.Handler())
	}
	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		if s.opts.auth != nil {
			r.Use(s.opts.auth)
		}

		r.Post("/movies", s.handleCreateMovie)
		r.Get("/movies", s.handleListMovies)
		r.Get("/movies/{id}", s.handleGetMovie)
		r.Put("/movies/{id}", s.handleUpdateMovie)
		r.Delete("/movies/{id}", s.handleDeleteMovie)
		r.Post("/movies/{id}/quote", s.handleQuote)
		r.Post("/quotes", s.handleQuoteBatch)
		r.Get("/events", s.handleListEvents)
		r.Get("/stream", s.handleStream)
	})

	return r
}

func (s *HTTPServer) handleCreateMovie(w http.ResponseWriter, r *http.Request) {
	var def pricing.Definition
	if err := s.decodeJSONBody(w, r, &def); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateMovie(r.Context(), def)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	id, err := movieIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	movie, err := s.service.GetMovie(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, movie)
}

func (s *HTTPServer) handleListMovies(w http.ResponseWriter, r *http.Request) {
	movies, err := s.service.ListMovies(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, movies)
}

func (s *HTTPServer) handleUpdateMovie(w http.ResponseWriter, r *http.Request) {
	id, err := movieIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var def pricing.Definition
	if err := s.decodeJSONBody(w, r, &def); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	updated, err := s.service.UpdateMovie(r.Context(), id, def)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteMovie(w http.ResponseWriter, r *http.Request) {
	id, err := movieIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.DeleteMovie(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	id, err := movieIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var request quoteJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	result, err := s.service.QuoteFee(r.Context(), service.QuoteRequest{
		MovieID:   id,
		Sequence:  request.Sequence,
		StartTime: request.StartTime,
		Fee:       request.Fee,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleQuoteBatch(w http.ResponseWriter, r *http.Request) {
	var request quoteBatchJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	requests := make([]service.QuoteRequest, 0, len(request.Requests))
	for idx, item := range request.Requests {
		if item.MovieID == uuid.Nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("requests[%d].movie_id is required", idx))
			return
		}
		requests = append(requests, service.QuoteRequest{
			MovieID:   item.MovieID,
			Sequence:  item.Sequence,
			StartTime: item.StartTime,
			Fee:       item.Fee,
		})
	}

	results, err := s.service.QuoteBatch(r.Context(), requests)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteBatchJSONResponse{Results: results})
}

func (s *HTTPServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	since, err := parseLastEventID(r.URL.Query().Get("since"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid since")
		return
	}

	listEventsSince, err := s.eventLister(r.URL.Query().Get("movie_id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := listEventsSince(r.Context(), since)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	lastEventID, err := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}

	listEventsSince, err := s.eventLister(r.URL.Query().Get("movie_id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	currentEventID := lastEventID
	writeEvents := func(events []repository.MovieEvent) error {
		for _, event := range events {
			currentEventID = event.EventID
			eventName := toSSEEventName(event.EventType)
			if eventName == "" {
				continue
			}

			payload := event.Payload
			if len(payload) == 0 {
				payload = []byte(`{}`)
			}

			if err := writeSSEEvent(w, event.EventID, eventName, payload); err != nil {
				return err
			}
			flusher.Flush()
		}

		return nil
	}

	initialEvents, err := listEventsSince(r.Context(), currentEventID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	done := s.opts.streamOpened("sse")
	defer done()

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := writeEvents(initialEvents); err != nil {
		return
	}

	ticker := time.NewTicker(s.opts.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := listEventsSince(r.Context(), currentEventID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				middleware.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "stream poll failed", "error", err)
				writeSSEError(w, flusher, "internal server error")
				return
			}
			if err := writeEvents(events); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.opts.healthCheck(ctx); err != nil {
			middleware.LoggerFromContext(r.Context()).WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) eventLister(rawMovieID string) (func(context.Context, int64) ([]repository.MovieEvent, error), error) {
	rawMovieID = strings.TrimSpace(rawMovieID)
	if rawMovieID == "" {
		return s.service.ListEventsSince, nil
	}

	movieID, err := uuid.Parse(rawMovieID)
	if err != nil {
		return nil, errInvalidMovieID
	}
	return func(ctx context.Context, eventID int64) ([]repository.MovieEvent, error) {
		return s.service.ListEventsSinceForMovie(ctx, eventID, movieID)
	}, nil
}

func movieIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		return uuid.Nil, errInvalidMovieID
	}
	return id, nil
}

func parseLastEventID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	eventID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || eventID < 0 {
		return 0, errors.New("invalid event id")
	}

	return eventID, nil
}

func toSSEEventName(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "update", service.EventTypeUpdated:
		return "update"
	case "delete", service.EventTypeDeleted:
		return "delete"
	default:
		return ""
	}
}

// writeServiceError maps service sentinels to HTTP statuses. Client errors
// carry the full message, which includes the offending field path.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDefinition),
		errors.Is(err, service.ErrInvalidScreening),
		errors.Is(err, service.ErrEmptyBatch):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrMovieNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusRequestTimeout, "request canceled")
	default:
		middleware.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"internal server error"}`)
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

func writeSSEEvent(w io.Writer, eventID int64, eventName string, payload []byte) error {
	dataLines := compactSSEPayload(payload)
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", eventID, eventName); err != nil {
		return err
	}

	for _, line := range dataLines {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(w, "\n")
	return err
}

func compactSSEPayload(payload []byte) []string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err == nil {
		return []string{compact.String()}
	}

	return strings.Split(string(payload), "\n")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	// Value types such as core.Fraction validate while decoding.
	if errors.Is(err, core.ErrInvalidArgument) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
