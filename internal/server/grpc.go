package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pricingpb "github.com/matt-riley/marquee/api/proto/v1"
	"github.com/matt-riley/marquee/internal/core"
	"github.com/matt-riley/marquee/internal/repository"
	"github.com/matt-riley/marquee/internal/service"
)

// PricingServiceName is the fully qualified gRPC service name.
const PricingServiceName = pricingpb.ServiceName

// MovieEventStream is the server side of WatchMovies.
type MovieEventStream interface {
	Send(*pricingpb.MovieEvent) error
	Context() context.Context
}

// PricingServiceServer is implemented by *GRPCServer.
type PricingServiceServer interface {
	GetMovie(context.Context, *pricingpb.GetMovieRequest) (*pricingpb.Movie, error)
	ListMovies(context.Context, *pricingpb.ListMoviesRequest) (*pricingpb.ListMoviesResponse, error)
	QuoteFee(context.Context, *pricingpb.QuoteFeeRequest) (*pricingpb.Quote, error)
	QuoteBatch(context.Context, *pricingpb.QuoteBatchRequest) (*pricingpb.QuoteBatchResponse, error)
	WatchMovies(*pricingpb.WatchMoviesRequest, MovieEventStream) error
}

// GRPCServer exposes read-only movie lookups, quoting and a change stream
// over gRPC. Messages are the marquee.v1 protobuf types in api/proto/v1.
type GRPCServer struct {
	service Service
	opts    options
}

var _ PricingServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(svc Service, opts ...Option) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}

	return &GRPCServer{service: svc, opts: newOptions(opts)}
}

// Register attaches the pricing service to gs.
func (s *GRPCServer) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&pricingServiceDesc, s)
}

func (s *GRPCServer) GetMovie(ctx context.Context, req *pricingpb.GetMovieRequest) (*pricingpb.Movie, error) {
	id, err := parseGRPCMovieID(req.ID, "id")
	if err != nil {
		return nil, err
	}

	movie, err := s.service.GetMovie(ctx, id)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return toProtoMovie(movie), nil
}

func (s *GRPCServer) ListMovies(ctx context.Context, req *pricingpb.ListMoviesRequest) (*pricingpb.ListMoviesResponse, error) {
	movies, err := s.service.ListMovies(ctx)
	if err != nil {
		return nil, toGRPCError(err)
	}

	pageSize := int(req.PageSize)
	if pageSize < 0 {
		return nil, status.Error(codes.InvalidArgument, "page_size must be non-negative")
	}

	pageStart, err := parseListPageToken(req.PageToken, len(movies))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid page_token")
	}

	pageEnd := len(movies)
	nextPageToken := ""
	if pageSize > 0 {
		pageEnd = min(pageStart+pageSize, len(movies))
		if pageEnd < len(movies) {
			nextPageToken = strconv.Itoa(pageEnd)
		}
	}

	resp := &pricingpb.ListMoviesResponse{
		Movies:        make([]pricingpb.Movie, 0, pageEnd-pageStart),
		NextPageToken: nextPageToken,
	}
	for _, movie := range movies[pageStart:pageEnd] {
		resp.Movies = append(resp.Movies, *toProtoMovie(movie))
	}
	return resp, nil
}

func (s *GRPCServer) QuoteFee(ctx context.Context, req *pricingpb.QuoteFeeRequest) (*pricingpb.Quote, error) {
	request, err := toQuoteRequest(req, "movie_id")
	if err != nil {
		return nil, err
	}

	result, err := s.service.QuoteFee(ctx, request)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return toProtoQuote(result), nil
}

func (s *GRPCServer) QuoteBatch(ctx context.Context, req *pricingpb.QuoteBatchRequest) (*pricingpb.QuoteBatchResponse, error) {
	if len(req.Requests) == 0 {
		return nil, status.Error(codes.InvalidArgument, "requests are required")
	}

	requests := make([]service.QuoteRequest, 0, len(req.Requests))
	for idx := range req.Requests {
		request, err := toQuoteRequest(&req.Requests[idx], "requests["+strconv.Itoa(idx)+"].movie_id")
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}

	results, err := s.service.QuoteBatch(ctx, requests)
	if err != nil {
		return nil, toGRPCError(err)
	}

	resp := &pricingpb.QuoteBatchResponse{Results: make([]pricingpb.Quote, 0, len(results))}
	for _, result := range results {
		resp.Results = append(resp.Results, *toProtoQuote(result))
	}
	return resp, nil
}

// WatchMovies sends every event after LastEventID, then polls for new ones
// until the client goes away.
func (s *GRPCServer) WatchMovies(req *pricingpb.WatchMoviesRequest, stream MovieEventStream) error {
	if req.LastEventID < 0 {
		return status.Error(codes.InvalidArgument, "last_event_id must be non-negative")
	}

	listEventsSince := s.service.ListEventsSince
	if strings.TrimSpace(req.MovieID) != "" {
		movieID, err := parseGRPCMovieID(req.MovieID, "movie_id")
		if err != nil {
			return err
		}
		listEventsSince = func(ctx context.Context, eventID int64) ([]repository.MovieEvent, error) {
			return s.service.ListEventsSinceForMovie(ctx, eventID, movieID)
		}
	}

	lastEventID := req.LastEventID
	sendEvents := func(ctx context.Context) error {
		events, err := listEventsSince(ctx, lastEventID)
		if err != nil {
			return toGRPCError(err)
		}

		for _, event := range events {
			lastEventID = event.EventID
			watchEvent, ok := toWatchMovieEvent(event)
			if !ok {
				continue
			}

			if err := stream.Send(watchEvent); err != nil {
				return err
			}
		}

		return nil
	}

	if err := sendEvents(stream.Context()); err != nil {
		return err
	}

	ticker := time.NewTicker(s.opts.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-ticker.C:
			if err := sendEvents(stream.Context()); err != nil {
				return err
			}
		}
	}
}

func toQuoteRequest(req *pricingpb.QuoteFeeRequest, field string) (service.QuoteRequest, error) {
	movieID, err := parseGRPCMovieID(req.MovieID, field)
	if err != nil {
		return service.QuoteRequest{}, err
	}

	request := service.QuoteRequest{
		MovieID:   movieID,
		Sequence:  int(req.Sequence),
		StartTime: req.StartTime,
	}
	if req.Fee != nil {
		fee := core.NewMoney(*req.Fee)
		request.Fee = &fee
	}
	return request, nil
}

func toProtoMovie(movie service.Movie) *pricingpb.Movie {
	policy := pricingpb.Policy{Type: string(movie.Policy.Type)}
	if movie.Policy.Amount != nil {
		amount := movie.Policy.Amount.Amount()
		policy.Amount = &amount
	}
	if movie.Policy.Fraction != nil {
		policy.Fraction = movie.Policy.Fraction.String()
	}
	for _, c := range movie.Policy.Conditions {
		policy.Conditions = append(policy.Conditions, pricingpb.Condition{
			Type:      string(c.Type),
			Sequence:  int32(c.Sequence),
			DayOfWeek: c.DayOfWeek,
			Start:     c.Start,
			End:       c.End,
		})
	}

	return &pricingpb.Movie{
		ID:                 movie.ID.String(),
		Title:              movie.Title,
		RunningTimeMinutes: int32(movie.RunningTimeMinutes),
		Fee:                movie.Fee.Amount(),
		Policy:             policy,
		CreatedAt:          movie.CreatedAt,
		UpdatedAt:          movie.UpdatedAt,
	}
}

func toProtoQuote(result service.QuoteResult) *pricingpb.Quote {
	return &pricingpb.Quote{
		MovieID:  result.MovieID.String(),
		Title:    result.Title,
		BaseFee:  result.BaseFee.Amount(),
		Discount: result.Discount.Amount(),
		Fee:      result.Fee.Amount(),
	}
}

func parseGRPCMovieID(raw, field string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is not a valid movie id", field)
	}
	return id, nil
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, service.ErrInvalidDefinition),
		errors.Is(err, service.ErrInvalidScreening),
		errors.Is(err, service.ErrEmptyBatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrMovieNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}

func parseListPageToken(pageToken string, maxOffset int) (int, error) {
	pageToken = strings.TrimSpace(pageToken)
	if pageToken == "" {
		return 0, nil
	}

	offset, err := strconv.Atoi(pageToken)
	if err != nil || offset < 0 || offset > maxOffset {
		return 0, errors.New("invalid page token")
	}

	return offset, nil
}

func toWatchMovieEvent(event repository.MovieEvent) (*pricingpb.MovieEvent, bool) {
	eventType := toSSEEventName(event.EventType)
	if eventType == "" {
		return nil, false
	}

	watchEvent := &pricingpb.MovieEvent{
		Type:    eventType,
		MovieID: event.MovieID.String(),
		EventID: event.EventID,
	}

	if len(event.Payload) > 0 {
		var movie service.Movie
		if err := json.Unmarshal(event.Payload, &movie); err == nil && movie.ID != uuid.Nil {
			watchEvent.Movie = toProtoMovie(movie)
		}
	}

	return watchEvent, true
}

type watchMoviesServerStream struct {
	grpc.ServerStream
}

func (s *watchMoviesServerStream) Send(event *pricingpb.MovieEvent) error {
	return s.ServerStream.SendMsg(pricingpb.Marshal(event))
}

// unaryMethod decodes the request into Req, calls the handler and encodes its
// Resp. Interceptors see the protobuf message.
func unaryMethod[Req, Resp any, PReq interface {
	*Req
	pricingpb.Message
}, PResp interface {
	*Resp
	pricingpb.Message
}](name string, call func(*GRPCServer, context.Context, PReq) (PResp, error)) grpc.MethodDesc {
	fullMethod := pricingpb.FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			wire := pricingpb.Empty(in)
			if err := dec(wire); err != nil {
				return nil, err
			}
			if err := pricingpb.Unmarshal(wire, in); err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}

			s := srv.(*GRPCServer)
			handler := func(ctx context.Context, _ any) (any, error) {
				out, err := call(s, ctx, in)
				if err != nil {
					return nil, err
				}
				return pricingpb.Marshal(out), nil
			}
			if interceptor == nil {
				return handler(ctx, wire)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, wire, info, handler)
		},
	}
}

var pricingServiceDesc = grpc.ServiceDesc{
	ServiceName: PricingServiceName,
	HandlerType: (*PricingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetMovie", (*GRPCServer).GetMovie),
		unaryMethod("ListMovies", (*GRPCServer).ListMovies),
		unaryMethod("QuoteFee", (*GRPCServer).QuoteFee),
		unaryMethod("QuoteBatch", (*GRPCServer).QuoteBatch),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "WatchMovies",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(pricingpb.WatchMoviesRequest)
				wire := pricingpb.Empty(in)
				if err := stream.RecvMsg(wire); err != nil {
					return err
				}
				if err := pricingpb.Unmarshal(wire, in); err != nil {
					return status.Error(codes.Internal, err.Error())
				}
				return srv.(*GRPCServer).WatchMovies(in, &watchMoviesServerStream{ServerStream: stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: pricingpb.FileName,
}
