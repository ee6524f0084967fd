package pricingpb

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Message is implemented by the top-level request and response types of
// PricingService.
type Message interface {
	messageName() protoreflect.Name
	writeTo(m protoreflect.Message)
	readFrom(m protoreflect.Message)
}

// Marshal returns msg as a protobuf message for grpc's proto codec.
func Marshal(msg Message) proto.Message {
	m := dynamicpb.NewMessage(descriptorOf(msg))
	msg.writeTo(m)
	return m
}

// Empty returns a protobuf message of msg's type for a call to decode into.
// Pass the result to Unmarshal afterwards.
func Empty(msg Message) proto.Message {
	return dynamicpb.NewMessage(descriptorOf(msg))
}

// Unmarshal copies src into dst. src must have dst's message type.
func Unmarshal(src proto.Message, dst Message) error {
	m := src.ProtoReflect()
	if got, want := m.Descriptor().FullName(), descriptorOf(dst).FullName(); got != want {
		return fmt.Errorf("pricingpb: unmarshal %s into %s", got, want)
	}
	dst.readFrom(m)
	return nil
}

func descriptorOf(msg Message) protoreflect.MessageDescriptor {
	return File.Messages().ByName(msg.messageName())
}

type Condition struct {
	Type      string
	Sequence  int32
	DayOfWeek string
	Start     string
	End       string
}

func (c Condition) writeTo(m protoreflect.Message) {
	setString(m, "type", c.Type)
	setInt32(m, "sequence", c.Sequence)
	setString(m, "day_of_week", c.DayOfWeek)
	setString(m, "start", c.Start)
	setString(m, "end", c.End)
}

func readCondition(m protoreflect.Message) Condition {
	return Condition{
		Type:      getString(m, "type"),
		Sequence:  int32(getInt(m, "sequence")),
		DayOfWeek: getString(m, "day_of_week"),
		Start:     getString(m, "start"),
		End:       getString(m, "end"),
	}
}

// Policy is a movie's discount policy. Amount is set for amount policies and
// Fraction for percent policies.
type Policy struct {
	Type       string
	Amount     *int64
	Fraction   string
	Conditions []Condition
}

func (p Policy) writeTo(m protoreflect.Message) {
	setString(m, "type", p.Type)
	setInt64Value(m, "amount", p.Amount)
	setString(m, "fraction", p.Fraction)
	if len(p.Conditions) > 0 {
		list := m.Mutable(field(m, "conditions")).List()
		for _, c := range p.Conditions {
			el := list.NewElement()
			c.writeTo(el.Message())
			list.Append(el)
		}
	}
}

func readPolicy(m protoreflect.Message) Policy {
	p := Policy{
		Type:     getString(m, "type"),
		Amount:   getInt64Value(m, "amount"),
		Fraction: getString(m, "fraction"),
	}
	list := m.Get(field(m, "conditions")).List()
	for i := 0; i < list.Len(); i++ {
		p.Conditions = append(p.Conditions, readCondition(list.Get(i).Message()))
	}
	return p
}

type Movie struct {
	ID                 string
	Title              string
	RunningTimeMinutes int32
	Fee                int64
	Policy             Policy
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (*Movie) messageName() protoreflect.Name { return "Movie" }

func (mv *Movie) writeTo(m protoreflect.Message) {
	setString(m, "id", mv.ID)
	setString(m, "title", mv.Title)
	setInt32(m, "running_time_minutes", mv.RunningTimeMinutes)
	setInt64(m, "fee", mv.Fee)
	mv.Policy.writeTo(m.Mutable(field(m, "policy")).Message())
	setTimestamp(m, "created_at", mv.CreatedAt)
	setTimestamp(m, "updated_at", mv.UpdatedAt)
}

func (mv *Movie) readFrom(m protoreflect.Message) {
	*mv = Movie{
		ID:                 getString(m, "id"),
		Title:              getString(m, "title"),
		RunningTimeMinutes: int32(getInt(m, "running_time_minutes")),
		Fee:                getInt(m, "fee"),
		Policy:             readPolicy(m.Get(field(m, "policy")).Message()),
		CreatedAt:          getTimestamp(m, "created_at"),
		UpdatedAt:          getTimestamp(m, "updated_at"),
	}
}

type GetMovieRequest struct {
	ID string
}

func (*GetMovieRequest) messageName() protoreflect.Name { return "GetMovieRequest" }

func (r *GetMovieRequest) writeTo(m protoreflect.Message) {
	setString(m, "id", r.ID)
}

func (r *GetMovieRequest) readFrom(m protoreflect.Message) {
	*r = GetMovieRequest{ID: getString(m, "id")}
}

type ListMoviesRequest struct {
	PageSize  int32
	PageToken string
}

func (*ListMoviesRequest) messageName() protoreflect.Name { return "ListMoviesRequest" }

func (r *ListMoviesRequest) writeTo(m protoreflect.Message) {
	setInt32(m, "page_size", r.PageSize)
	setString(m, "page_token", r.PageToken)
}

func (r *ListMoviesRequest) readFrom(m protoreflect.Message) {
	*r = ListMoviesRequest{
		PageSize:  int32(getInt(m, "page_size")),
		PageToken: getString(m, "page_token"),
	}
}

type ListMoviesResponse struct {
	Movies        []Movie
	NextPageToken string
}

func (*ListMoviesResponse) messageName() protoreflect.Name { return "ListMoviesResponse" }

func (r *ListMoviesResponse) writeTo(m protoreflect.Message) {
	if len(r.Movies) > 0 {
		list := m.Mutable(field(m, "movies")).List()
		for i := range r.Movies {
			el := list.NewElement()
			r.Movies[i].writeTo(el.Message())
			list.Append(el)
		}
	}
	setString(m, "next_page_token", r.NextPageToken)
}

func (r *ListMoviesResponse) readFrom(m protoreflect.Message) {
	*r = ListMoviesResponse{NextPageToken: getString(m, "next_page_token")}
	list := m.Get(field(m, "movies")).List()
	for i := 0; i < list.Len(); i++ {
		var movie Movie
		movie.readFrom(list.Get(i).Message())
		r.Movies = append(r.Movies, movie)
	}
}

// QuoteFeeRequest prices one screening. A nil Fee charges the movie's own fee.
type QuoteFeeRequest struct {
	MovieID   string
	Sequence  int32
	StartTime time.Time
	Fee       *int64
}

func (*QuoteFeeRequest) messageName() protoreflect.Name { return "QuoteFeeRequest" }

func (r *QuoteFeeRequest) writeTo(m protoreflect.Message) {
	setString(m, "movie_id", r.MovieID)
	setInt32(m, "sequence", r.Sequence)
	setTimestamp(m, "start_time", r.StartTime)
	setInt64Value(m, "fee", r.Fee)
}

func (r *QuoteFeeRequest) readFrom(m protoreflect.Message) {
	*r = QuoteFeeRequest{
		MovieID:   getString(m, "movie_id"),
		Sequence:  int32(getInt(m, "sequence")),
		StartTime: getTimestamp(m, "start_time"),
		Fee:       getInt64Value(m, "fee"),
	}
}

type Quote struct {
	MovieID  string
	Title    string
	BaseFee  int64
	Discount int64
	Fee      int64
}

func (*Quote) messageName() protoreflect.Name { return "Quote" }

func (q *Quote) writeTo(m protoreflect.Message) {
	setString(m, "movie_id", q.MovieID)
	setString(m, "title", q.Title)
	setInt64(m, "base_fee", q.BaseFee)
	setInt64(m, "discount", q.Discount)
	setInt64(m, "fee", q.Fee)
}

func (q *Quote) readFrom(m protoreflect.Message) {
	*q = Quote{
		MovieID:  getString(m, "movie_id"),
		Title:    getString(m, "title"),
		BaseFee:  getInt(m, "base_fee"),
		Discount: getInt(m, "discount"),
		Fee:      getInt(m, "fee"),
	}
}

type QuoteBatchRequest struct {
	Requests []QuoteFeeRequest
}

func (*QuoteBatchRequest) messageName() protoreflect.Name { return "QuoteBatchRequest" }

func (r *QuoteBatchRequest) writeTo(m protoreflect.Message) {
	if len(r.Requests) == 0 {
		return
	}
	list := m.Mutable(field(m, "requests")).List()
	for i := range r.Requests {
		el := list.NewElement()
		r.Requests[i].writeTo(el.Message())
		list.Append(el)
	}
}

func (r *QuoteBatchRequest) readFrom(m protoreflect.Message) {
	*r = QuoteBatchRequest{}
	list := m.Get(field(m, "requests")).List()
	for i := 0; i < list.Len(); i++ {
		var req QuoteFeeRequest
		req.readFrom(list.Get(i).Message())
		r.Requests = append(r.Requests, req)
	}
}

type QuoteBatchResponse struct {
	Results []Quote
}

func (*QuoteBatchResponse) messageName() protoreflect.Name { return "QuoteBatchResponse" }

func (r *QuoteBatchResponse) writeTo(m protoreflect.Message) {
	if len(r.Results) == 0 {
		return
	}
	list := m.Mutable(field(m, "results")).List()
	for i := range r.Results {
		el := list.NewElement()
		r.Results[i].writeTo(el.Message())
		list.Append(el)
	}
}

func (r *QuoteBatchResponse) readFrom(m protoreflect.Message) {
	*r = QuoteBatchResponse{}
	list := m.Get(field(m, "results")).List()
	for i := 0; i < list.Len(); i++ {
		var q Quote
		q.readFrom(list.Get(i).Message())
		r.Results = append(r.Results, q)
	}
}

type WatchMoviesRequest struct {
	MovieID     string
	LastEventID int64
}

func (*WatchMoviesRequest) messageName() protoreflect.Name { return "WatchMoviesRequest" }

func (r *WatchMoviesRequest) writeTo(m protoreflect.Message) {
	setString(m, "movie_id", r.MovieID)
	setInt64(m, "last_event_id", r.LastEventID)
}

func (r *WatchMoviesRequest) readFrom(m protoreflect.Message) {
	*r = WatchMoviesRequest{
		MovieID:     getString(m, "movie_id"),
		LastEventID: getInt(m, "last_event_id"),
	}
}

// MovieEvent is one change notification. Movie is nil when the event carries
// no movie, as for most deletions.
type MovieEvent struct {
	Type    string
	MovieID string
	EventID int64
	Movie   *Movie
}

func (*MovieEvent) messageName() protoreflect.Name { return "MovieEvent" }

func (e *MovieEvent) writeTo(m protoreflect.Message) {
	setString(m, "type", e.Type)
	setString(m, "movie_id", e.MovieID)
	setInt64(m, "event_id", e.EventID)
	if e.Movie != nil {
		e.Movie.writeTo(m.Mutable(field(m, "movie")).Message())
	}
}

func (e *MovieEvent) readFrom(m protoreflect.Message) {
	*e = MovieEvent{
		Type:    getString(m, "type"),
		MovieID: getString(m, "movie_id"),
		EventID: getInt(m, "event_id"),
	}
	if fd := field(m, "movie"); m.Has(fd) {
		var movie Movie
		movie.readFrom(m.Get(fd).Message())
		e.Movie = &movie
	}
}

func field(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("pricingpb: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	if v != "" {
		m.Set(field(m, name), protoreflect.ValueOfString(v))
	}
}

func setInt32(m protoreflect.Message, name protoreflect.Name, v int32) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfInt32(v))
	}
}

func setInt64(m protoreflect.Message, name protoreflect.Name, v int64) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfInt64(v))
	}
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(field(m, name)).String()
}

// getInt reads an int32 or int64 field.
func getInt(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(field(m, name)).Int()
}

// setInt64Value writes a google.protobuf.Int64Value. A set wrapper holding
// zero stays distinguishable from an unset one.
func setInt64Value(m protoreflect.Message, name protoreflect.Name, v *int64) {
	if v == nil {
		return
	}
	wrapper := m.Mutable(field(m, name)).Message()
	wrapper.Set(field(wrapper, "value"), protoreflect.ValueOfInt64(*v))
}

func getInt64Value(m protoreflect.Message, name protoreflect.Name) *int64 {
	fd := field(m, name)
	if !m.Has(fd) {
		return nil
	}
	v := getInt(m.Get(fd).Message(), "value")
	return &v
}

func setTimestamp(m protoreflect.Message, name protoreflect.Name, t time.Time) {
	if t.IsZero() {
		return
	}
	ts := m.Mutable(field(m, name)).Message()
	ts.Set(field(ts, "seconds"), protoreflect.ValueOfInt64(t.Unix()))
	if nanos := t.Nanosecond(); nanos != 0 {
		ts.Set(field(ts, "nanos"), protoreflect.ValueOfInt32(int32(nanos)))
	}
}

func getTimestamp(m protoreflect.Message, name protoreflect.Name) time.Time {
	fd := field(m, name)
	if !m.Has(fd) {
		return time.Time{}
	}
	ts := m.Get(fd).Message()
	return time.Unix(getInt(ts, "seconds"), getInt(ts, "nanos")).UTC()
}
