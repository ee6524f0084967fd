// Package pricingpb carries the marquee.v1 protobuf schema (pricing.proto)
// and Go message types that encode to it. Messages travel on grpc's default
// proto codec as dynamicpb messages built from File.
package pricingpb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/timestamppb" // registers google/protobuf/timestamp.proto
	_ "google.golang.org/protobuf/types/known/wrapperspb"  // registers google/protobuf/wrappers.proto
)

const (
	FileName    = "marquee/v1/pricing.proto"
	Package     = "marquee.v1"
	ServiceName = Package + ".PricingService"
)

// File is the resolved descriptor of pricing.proto. It is registered in
// protoregistry.GlobalFiles so server reflection can serve it.
var File protoreflect.FileDescriptor

func init() {
	fd, err := protodesc.NewFile(fileDescriptorProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("pricingpb: build %s: %v", FileName, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("pricingpb: register %s: %v", FileName, err))
	}
	File = fd
}

// FullMethod returns the gRPC method path, e.g. "/marquee.v1.PricingService/QuoteFee".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

const (
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	timestampType  = ".google.protobuf.Timestamp"
	int64ValueType = ".google.protobuf.Int64Value"
)

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func embedded(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, number, typeMessage)
	f.TypeName = proto.String(typeName)
	return f
}

func repeated(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := embedded(name, number, typeName)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func local(message string) string {
	return "." + Package + "." + message
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func method(name, input, output string, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
	m := &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(local(input)),
		OutputType: proto.String(local(output)),
	}
	if serverStreaming {
		m.ServerStreaming = proto.Bool(true)
	}
	return m
}

// fileDescriptorProto mirrors pricing.proto.
func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(FileName),
		Package:    proto.String(Package),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto", "google/protobuf/wrappers.proto"},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/matt-riley/marquee/api/proto/v1;pricingpb"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			message("Condition",
				scalar("type", 1, typeString),
				scalar("sequence", 2, typeInt32),
				scalar("day_of_week", 3, typeString),
				scalar("start", 4, typeString),
				scalar("end", 5, typeString),
			),
			message("Policy",
				scalar("type", 1, typeString),
				embedded("amount", 2, int64ValueType),
				scalar("fraction", 3, typeString),
				repeated("conditions", 4, local("Condition")),
			),
			message("Movie",
				scalar("id", 1, typeString),
				scalar("title", 2, typeString),
				scalar("running_time_minutes", 3, typeInt32),
				scalar("fee", 4, typeInt64),
				embedded("policy", 5, local("Policy")),
				embedded("created_at", 6, timestampType),
				embedded("updated_at", 7, timestampType),
			),
			message("GetMovieRequest",
				scalar("id", 1, typeString),
			),
			message("ListMoviesRequest",
				scalar("page_size", 1, typeInt32),
				scalar("page_token", 2, typeString),
			),
			message("ListMoviesResponse",
				repeated("movies", 1, local("Movie")),
				scalar("next_page_token", 2, typeString),
			),
			message("QuoteFeeRequest",
				scalar("movie_id", 1, typeString),
				scalar("sequence", 2, typeInt32),
				embedded("start_time", 3, timestampType),
				embedded("fee", 4, int64ValueType),
			),
			message("Quote",
				scalar("movie_id", 1, typeString),
				scalar("title", 2, typeString),
				scalar("base_fee", 3, typeInt64),
				scalar("discount", 4, typeInt64),
				scalar("fee", 5, typeInt64),
			),
			message("QuoteBatchRequest",
				repeated("requests", 1, local("QuoteFeeRequest")),
			),
			message("QuoteBatchResponse",
				repeated("results", 1, local("Quote")),
			),
			message("WatchMoviesRequest",
				scalar("movie_id", 1, typeString),
				scalar("last_event_id", 2, typeInt64),
			),
			message("MovieEvent",
				scalar("type", 1, typeString),
				scalar("movie_id", 2, typeString),
				scalar("event_id", 3, typeInt64),
				embedded("movie", 4, local("Movie")),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("PricingService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("GetMovie", "GetMovieRequest", "Movie", false),
				method("ListMovies", "ListMoviesRequest", "ListMoviesResponse", false),
				method("QuoteFee", "QuoteFeeRequest", "Quote", false),
				method("QuoteBatch", "QuoteBatchRequest", "QuoteBatchResponse", false),
				method("WatchMovies", "WatchMoviesRequest", "MovieEvent", true),
			},
		}},
	}
}
