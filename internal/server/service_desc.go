package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// controlServiceServer is the interface grpc.RegisterService checks the
// registered implementation against. Declared here by hand, in place of a
// protoc-generated counterpart, because both RPCs trade in protobuf
// well-known types directly — a .proto for this service would describe
// nothing beyond what's already expressed below.
type controlServiceServer interface {
	SetSystemState(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var _ controlServiceServer = (*ControlPlane)(nil)

func controlServiceSetSystemStateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(controlServiceServer).SetSystemState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/SetSystemState",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(controlServiceServer).SetSystemState(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func controlServiceGetStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(controlServiceServer).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/GetStats",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(controlServiceServer).GetStats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// controlServiceDesc is the hand-declared equivalent of what
// protoc-gen-go-grpc would emit for a two-method unary service.
var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*controlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetSystemState", Handler: controlServiceSetSystemStateHandler},
		{MethodName: "GetStats", Handler: controlServiceGetStatsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cascade_vad_control.proto",
}
