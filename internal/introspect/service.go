package introspect

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// IntrospectServer is the service interface Server implements. Declared by
// hand in the absence of a protoc-gen-go-grpc run.
type IntrospectServer interface {
	ListProcesses(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetProcess(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	StreamOutcomes(*emptypb.Empty, IntrospectStreamOutcomesServer) error
}

// IntrospectStreamOutcomesServer is the server side of the StreamOutcomes
// streaming RPC.
type IntrospectStreamOutcomesServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type introspectStreamOutcomesServer struct {
	grpc.ServerStream
}

func (s *introspectStreamOutcomesServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func _Introspect_ListProcesses_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectServer).ListProcesses(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wasmkernel.introspect.v1.Introspect/ListProcesses"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IntrospectServer).ListProcesses(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Introspect_GetProcess_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectServer).GetProcess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wasmkernel.introspect.v1.Introspect/GetProcess"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IntrospectServer).GetProcess(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _Introspect_StreamOutcomes_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(IntrospectServer).StreamOutcomes(m, &introspectStreamOutcomesServer{stream})
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a service with one streaming and two unary methods.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "wasmkernel.introspect.v1.Introspect",
	HandlerType: (*IntrospectServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListProcesses", Handler: _Introspect_ListProcesses_Handler},
		{MethodName: "GetProcess", Handler: _Introspect_GetProcess_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamOutcomes", Handler: _Introspect_StreamOutcomes_Handler, ServerStreams: true},
	},
	Metadata: "wasmkernel/introspect.proto",
}
