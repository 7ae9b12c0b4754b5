package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.pof.v1.PofEngine"

// Method names of the PofEngine service.
const (
	MethodSimulate    = "Simulate"
	MethodSensitivity = "Sensitivity"
	MethodProgress    = "Progress"
	MethodCancel      = "Cancel"
	MethodReport      = "Report"
	MethodHealth      = "Health"
)

// PofEngineServer is the server API of the PofEngine service. Every message
// is a google.protobuf.Struct carrying the JSON form of the domain request
// and response types.
type PofEngineServer interface {
	Simulate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sensitivity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Progress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Report(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structCall func(PofEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(method string, call structCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PofEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PofEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethod(method string) string { return "/" + ServiceName + "/" + method }

// PofEngineServiceDesc describes the PofEngine service for grpc.Server.
var PofEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PofEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodSimulate, Handler: structHandler(MethodSimulate, PofEngineServer.Simulate)},
		{MethodName: MethodSensitivity, Handler: structHandler(MethodSensitivity, PofEngineServer.Sensitivity)},
		{MethodName: MethodProgress, Handler: structHandler(MethodProgress, PofEngineServer.Progress)},
		{MethodName: MethodCancel, Handler: structHandler(MethodCancel, PofEngineServer.Cancel)},
		{MethodName: MethodReport, Handler: structHandler(MethodReport, PofEngineServer.Report)},
		{MethodName: MethodHealth, Handler: structHandler(MethodHealth, PofEngineServer.Health)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/pof/v1/pof.proto",
}

// RegisterPofEngineServer registers srv on s.
func RegisterPofEngineServer(s grpc.ServiceRegistrar, srv PofEngineServer) {
	s.RegisterService(&PofEngineServiceDesc, srv)
}

// PofEngineClient calls a remote PofEngine service.
type PofEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewPofEngineClient wraps a client connection.
func NewPofEngineClient(cc grpc.ClientConnInterface) *PofEngineClient {
	return &PofEngineClient{cc: cc}
}

// Call invokes method with in and returns the response struct.
func (c *PofEngineClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Do encodes req, invokes method and decodes the response into resp.
func (c *PofEngineClient) Do(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out, err := c.Call(ctx, method, in, opts...)
	if err != nil {
		return err
	}
	return FromStruct(out, resp)
}
