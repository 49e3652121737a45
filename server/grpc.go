package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// EvalServer is the gRPC service interface for Evaluate.
type EvalServer interface {
	Evaluate(context.Context, *EvalRequest) (*EvalResponse, error)
}

var evalServiceDesc = grpc.ServiceDesc{
	ServiceName: EvalServiceName,
	HandlerType: (*EvalServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Evaluate",
			Handler:    evaluateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "venom/v1/eval",
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EvalRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvalServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: EvaluateProcedure,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvalServer).Evaluate(ctx, req.(*EvalRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterEvalServer registers srv on s.
func RegisterEvalServer(s grpc.ServiceRegistrar, srv EvalServer) {
	s.RegisterService(&evalServiceDesc, srv)
}

// grpcEvalServer adapts EvalService errors to gRPC status codes.
type grpcEvalServer struct {
	svc *EvalService
}

func (g grpcEvalServer) Evaluate(ctx context.Context, req *EvalRequest) (*EvalResponse, error) {
	resp, err := g.svc.Evaluate(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, ErrEmptySource):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrWorkerStopped):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// NewGRPCServer creates a gRPC server exposing svc and the standard health
// service.
func NewGRPCServer(svc *EvalService, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(opts...)
	RegisterEvalServer(gs, grpcEvalServer{svc: svc})

	hs := health.NewServer()
	hs.SetServingStatus(EvalServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

// GRPCEvalClient calls Evaluate over gRPC with the CBOR codec.
type GRPCEvalClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCEvalClient wraps an existing connection.
func NewGRPCEvalClient(cc grpc.ClientConnInterface) *GRPCEvalClient {
	return &GRPCEvalClient{cc: cc}
}

// Evaluate runs req remotely.
func (c *GRPCEvalClient) Evaluate(ctx context.Context, req *EvalRequest, opts ...grpc.CallOption) (*EvalResponse, error) {
	out := new(EvalResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, EvaluateProcedure, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
