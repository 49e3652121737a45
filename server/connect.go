package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const (
	// EvalServiceName is the fully qualified service name used by both
	// the Connect and gRPC transports.
	EvalServiceName = "venom.v1.EvalService"

	// EvaluateProcedure is the Evaluate method path.
	EvaluateProcedure = "/" + EvalServiceName + "/Evaluate"
)

// NewConnectHandler returns the mount path and HTTP handler serving
// Evaluate over the Connect protocol.
func NewConnectHandler(svc *EvalService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)
	handler := connect.NewUnaryHandler(
		EvaluateProcedure,
		func(ctx context.Context, req *connect.Request[EvalRequest]) (*connect.Response[EvalResponse], error) {
			resp, err := svc.Evaluate(ctx, req.Msg)
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(resp), nil
		},
		opts...,
	)
	return EvaluateProcedure, handler
}

func connectError(err error) error {
	switch {
	case errors.Is(err, ErrEmptySource):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// EvalClient calls a remote eval service over Connect.
type EvalClient struct {
	client *connect.Client[EvalRequest, EvalResponse]
}

// NewEvalClient creates a client for the service at baseURL
// (e.g. "http://127.0.0.1:7380").
func NewEvalClient(httpClient connect.HTTPClient, baseURL string) *EvalClient {
	return &EvalClient{
		client: connect.NewClient[EvalRequest, EvalResponse](
			httpClient,
			strings.TrimRight(baseURL, "/")+EvaluateProcedure,
			connect.WithCodec(cborCodec{}),
		),
	}
}

// Evaluate runs req remotely.
func (c *EvalClient) Evaluate(ctx context.Context, req *EvalRequest) (*EvalResponse, error) {
	resp, err := c.client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
