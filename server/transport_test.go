package server

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/chazu/venom/vm"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(vm.New())
	t.Cleanup(s.Stop)
	return s
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func TestConnectEvaluate(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	client := NewEvalClient(ts.Client(), ts.URL)
	resp, err := client.Evaluate(bg(), &EvalRequest{Source: "let x = 2.5; print x * 2;", StackDump: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.ExitCode != ExitOK {
		t.Errorf("exit code = %d, want 0", resp.ExitCode)
	}
	if resp.Output != "dbg print :: 5.00\nstack: []\n" {
		t.Errorf("output = %q", resp.Output)
	}
}

func TestConnectCompileError(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := NewEvalClient(ts.Client(), ts.URL).Evaluate(bg(), &EvalRequest{Source: "print ;"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.ExitCode != ExitCompileError || len(resp.Diagnostics) != 1 {
		t.Errorf("resp = %+v, want one compile diagnostic", resp)
	}
}

func TestConnectInvalidArgument(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, err := NewEvalClient(ts.Client(), ts.URL+"/").Evaluate(bg(), &EvalRequest{})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}

func TestConnectErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want connect.Code
	}{
		{ErrEmptySource, connect.CodeInvalidArgument},
		{context.Canceled, connect.CodeCanceled},
		{context.DeadlineExceeded, connect.CodeDeadlineExceeded},
		{ErrWorkerStopped, connect.CodeUnavailable},
		{errors.New("disk full"), connect.CodeInternal},
	}
	for _, tt := range tests {
		if got := connect.CodeOf(connectError(tt.err)); got != tt.want {
			t.Errorf("connectError(%v) code = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// gRPC over bufconn
// ---------------------------------------------------------------------------

func dialBufconn(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go s.GRPC().Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCEvaluate(t *testing.T) {
	s := newTestServer(t)
	conn := dialBufconn(t, s)

	ctx, cancel := context.WithTimeout(bg(), 5*time.Second)
	defer cancel()

	client := NewGRPCEvalClient(conn)
	resp, err := client.Evaluate(ctx, &EvalRequest{Source: "fn main() { let x = -100; print x; x = 5; print x; }\nmain();"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Output != "dbg print :: -100.00\ndbg print :: 5.00\n" {
		t.Errorf("output = %q", resp.Output)
	}
	if resp.RunID == "" {
		t.Error("missing run id")
	}
}

func TestGRPCRuntimeError(t *testing.T) {
	s := newTestServer(t)
	conn := dialBufconn(t, s)

	resp, err := NewGRPCEvalClient(conn).Evaluate(bg(), &EvalRequest{Source: "print nil;"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.ExitCode != ExitRuntimeError || resp.Error == "" {
		t.Errorf("resp = %+v, want runtime error", resp)
	}
}

func TestGRPCInvalidArgument(t *testing.T) {
	s := newTestServer(t)
	conn := dialBufconn(t, s)

	_, err := NewGRPCEvalClient(conn).Evaluate(bg(), &EvalRequest{Source: ""})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}

func TestGRPCHealth(t *testing.T) {
	s := newTestServer(t)
	conn := dialBufconn(t, s)

	resp, err := healthpb.NewHealthClient(conn).Check(bg(), &healthpb.HealthCheckRequest{Service: EvalServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
}

func TestGRPCInterceptorSeesMethod(t *testing.T) {
	var seen string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return handler(ctx, req)
	}

	w := NewVMWorker(vm.New())
	defer w.Stop()
	gs, _ := NewGRPCServer(NewEvalService(w, nil), grpc.UnaryInterceptor(interceptor))
	defer gs.Stop()

	lis := bufconn.Listen(1 << 20)
	go gs.Serve(lis)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := NewGRPCEvalClient(conn).Evaluate(bg(), &EvalRequest{Source: "print 1;"}); err != nil {
		t.Fatal(err)
	}
	if seen != EvaluateProcedure {
		t.Errorf("interceptor saw %q, want %q", seen, EvaluateProcedure)
	}
}

// ---------------------------------------------------------------------------
// Serve
// ---------------------------------------------------------------------------

func TestServeRequiresAddress(t *testing.T) {
	s := newTestServer(t)
	if err := s.Serve(bg(), "", ""); err == nil {
		t.Error("Serve with no addresses should fail")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(bg())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0", "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
