package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/chazu/venom/cache"
	"github.com/chazu/venom/vm"
)

var log = commonlog.GetLogger("venom.server")

// Server wraps a VM behind the eval service. It serves Connect
// (HTTP) and gRPC on separate listeners.
type Server struct {
	worker *VMWorker
	eval   *EvalService
	mux    *http.ServeMux
	grpc   *grpc.Server
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cache *cache.Store
}

// WithCache makes the server compile through the given image cache.
func WithCache(store *cache.Store) ServerOption {
	return func(c *serverConfig) { c.cache = store }
}

// New creates a Server wrapping the given VM.
func New(v *vm.VM, opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker(v)
	eval := NewEvalService(worker, cfg.cache)

	s := &Server{
		worker: worker,
		eval:   eval,
		mux:    http.NewServeMux(),
	}

	path, handler := NewConnectHandler(eval)
	s.mux.Handle(path, handler)
	s.grpc, _ = NewGRPCServer(eval)

	return s
}

// Handler returns the HTTP handler serving the Connect endpoints.
func (s *Server) Handler() http.Handler { return s.mux }

// GRPC returns the gRPC server.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Serve listens on httpAddr (Connect) and grpcAddr (gRPC) until ctx is
// done or a listener fails. An empty address disables that listener.
func (s *Server) Serve(ctx context.Context, httpAddr, grpcAddr string) error {
	if httpAddr == "" && grpcAddr == "" {
		return errors.New("no listen address configured")
	}

	errc := make(chan error, 2)
	var httpSrv *http.Server

	if httpAddr != "" {
		lis, err := net.Listen("tcp", httpAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", httpAddr, err)
		}
		httpSrv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
		log.Noticef("Connect (HTTP): http://%s%s", lis.Addr(), EvaluateProcedure)
		go func() {
			if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			if httpSrv != nil {
				httpSrv.Close()
			}
			return fmt.Errorf("listen %s: %w", grpcAddr, err)
		}
		log.Noticef("gRPC: grpc://%s", lis.Addr())
		go func() {
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		httpSrv.Shutdown(shutdownCtx)
	}
	s.grpc.GracefulStop()
	return err
}

// Stop shuts down the server and its VM worker.
func (s *Server) Stop() {
	s.grpc.Stop()
	s.worker.Stop()
}
