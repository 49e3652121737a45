package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chazu/venom/cache"
	"github.com/chazu/venom/compiler"
	"github.com/chazu/venom/vm"
)

// Process exit codes shared by the CLI and the eval service.
const (
	ExitOK           = 0
	ExitUsage        = 2
	ExitCompileError = 65
	ExitRuntimeError = 70
	ExitIOError      = 74
)

// ErrEmptySource is returned when a request carries no source text.
var ErrEmptySource = errors.New("source is required")

// EvalRequest asks the service to compile and run a program.
type EvalRequest struct {
	Source    string `cbor:"source" json:"source"`
	StackDump bool   `cbor:"stack_dump,omitempty" json:"stack_dump,omitempty"`
}

// Diagnostic is one compile error.
type Diagnostic struct {
	Line    int    `cbor:"line" json:"line"`
	Column  int    `cbor:"column" json:"column"`
	Message string `cbor:"message" json:"message"`
}

// EvalResponse reports the outcome of one run. Output holds everything the
// program printed, including output written before a runtime error.
type EvalResponse struct {
	RunID       string       `cbor:"run_id" json:"run_id"`
	Output      string       `cbor:"output" json:"output"`
	ExitCode    int          `cbor:"exit_code" json:"exit_code"`
	Diagnostics []Diagnostic `cbor:"diagnostics,omitempty" json:"diagnostics,omitempty"`
	Error       string       `cbor:"error,omitempty" json:"error,omitempty"`
	Trace       []string     `cbor:"trace,omitempty" json:"trace,omitempty"`
}

// EvalService compiles requests and executes them on a shared VM worker.
type EvalService struct {
	worker *VMWorker
	cache  *cache.Store
}

// NewEvalService creates an EvalService. store may be nil.
func NewEvalService(worker *VMWorker, store *cache.Store) *EvalService {
	return &EvalService{
		worker: worker,
		cache:  store,
	}
}

// Evaluate compiles and runs req.Source. Compile and runtime errors are
// reported in the response; the returned error covers invalid requests and
// infrastructure failures only.
func (s *EvalService) Evaluate(ctx context.Context, req *EvalRequest) (*EvalResponse, error) {
	if req == nil || strings.TrimSpace(req.Source) == "" {
		return nil, ErrEmptySource
	}

	resp := &EvalResponse{RunID: uuid.NewString()}

	prog, err := s.compile(ctx, req.Source)
	if err != nil {
		list, ok := compiler.AsErrorList(err)
		if !ok {
			return nil, err
		}
		resp.ExitCode = ExitCompileError
		resp.Error = list.Error()
		for _, e := range list {
			resp.Diagnostics = append(resp.Diagnostics, Diagnostic{
				Line:    e.Line,
				Column:  e.Column,
				Message: e.Message,
			})
		}
		log.Infof("run %s: %d compile errors", resp.RunID, len(list))
		return resp, nil
	}

	var out bytes.Buffer
	err = s.run(ctx, prog, &out, req.StackDump)

	var re *vm.RuntimeError
	switch {
	case err == nil:
		resp.ExitCode = ExitOK
	case errors.As(err, &re):
		resp.ExitCode = ExitRuntimeError
		resp.Error = re.Error()
		for _, entry := range re.Trace {
			resp.Trace = append(resp.Trace, entry.String())
		}
	default:
		return nil, err
	}
	resp.Output = out.String()

	log.Infof("run %s: exit %d", resp.RunID, resp.ExitCode)
	return resp, nil
}

// errRunAbandoned is returned to the worker when the caller stopped waiting
// before the run started.
var errRunAbandoned = errors.New("run abandoned before start")

// run executes prog on the worker and releases it exactly once. The worker
// owns the program if it starts the run; otherwise run releases it here,
// and a request left in the queue is skipped when it is dequeued.
func (s *EvalService) run(ctx context.Context, prog *vm.Program, out io.Writer, stackDump bool) error {
	var claimed atomic.Bool
	defer func() {
		if claimed.CompareAndSwap(false, true) {
			prog.Release()
		}
	}()
	_, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		if !claimed.CompareAndSwap(false, true) {
			return nil, errRunAbandoned
		}
		defer prog.Release()
		v.Configure(vm.WithOutput(out), vm.WithStackDump(stackDump))
		return nil, v.Run(prog)
	})
	return err
}

func (s *EvalService) compile(ctx context.Context, source string) (*vm.Program, error) {
	if s.cache != nil {
		return s.cache.Compile(ctx, source)
	}
	return compiler.Compile(source)
}
