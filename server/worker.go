package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/venom/vm"
)

// ErrWorkerStopped is returned by Do once the worker has been stopped.
var ErrWorkerStopped = errors.New("vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.VM) (any, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes all VM access through a single goroutine.
// A VM is single-threaded; every handler must go through the worker.
type VMWorker struct {
	vm       *vm.VM
	requests chan vmRequest
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:       v,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			w.vm.Close()
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics.
func (w *VMWorker) execute(fn func(*vm.VM) (any, error)) (result vmResult) {
	defer func() {
		if r := recover(); r != nil {
			result = vmResult{err: fmt.Errorf("vm worker: %v", r)}
		}
	}()
	value, err := fn(w.vm)
	return vmResult{value: value, err: err}
}

// Do submits a function for execution on the VM goroutine and blocks until
// it completes or ctx is done. A request abandoned by its caller still runs
// to completion on the worker.
func (w *VMWorker) Do(ctx context.Context, fn func(*vm.VM) (any, error)) (any, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.stopped:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutine and waits for it to exit.
// It is safe to call more than once.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.stopped
}
