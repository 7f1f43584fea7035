package backend

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/engine/logging"
)

// NameInProcess identifies the in-process backend
const NameInProcess = "inprocess"

type InProcessOptions struct {
	// Size of the dedicated worker pool
	Workers int
	// How far past the deadline a call may run before it is interrupted
	KillGrace time.Duration
}

// InProcess runs artifacts inside the host on a bounded pool of dedicated
// workers. Every call sits behind a fault barrier; the output buffer is
// copied and released by the worker, whether or not the caller is still
// waiting for it.
type InProcess struct {
	loader    artifact.Loader
	pool      *components.WorkerPool
	killGrace time.Duration
	logger    logging.Logger
}

type callResult struct {
	output []byte
	err    error
}

// panicError carries a recovered panic out of the fault barrier.
type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func NewInProcess(loader artifact.Loader, logger logging.Logger, options InProcessOptions) *InProcess {
	return &InProcess{
		loader:    loader,
		pool:      components.NewWorkerPool(options.Workers),
		killGrace: options.KillGrace,
		logger:    logger,
	}
}

func (b *InProcess) Name() string {
	return NameInProcess
}

func (b *InProcess) Load(ctx context.Context, _ artifact.Reference, loc artifact.Location) (artifact.Module, error) {
	return b.loader.Load(ctx, loc)
}

// Invoke runs the call on a worker and waits for it or the deadline. The
// worker holds its own reference on h until the call has finished and the
// output has been released.
func (b *InProcess) Invoke(ctx context.Context, h *components.Handle, request []byte) ([]byte, error) {
	callable, ok := h.Module().(artifact.Callable)
	if !ok {
		return nil, faulted(h, "Module cannot be called in-process", nil, nil)
	}

	callCtx, cancel := b.callContext(ctx)
	done := make(chan callResult, 1)

	h.Retain()
	job := func() {
		defer h.Release()
		defer cancel()

		start := time.Now()
		output, err := b.call(callCtx, callable, request)
		if ctx.Err() != nil {
			b.logger.Debugf("Late result for %s discarded after %s (err: %v)", h.Ref(), time.Since(start), err)
		}
		done <- callResult{output: output, err: err}
	}

	if err := b.pool.Submit(ctx, job); err != nil {
		cancel()
		h.Release()
		if ctx.Err() != nil {
			return nil, timedOut(h, ctx.Err())
		}
		return nil, exhausted(h, "No worker available", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			// with no kill grace the call fails at the caller's deadline
			if ctx.Err() != nil {
				return nil, timedOut(h, ctx.Err())
			}
			return nil, b.fault(h, res.err)
		}
		return res.output, nil
	case <-ctx.Done():
		return nil, timedOut(h, ctx.Err())
	}
}

// callContext detaches the call from the caller's cancellation and gives it
// the caller's deadline plus the kill grace.
func (b *InProcess) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline.Add(b.killGrace))
	}
	return context.WithCancel(detached)
}

// call is the fault barrier. A failed call releases nothing; the module
// discards the instance that failed.
func (b *InProcess) call(ctx context.Context, callable artifact.Callable, request []byte) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	buf, err := callable.Call(ctx, request)
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, artifact.ErrNoOutput
	}
	return buf.CopyAndRelease(), nil
}

func (b *InProcess) fault(h *components.Handle, err error) error {
	if pe, ok := err.(*panicError); ok {
		return faulted(h, "Artifact panicked", err, map[string]interface{}{
			DetailPanic: fmt.Sprint(pe.value),
			DetailStack: string(pe.stack),
		})
	}
	return faulted(h, "Artifact call failed", err, nil)
}

// Workers exposes the worker pool for metrics.
func (b *InProcess) Workers() *components.WorkerPool {
	return b.pool
}

func (b *InProcess) Close(ctx context.Context) error {
	b.pool.Stop()
	if closer, ok := b.loader.(interface{ Close(context.Context) error }); ok {
		return closer.Close(ctx)
	}
	return nil
}
