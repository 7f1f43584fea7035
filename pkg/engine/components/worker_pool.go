package components

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ignitionstack/ember/pkg/engine/errors"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New(errors.DomainEngine, errors.CodeShutdown, "Worker pool is stopped")

// WorkerPool runs jobs on a fixed set of goroutines, each locked to its own OS
// thread, so that blocking foreign code never runs on a request goroutine.
type WorkerPool struct {
	jobs    chan func()
	stop    chan struct{}
	wg      sync.WaitGroup
	size    int
	busy    atomic.Int64
	stopped atomic.Bool
	once    sync.Once
}

// NewWorkerPool starts size workers.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &WorkerPool{
		jobs: make(chan func()),
		stop: make(chan struct{}),
		size: size,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			p.busy.Add(1)
			job()
			p.busy.Add(-1)
		case <-p.stop:
			return
		}
	}
}

// Submit hands job to an idle worker, waiting for one until ctx is done. The
// returned error is ctx.Err() or ErrPoolStopped; once Submit returns nil the
// job will run to completion.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.stop:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Busy returns the number of workers currently running a job.
func (p *WorkerPool) Busy() int {
	return int(p.busy.Load())
}

// Stop waits for running jobs to finish and stops the workers.
func (p *WorkerPool) Stop() {
	p.once.Do(func() {
		p.stopped.Store(true)
		close(p.stop)
		p.wg.Wait()
	})
}
