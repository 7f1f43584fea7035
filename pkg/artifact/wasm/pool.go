package wasm

import (
	"context"
	"sync"

	"github.com/ignitionstack/ember/pkg/artifact"
)

// instancePool keeps idle instances of one compiled module. An instance is
// either idle in the pool or owned by exactly one call; instances that failed
// are closed instead of being returned.
type instancePool[T any] struct {
	mu      sync.Mutex
	idle    []T
	max     int
	closed  bool
	create  func(ctx context.Context) (T, error)
	destroy func(ctx context.Context, inst T)
}

func newInstancePool[T any](max int, create func(context.Context) (T, error), destroy func(context.Context, T)) *instancePool[T] {
	if max <= 0 {
		max = 1
	}
	return &instancePool[T]{max: max, create: create, destroy: destroy}
}

func (p *instancePool[T]) get(ctx context.Context) (T, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		var zero T
		return zero, artifact.ErrModuleClosed
	}
	if n := len(p.idle); n > 0 {
		inst := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()
	return p.create(ctx)
}

func (p *instancePool[T]) put(ctx context.Context, inst T) {
	p.mu.Lock()
	if p.closed || len(p.idle) >= p.max {
		p.mu.Unlock()
		p.destroy(ctx, inst)
		return
	}
	p.idle = append(p.idle, inst)
	p.mu.Unlock()
}

func (p *instancePool[T]) discard(ctx context.Context, inst T) {
	p.destroy(ctx, inst)
}

func (p *instancePool[T]) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *instancePool[T]) close(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, inst := range idle {
		p.destroy(ctx, inst)
	}
}
