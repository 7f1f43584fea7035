package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/engine/errors"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCallable answers with behave(request) and counts buffer releases.
type fakeCallable struct {
	behave   func(ctx context.Context, request []byte) []byte
	released atomic.Int32
	closed   atomic.Bool
}

func (m *fakeCallable) Call(ctx context.Context, request []byte) (*artifact.OwnedBuffer, error) {
	out := m.behave(ctx, request)
	if out == nil {
		return nil, artifact.ErrNoOutput
	}
	return artifact.NewOwnedBuffer(out, func() { m.released.Add(1) }), nil
}

func (m *fakeCallable) Close(context.Context) error {
	m.closed.Store(true)
	return nil
}

type moduleLoader struct {
	module artifact.Module
}

func (l moduleLoader) Load(context.Context, artifact.Location) (artifact.Module, error) {
	return l.module, nil
}

var testRef = artifact.Reference{ID: "echo", Version: "v1"}

func echo(_ context.Context, request []byte) []byte {
	return append([]byte(nil), request...)
}

func newInProcess(t *testing.T, module artifact.Module, options InProcessOptions) *InProcess {
	t.Helper()
	b := NewInProcess(moduleLoader{module: module}, logging.NewNopLogger(), options)
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

func TestInProcessEcho(t *testing.T) {
	module := &fakeCallable{behave: echo}
	b := newInProcess(t, module, InProcessOptions{Workers: 2})

	out, err := b.Invoke(context.Background(), components.NewHandle(testRef, artifact.Location{}, module), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), out)
	assert.Equal(t, int32(1), module.released.Load())
	assert.Equal(t, NameInProcess, b.Name())
}

func TestInProcessPanicIsContained(t *testing.T) {
	module := &fakeCallable{behave: func(context.Context, []byte) []byte {
		panic("artifact blew up")
	}}
	b := newInProcess(t, module, InProcessOptions{Workers: 1})
	h := components.NewHandle(testRef, artifact.Location{}, module)

	_, err := b.Invoke(context.Background(), h, []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.DomainExecution, errors.CodeFaulted))

	de, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "artifact blew up", de.Details[DetailPanic])
	assert.NotEmpty(t, de.Details[DetailStack])
	assert.Equal(t, int32(0), module.released.Load())

	// the worker survives the panic
	module.behave = echo
	out, err := b.Invoke(context.Background(), h, []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), out)
}

func TestInProcessNoOutputIsFaulted(t *testing.T) {
	module := &fakeCallable{behave: func(context.Context, []byte) []byte { return nil }}
	b := newInProcess(t, module, InProcessOptions{Workers: 1})

	_, err := b.Invoke(context.Background(), components.NewHandle(testRef, artifact.Location{}, module), nil)
	assert.True(t, errors.Is(err, errors.DomainExecution, errors.CodeFaulted))
	assert.ErrorIs(t, err, artifact.ErrNoOutput)
}

func TestInProcessRejectsNonCallable(t *testing.T) {
	b := newInProcess(t, &fakeCallable{behave: echo}, InProcessOptions{Workers: 1})
	h := components.NewHandle(testRef, artifact.Location{}, &artifact.Executable{})

	_, err := b.Invoke(context.Background(), h, nil)
	assert.True(t, errors.Is(err, errors.DomainExecution, errors.CodeFaulted))
}

func TestInProcessDeadlineRestoresCounter(t *testing.T) {
	module := &fakeCallable{behave: func(ctx context.Context, request []byte) []byte {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return []byte("late")
	}}
	b := newInProcess(t, module, InProcessOptions{Workers: 1, KillGrace: 200 * time.Millisecond})

	cache := components.NewArtifactCache(func(context.Context, artifact.Reference, artifact.Location) (artifact.Module, error) {
		return module, nil
	}, logging.NewNopLogger(), nil, components.CacheOptions{})
	defer cache.Shutdown(context.Background())

	h, err := cache.Acquire(context.Background(), testRef, artifact.Location{Fingerprint: "a"})
	require.NoError(t, err)
	require.Equal(t, int64(1), cache.Refs(h))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = b.Invoke(ctx, h, []byte("x"))
	assert.True(t, errors.Is(err, errors.DomainExecution, errors.CodeTimeout))
	assert.Less(t, time.Since(start), 45*time.Millisecond)

	cache.Release(h)

	// the worker still holds the handle until its call is done
	require.Eventually(t, func() bool {
		return cache.Refs(h) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), module.released.Load())
	assert.Equal(t, 0, cache.Sweep(context.Background(), time.Now()))
}

func TestInProcessDeadlineWithoutKillGraceIsTimeout(t *testing.T) {
	// the call gives up at the same instant as the caller
	module := &fakeCallable{behave: func(ctx context.Context, _ []byte) []byte {
		<-ctx.Done()
		return nil
	}}
	b := newInProcess(t, module, InProcessOptions{Workers: 2})
	h := components.NewHandle(testRef, artifact.Location{Fingerprint: "a"}, module)

	for i := 0; i < 100; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_, err := b.Invoke(ctx, h, []byte("x"))
		cancel()
		require.True(t, errors.Is(err, errors.DomainExecution, errors.CodeTimeout), "attempt %d: %v", i, err)
	}
}

func TestInProcessBoundedWorkers(t *testing.T) {
	var running, peak atomic.Int32
	module := &fakeCallable{behave: func(_ context.Context, request []byte) []byte {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return request
	}}
	b := newInProcess(t, module, InProcessOptions{Workers: 2})
	h := components.NewHandle(testRef, artifact.Location{}, module)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Invoke(context.Background(), h, []byte("x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(10), module.released.Load())
}

func TestInProcessClosedPoolIsExhausted(t *testing.T) {
	module := &fakeCallable{behave: echo}
	b := NewInProcess(moduleLoader{module: module}, logging.NewNopLogger(), InProcessOptions{Workers: 1})
	require.NoError(t, b.Close(context.Background()))

	_, err := b.Invoke(context.Background(), components.NewHandle(testRef, artifact.Location{}, module), nil)
	assert.True(t, errors.Is(err, errors.DomainExecution, errors.CodeExhausted))
}
