package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/backend"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/engine/errors"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/ignitionstack/ember/pkg/engine/metrics"
	"github.com/ignitionstack/ember/pkg/registry"
	"github.com/ignitionstack/ember/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModule decodes the request and answers with handle's output.
type scriptedModule struct {
	handle   func(ctx context.Context, req *wire.Request) []byte
	released *atomic.Int32
}

func (m *scriptedModule) Call(ctx context.Context, request []byte) (*artifact.OwnedBuffer, error) {
	req, err := wire.DecodeRequest(request)
	if err != nil {
		return nil, err
	}
	out := m.handle(ctx, req)
	if out == nil {
		return nil, artifact.ErrNoOutput
	}
	return artifact.NewOwnedBuffer(out, func() { m.released.Add(1) }), nil
}

func (m *scriptedModule) Close(context.Context) error { return nil }

func echoHandler(_ context.Context, req *wire.Request) []byte {
	return wire.EncodeResponse(&wire.Response{Status: 200, Body: req.Body})
}

type invokerFixture struct {
	invoker  *Invoker
	resolver *registry.StaticResolver
	cache    *components.ArtifactCache
	breakers *components.CircuitBreakerManager
	metrics  *metrics.Collector
	logStore *logging.FunctionLogStore
	loads    atomic.Int32
	released atomic.Int32
}

var echoRef = artifact.Reference{ID: "echo", Version: "v1"}

func newInvokerFixture(t *testing.T, handle func(context.Context, *wire.Request) []byte) *invokerFixture {
	t.Helper()
	f := &invokerFixture{
		resolver: registry.NewStaticResolver(),
		breakers: components.NewCircuitBreakerManager(3, time.Minute),
		logStore: logging.NewFunctionLogStore(50),
	}
	logger := logging.NewNopLogger()
	f.metrics = metrics.NewCollector(logger)

	loader := artifact.LoaderFunc(func(context.Context, artifact.Location) (artifact.Module, error) {
		f.loads.Add(1)
		return &scriptedModule{handle: handle, released: &f.released}, nil
	})
	b := backend.NewInProcess(loader, logger, backend.InProcessOptions{Workers: 4, KillGrace: 200 * time.Millisecond})
	f.cache = components.NewArtifactCache(b.Load, logger, f.logStore, components.CacheOptions{TTL: time.Minute})
	t.Cleanup(func() {
		f.cache.Shutdown(context.Background())
		b.Close(context.Background())
	})

	f.resolver.Add(echoRef, artifact.Location{Path: "echo.wasm", Fingerprint: "a"})
	f.invoker = NewInvoker(f.resolver, f.cache, b, logger, InvokerOptions{
		DefaultTimeout: time.Second,
		Breakers:       f.breakers,
		Metrics:        f.metrics,
		LogStore:       f.logStore,
	})
	return f
}

func request(body string) *wire.Request {
	return &wire.Request{Method: "POST", Scheme: "http", Authority: "localhost", PathAndQuery: "/", Body: []byte(body)}
}

func TestInvokeEcho(t *testing.T) {
	f := newInvokerFixture(t, echoHandler)

	resp, err := f.invoker.Invoke(context.Background(), echoRef, request("ping"))
	require.NoError(t, err)
	assert.Equal(t, uint16(200), resp.Status)
	assert.Equal(t, []byte("ping"), resp.Body)

	info, ok := f.cache.Info(echoRef)
	require.True(t, ok)
	assert.Equal(t, int64(0), info.Refs)
	assert.Equal(t, int32(1), f.released.Load())
	assert.Equal(t, int64(1), f.metrics.InvocationCount(echoRef.String()))
}

func TestInvokeSetsTraceAndDeadline(t *testing.T) {
	var seen wire.Meta
	f := newInvokerFixture(t, func(ctx context.Context, req *wire.Request) []byte {
		seen = req.Meta
		return wire.EncodeResponse(&wire.Response{Status: 204})
	})

	req := request("")
	before := time.Now()
	_, err := f.invoker.Invoke(context.Background(), echoRef, req)
	require.NoError(t, err)

	assert.NotEmpty(t, seen.TraceID)
	assert.WithinDuration(t, before.Add(time.Second), seen.Deadline, 100*time.Millisecond)
	assert.True(t, req.Meta.Deadline.IsZero(), "caller's request is left untouched")

	req.Meta.TraceID = "trace-1"
	req.Meta.Deadline = time.Now().Add(200 * time.Millisecond)
	_, err = f.invoker.Invoke(context.Background(), echoRef, req)
	require.NoError(t, err)
	assert.Equal(t, "trace-1", seen.TraceID)
	assert.WithinDuration(t, req.Meta.Deadline, seen.Deadline, time.Millisecond)
}

func TestInvokeDeadlineExceeded(t *testing.T) {
	f := newInvokerFixture(t, func(ctx context.Context, req *wire.Request) []byte {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return wire.EncodeResponse(&wire.Response{Status: 200})
	})

	req := request("slow")
	req.Meta.Deadline = time.Now().Add(10 * time.Millisecond)

	start := time.Now()
	_, err := f.invoker.Invoke(context.Background(), echoRef, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.DomainInvoke, errors.CodeDeadlineExceeded), "got %v", err)
	assert.Equal(t, 504, errors.StatusCode(err))
	assert.Less(t, time.Since(start), 45*time.Millisecond)

	require.Eventually(t, func() bool {
		info, ok := f.cache.Info(echoRef)
		return ok && info.Refs == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.released.Load())
}

func TestInvokeNotFound(t *testing.T) {
	f := newInvokerFixture(t, echoHandler)

	_, err := f.invoker.Invoke(context.Background(), artifact.Reference{ID: "missing", Version: "v1"}, request(""))
	assert.True(t, errors.Is(err, errors.DomainInvoke, errors.CodeNotFound))
	assert.Equal(t, 404, errors.StatusCode(err))

	_, err = f.invoker.Invoke(context.Background(), artifact.Reference{ID: "echo", Version: "v9"}, request(""))
	assert.True(t, errors.Is(err, errors.DomainInvoke, errors.CodeNotFound))
	assert.Equal(t, int32(0), f.loads.Load())
}

func TestInvokeFunctionError(t *testing.T) {
	f := newInvokerFixture(t, func(context.Context, *wire.Request) []byte {
		panic("secret internal state")
	})

	_, err := f.invoker.Invoke(context.Background(), echoRef, request(""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.DomainInvoke, errors.CodeFunctionError))
	assert.Equal(t, 500, errors.StatusCode(err))
	assert.NotContains(t, errors.PublicMessage(err), "secret")

	logs := f.logStore.GetLogs(echoRef.String(), time.Time{}, 0)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[len(logs)-1], "secret internal state")
}

func TestInvokeBadResponse(t *testing.T) {
	f := newInvokerFixture(t, func(context.Context, *wire.Request) []byte {
		return []byte("not an envelope")
	})

	_, err := f.invoker.Invoke(context.Background(), echoRef, request(""))
	assert.True(t, errors.Is(err, errors.DomainInvoke, errors.CodeBadResponse))
	assert.Equal(t, 502, errors.StatusCode(err))
}

func TestInvokeReloadsAfterTTLAndFingerprintChange(t *testing.T) {
	f := newInvokerFixture(t, echoHandler)

	for i := 0; i < 3; i++ {
		_, err := f.invoker.Invoke(context.Background(), echoRef, request("x"))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.loads.Load())

	assert.Equal(t, 1, f.cache.Sweep(context.Background(), time.Now().Add(time.Hour)))
	_, err := f.invoker.Invoke(context.Background(), echoRef, request("x"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.loads.Load())

	f.resolver.Add(echoRef, artifact.Location{Path: "echo.wasm", Fingerprint: "b"})
	_, err = f.invoker.Invoke(context.Background(), echoRef, request("x"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.loads.Load())

	info, ok := f.cache.Info(echoRef)
	require.True(t, ok)
	assert.Equal(t, "b", info.Fingerprint)
}

func TestInvokeBreakerOpensAfterFailures(t *testing.T) {
	f := newInvokerFixture(t, func(context.Context, *wire.Request) []byte { return nil })

	for i := 0; i < 3; i++ {
		_, err := f.invoker.Invoke(context.Background(), echoRef, request(""))
		assert.True(t, errors.Is(err, errors.DomainInvoke, errors.CodeFunctionError))
	}
	assert.Equal(t, "open", f.breakers.Get(echoRef).State())

	_, err := f.invoker.Invoke(context.Background(), echoRef, request(""))
	assert.True(t, errors.Is(err, errors.DomainInvoke, errors.CodeUnavailable))
	assert.ErrorContains(t, err, "Circuit breaker is open")
}

func TestInvokeLoadFailureIsUnavailable(t *testing.T) {
	logger := logging.NewNopLogger()
	resolver := registry.NewStaticResolver()
	resolver.Add(echoRef, artifact.Location{Path: "echo.wasm", Fingerprint: "a"})

	b := backend.NewInProcess(artifact.LoaderFunc(func(context.Context, artifact.Location) (artifact.Module, error) {
		return nil, artifact.ErrInvalidArtifact
	}), logger, backend.InProcessOptions{Workers: 1})
	defer b.Close(context.Background())
	cache := components.NewArtifactCache(b.Load, logger, nil, components.CacheOptions{})
	defer cache.Shutdown(context.Background())

	_, err := NewInvoker(resolver, cache, b, logger, InvokerOptions{}).Invoke(context.Background(), echoRef, request(""))
	assert.True(t, errors.Is(err, errors.DomainInvoke, errors.CodeUnavailable))
	assert.Equal(t, 503, errors.StatusCode(err))
}
