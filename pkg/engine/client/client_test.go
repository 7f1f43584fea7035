package client

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ignitionstack/ember/internal/repository"
	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine"
	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/ignitionstack/ember/pkg/engine/backend"
	"github.com/ignitionstack/ember/pkg/engine/config"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/ignitionstack/ember/pkg/manifest"
	localregistry "github.com/ignitionstack/ember/pkg/registry/local"
	"github.com/ignitionstack/ember/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prefixModule struct{}

func (prefixModule) Call(_ context.Context, request []byte) (*artifact.OwnedBuffer, error) {
	req, err := wire.DecodeRequest(request)
	if err != nil {
		return nil, err
	}
	if string(req.Body) == "fail" {
		panic("boom")
	}
	out := wire.EncodeResponse(&wire.Response{Status: 202, Body: append([]byte("got "), req.Body...)})
	return artifact.NewOwnedBuffer(out, nil), nil
}

func (prefixModule) Close(context.Context) error { return nil }

// startEngine serves a real engine's admin API on a unix socket. The
// directory comes from os.MkdirTemp to stay under the socket path limit.
func startEngine(t *testing.T) api.Client {
	t.Helper()
	dir, err := os.MkdirTemp("", "ember")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	logger := logging.NewNopLogger()
	cfg := config.DefaultConfig()
	cfg.Server.RegistryDir = filepath.Join(dir, "registry")

	db, err := repository.OpenBadger(filepath.Join(dir, "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg := localregistry.NewLocalRegistry(cfg.Server.RegistryDir, db)

	loader := artifact.LoaderFunc(func(context.Context, artifact.Location) (artifact.Module, error) {
		return prefixModule{}, nil
	})
	b := backend.NewInProcess(loader, logger, backend.InProcessOptions{Workers: 2})

	e := engine.NewEngineWithDependencies(cfg, reg, reg, b, logger)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Shutdown(context.Background()) })

	socket := filepath.Join(dir, "engine.sock")
	listener, err := net.Listen("unix", socket)
	require.NoError(t, err)
	server := &http.Server{Handler: engine.NewHandlers(e, logger).UnixSocketHandler()}
	go server.Serve(listener)
	t.Cleanup(func() { server.Close() })

	c, err := New(Options{SocketPath: socket})
	require.NoError(t, err)
	return c
}

func TestClientRoundTrip(t *testing.T) {
	c := startEngine(t)
	ctx := context.Background()

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", status.Status)

	registered, err := c.Register(ctx, api.RegisterRequest{
		Manifest: manifest.FunctionManifest{FunctionSettings: manifest.FunctionSettings{ID: "upper", Version: "v1"}},
		Artifact: []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00},
	})
	require.NoError(t, err)
	assert.Equal(t, "upper@v1", registered.Ref)

	functions, err := c.Functions(ctx)
	require.NoError(t, err)
	require.Len(t, functions, 1)

	resp, err := c.Invoke(ctx, api.InvokeRequest{Ref: "upper@v1", Body: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, 202, resp.Status)
	assert.Equal(t, "got hi", string(resp.Body))

	loaded, err := c.Loaded(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	logs, err := c.Logs(ctx, "upper@v1", time.Minute, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)

	invalidated, err := c.Invalidate(ctx, "upper@v1")
	require.NoError(t, err)
	assert.True(t, invalidated)

	invalidated, err = c.Invalidate(ctx, "upper@v1")
	require.NoError(t, err)
	assert.False(t, invalidated)
}

func TestClientSurfacesOutcomeCodes(t *testing.T) {
	c := startEngine(t)
	ctx := context.Background()

	_, err := c.Invoke(ctx, api.InvokeRequest{Ref: "missing@v1"})
	var respErr api.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusNotFound, respErr.Code)
	assert.Equal(t, "not_found", respErr.ErrCode)

	_, err = c.Register(ctx, api.RegisterRequest{
		Manifest: manifest.FunctionManifest{FunctionSettings: manifest.FunctionSettings{ID: "upper", Version: "v1"}},
		Artifact: []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00},
	})
	require.NoError(t, err)

	_, err = c.Invoke(ctx, api.InvokeRequest{Ref: "upper@v1", Body: []byte("fail")})
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusInternalServerError, respErr.Code)
	assert.Equal(t, "function_error", respErr.ErrCode)
	assert.Equal(t, "function error", respErr.Message)
}

func TestClientEngineNotRunning(t *testing.T) {
	c, err := New(Options{SocketPath: filepath.Join(os.TempDir(), "ember-absent.sock")})
	require.NoError(t, err)

	_, err = c.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine is not running")
}
