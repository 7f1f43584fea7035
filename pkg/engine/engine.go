package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ignitionstack/ember/internal/repository"
	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/artifact/wasm"
	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/ignitionstack/ember/pkg/engine/backend"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/engine/config"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/ignitionstack/ember/pkg/engine/metrics"
	"github.com/ignitionstack/ember/pkg/manifest"
	"github.com/ignitionstack/ember/pkg/registry"
	localregistry "github.com/ignitionstack/ember/pkg/registry/local"
	"github.com/ignitionstack/ember/pkg/wire"
)

// Version is set at build time
var Version = "dev"

// Resolver maps a function reference to a loadable artifact.
type Resolver = registry.Resolver

type Engine struct {
	config   *config.Config
	registry registry.Registry
	resolver Resolver
	backend  backend.Backend
	cache    *components.ArtifactCache
	invoker  *Invoker
	routes   *registry.RouteTable
	logger   logging.Logger
	logStore *logging.FunctionLogStore
	metrics  *metrics.Collector
	started  time.Time

	circuitBreakers *components.CircuitBreakerManager

	// closed on Shutdown, after the backend
	closers []io.Closer
	cancel  context.CancelFunc
}

// NewEngine opens the local registry under cfg.Server.RegistryDir and
// builds the backend cfg selects.
func NewEngine(cfg *config.Config, logger logging.Logger) (*Engine, error) {
	db, err := repository.OpenBadger(filepath.Join(cfg.Server.RegistryDir, "registry.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup registry: %w", err)
	}
	reg := localregistry.NewLocalRegistry(cfg.Server.RegistryDir, db)

	b, err := NewBackend(cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := NewEngineWithDependencies(cfg, reg, reg, b, logger)
	e.closers = append(e.closers, db)
	return e, nil
}

// NewBackend builds the execution backend named by cfg.Engine.Backend.
func NewBackend(cfg *config.Config, logger logging.Logger) (backend.Backend, error) {
	switch cfg.Engine.Backend {
	case config.BackendInProcess, "":
		loader := wasm.NewLoader(context.Background(), wasm.Config{
			MemoryLimitPages: cfg.InProcess.MemoryLimitPages,
			MaxInstances:     cfg.InProcess.MaxInstances,
		})
		return backend.NewInProcess(loader, logger, backend.InProcessOptions{
			Workers:   cfg.InProcess.Workers,
			KillGrace: cfg.InProcess.KillGrace,
		}), nil
	case config.BackendProcess:
		return backend.NewProcess(logger, backend.ProcessOptions{
			RunnerPath:     cfg.Process.RunnerPath,
			MaxChildren:    cfg.Process.MaxChildren,
			MaxOutputBytes: cfg.Process.MaxOutputBytes,
			WaitDelay:      cfg.Process.WaitDelay,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Engine.Backend)
	}
}

// NewEngineWithDependencies wires an engine around an existing registry and
// backend. reg may be nil when the engine only resolves.
func NewEngineWithDependencies(
	cfg *config.Config,
	reg registry.Registry,
	resolver Resolver,
	b backend.Backend,
	logger logging.Logger,
) *Engine {
	logStore := logging.NewFunctionLogStore(cfg.Engine.LogStoreCapacity)
	circuitBreakers := components.NewCircuitBreakerManager(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.ResetTimeout)
	collector := metrics.NewCollector(logger)

	cache := components.NewArtifactCache(b.Load, logger, logStore, components.CacheOptions{
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
		LoadTimeout:   cfg.Engine.LoadTimeout,
	})
	collector.RegisterCache(cache)
	registerBackendGauges(collector, b)

	invoker := NewInvoker(resolver, cache, b, logger, InvokerOptions{
		DefaultTimeout: cfg.Engine.DefaultTimeout,
		Breakers:       circuitBreakers,
		Metrics:        collector,
		LogStore:       logStore,
	})

	return &Engine{
		config:          cfg,
		registry:        reg,
		resolver:        resolver,
		backend:         b,
		cache:           cache,
		invoker:         invoker,
		routes:          registry.NewRouteTable(),
		logger:          logger,
		logStore:        logStore,
		metrics:         collector,
		circuitBreakers: circuitBreakers,
	}
}

func registerBackendGauges(collector *metrics.Collector, b backend.Backend) {
	switch b := b.(type) {
	case *backend.InProcess:
		collector.RegisterGauge("workers_busy", "In-process workers running a call.", func() float64 {
			return float64(b.Workers().Busy())
		})
		collector.RegisterGauge("workers", "In-process worker pool size.", func() float64 {
			return float64(b.Workers().Size())
		})
	case *backend.Process:
		collector.RegisterGauge("children", "Running child processes.", func() float64 {
			return float64(b.Children())
		})
	}
}

// Start loads the route table and starts the cache sweep.
func (e *Engine) Start(ctx context.Context) error {
	if e.registry != nil {
		if err := registry.LoadRoutes(e.registry, e.routes); err != nil {
			return fmt.Errorf("failed to load routes: %w", err)
		}
	}

	ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.cache.StartSweeper(ctx)
	e.started = time.Now()

	e.logger.Printf("Engine started (backend: %s, %d routes)", e.backend.Name(), len(e.routes.List()))
	return nil
}

// Shutdown stops the sweep, unloads every artifact and closes the backend.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	e.cache.Shutdown(ctx)

	err := e.backend.Close(ctx)
	for _, c := range e.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	e.logger.Printf("Engine stopped")
	return err
}

// Invoke runs ref against req.
func (e *Engine) Invoke(ctx context.Context, ref artifact.Reference, req *wire.Request) (*wire.Response, error) {
	return e.invoker.Invoke(ctx, ref, req)
}

// Handle converts r and invokes ref with it.
func (e *Engine) Handle(ctx context.Context, ref artifact.Reference, r *http.Request) (*wire.Response, error) {
	req, err := RequestFromHTTP(r, e.config.Server.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	return e.invoker.Invoke(ctx, ref, req)
}

// Register stores an artifact under m's reference, tags it latest and
// replaces the function's routes. The cached artifact is reloaded lazily on
// the next call.
func (e *Engine) Register(m *manifest.FunctionManifest, payload []byte) (*registry.VersionInfo, error) {
	if e.registry == nil {
		return nil, ErrNoRegistry
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if !artifact.IsWasm(payload) {
		return nil, fmt.Errorf("%w: payload has no wasm header", artifact.ErrInvalidArtifact)
	}

	ref := m.Reference()
	tags := []string{ref.Version}
	if ref.Version != artifact.DefaultVersion {
		tags = append(tags, artifact.DefaultVersion)
	}

	version, err := e.registry.Push(ref.ID, payload, registry.Digest(payload), tags, m.FunctionSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to store in registry: %w", err)
	}

	fn, err := e.registry.Get(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back %s: %w", ref.ID, err)
	}
	e.routes.Replace(ref.ID, registry.FunctionRoutes(*fn))

	e.logger.Printf("Registered %s (digest: %s, tags: %v)", ref, version.Hash, version.Tags)
	e.logStore.Addf(ref.String(), logging.LevelInfo, "registered digest %s", version.FullDigest)
	return version, nil
}

// Functions lists every registered function.
func (e *Engine) Functions() ([]registry.FunctionMetadata, error) {
	if e.registry == nil {
		return nil, ErrNoRegistry
	}
	return e.registry.ListAll()
}

// Loaded lists the artifacts the cache holds.
func (e *Engine) Loaded() []components.HandleInfo {
	return e.cache.List()
}

// Invalidate drops the cached artifact for ref and resets its breaker.
func (e *Engine) Invalidate(ctx context.Context, ref artifact.Reference) bool {
	e.circuitBreakers.Remove(ref)
	return e.cache.Invalidate(ctx, ref)
}

// Logs returns the audit log of ref.
func (e *Engine) Logs(ref artifact.Reference, since time.Time, tail int) []string {
	return e.logStore.GetLogs(ref.String(), since, tail)
}

// Status describes the running engine.
func (e *Engine) Status() api.StatusResponse {
	return api.StatusResponse{
		Status:          "running",
		Version:         Version,
		Timestamp:       time.Now().Format(time.RFC3339),
		Backend:         e.backend.Name(),
		Uptime:          time.Since(e.started).Round(time.Second).String(),
		Cache:           e.cache.Stats(),
		CircuitBreakers: e.circuitBreakers.States(),
		Routes:          len(e.routes.List()),
	}
}

func (e *Engine) Routes() *registry.RouteTable {
	return e.routes
}

func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

func (e *Engine) Config() *config.Config {
	return e.config
}
