package wasm

import (
	"context"
	"fmt"

	extism "github.com/extism/go-sdk"
	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/tetratelabs/wazero"
)

// ExtismEntrypoint is the export invoked on extism artifacts.
const ExtismEntrypoint = "handle"

// ExtismLoader compiles artifacts built with an extism PDK.
type ExtismLoader struct {
	cfg Config
}

func NewExtismLoader(cfg Config) *ExtismLoader {
	return &ExtismLoader{cfg: cfg.withDefaults()}
}

func (l *ExtismLoader) Load(ctx context.Context, loc artifact.Location) (artifact.Module, error) {
	bin, err := readArtifact(loc.Path)
	if err != nil {
		return nil, err
	}

	manifest := extism.Manifest{
		Wasm:         []extism.Wasm{extism.WasmData{Data: bin}},
		AllowedHosts: loc.AllowedHosts,
		Config:       loc.Config,
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if l.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(l.cfg.MemoryLimitPages)
	}

	compiled, err := extism.NewCompiledPlugin(ctx, manifest, extism.PluginConfig{
		EnableWasi:    loc.EnableWASI,
		RuntimeConfig: rc,
	}, []extism.HostFunction{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to compile extism plugin: %v", artifact.ErrInvalidArtifact, err)
	}

	m := &extismModule{compiled: compiled}
	m.pool = newInstancePool(l.cfg.MaxInstances, func(ctx context.Context) (*extism.Plugin, error) {
		return compiled.Instance(ctx, extism.PluginInstanceConfig{})
	}, func(ctx context.Context, p *extism.Plugin) {
		p.Close(ctx)
	})

	first, err := m.pool.get(ctx)
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("%w: instantiate failed: %v", artifact.ErrInvalidArtifact, err)
	}
	if !first.FunctionExists(ExtismEntrypoint) {
		first.Close(ctx)
		compiled.Close(ctx)
		return nil, fmt.Errorf("%w: %s", artifact.ErrMissingEntrypoint, ExtismEntrypoint)
	}
	m.pool.put(ctx, first)

	return m, nil
}

type extismModule struct {
	compiled *extism.CompiledPlugin
	pool     *instancePool[*extism.Plugin]
}

// Call runs the handle export. The output stays owned by the plugin kernel
// until the buffer is released, which returns the plugin to the pool.
func (m *extismModule) Call(ctx context.Context, request []byte) (*artifact.OwnedBuffer, error) {
	p, err := m.pool.get(ctx)
	if err != nil {
		return nil, err
	}

	code, output, err := p.CallWithContext(ctx, ExtismEntrypoint, request)
	if err != nil {
		m.pool.discard(context.WithoutCancel(ctx), p)
		return nil, fmt.Errorf("%s: %w", ExtismEntrypoint, err)
	}
	if code != 0 {
		m.pool.discard(context.WithoutCancel(ctx), p)
		return nil, fmt.Errorf("%s returned non-zero exit code: %d", ExtismEntrypoint, code)
	}
	if len(output) == 0 {
		m.pool.put(ctx, p)
		return nil, artifact.ErrNoOutput
	}

	rctx := context.WithoutCancel(ctx)
	return artifact.NewOwnedBuffer(output, func() {
		m.pool.put(rctx, p)
	}), nil
}

func (m *extismModule) Close(ctx context.Context) error {
	m.pool.close(ctx)
	return m.compiled.Close(ctx)
}
