package wasm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Exports required by the raw ABI.
const (
	ExportMemory  = "memory"
	ExportAlloc   = "ember_alloc"
	ExportHandle  = "ember_handle"
	ExportRelease = "ember_release"

	wasiModuleName = "wasi_snapshot_preview1"
)

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

var rawExports = map[string]signature{
	ExportAlloc:   {params: []api.ValueType{api.ValueTypeI32}, results: []api.ValueType{api.ValueTypeI32}},
	ExportHandle:  {params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, results: []api.ValueType{api.ValueTypeI64}},
	ExportRelease: {params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}},
}

// RawLoader compiles raw-ABI artifacts on a shared wazero runtime.
type RawLoader struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	cfg     Config

	wasiMu   sync.Mutex
	wasiDone bool
}

// NewRawLoader creates a loader with its own runtime. Calls are interrupted,
// and the instance closed, when the call context is done.
func NewRawLoader(ctx context.Context, cfg Config) *RawLoader {
	cfg = cfg.withDefaults()
	cache := wazero.NewCompilationCache()

	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(cache)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	return &RawLoader{
		runtime: wazero.NewRuntimeWithConfig(ctx, rc),
		cache:   cache,
		cfg:     cfg,
	}
}

// Load compiles the artifact at loc.Path, checks its exports and creates a
// first instance so that instantiation errors surface at load time.
func (l *RawLoader) Load(ctx context.Context, loc artifact.Location) (artifact.Module, error) {
	bin, err := readArtifact(loc.Path)
	if err != nil {
		return nil, err
	}

	compiled, err := l.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("%w: compile failed: %v", artifact.ErrInvalidArtifact, err)
	}

	if err := validateRawExports(compiled); err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	needsWASI, err := checkImports(compiled)
	if err != nil {
		compiled.Close(ctx)
		return nil, err
	}
	if needsWASI || loc.EnableWASI {
		if err := l.initWASI(ctx); err != nil {
			compiled.Close(ctx)
			return nil, err
		}
	}

	m := &rawModule{compiled: compiled, loc: loc}
	m.pool = newInstancePool(l.cfg.MaxInstances, func(ctx context.Context) (api.Module, error) {
		return l.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
			WithName("").
			WithStartFunctions("_initialize"))
	}, func(ctx context.Context, inst api.Module) {
		inst.Close(ctx)
	})

	first, err := m.pool.get(ctx)
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("%w: instantiate failed: %v", artifact.ErrInvalidArtifact, err)
	}
	m.pool.put(ctx, first)

	return m, nil
}

// Close releases the runtime and every module compiled by it.
func (l *RawLoader) Close(ctx context.Context) error {
	err := l.runtime.Close(ctx)
	return errors.Join(err, l.cache.Close(ctx))
}

func (l *RawLoader) initWASI(ctx context.Context) error {
	l.wasiMu.Lock()
	defer l.wasiMu.Unlock()

	if l.wasiDone || l.runtime.Module(wasiModuleName) != nil {
		l.wasiDone = true
		return nil
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, l.runtime); err != nil {
		return fmt.Errorf("instantiate WASI: %w", err)
	}
	l.wasiDone = true
	return nil
}

func readArtifact(path string) ([]byte, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", artifact.ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if !artifact.IsWasm(bin) {
		return nil, fmt.Errorf("%w: %s has no wasm header", artifact.ErrInvalidArtifact, path)
	}
	return bin, nil
}

func validateRawExports(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return fmt.Errorf("%w: %s", artifact.ErrMissingEntrypoint, ExportMemory)
	}

	funcs := compiled.ExportedFunctions()
	for name, want := range rawExports {
		def, ok := funcs[name]
		if !ok {
			return fmt.Errorf("%w: %s", artifact.ErrMissingEntrypoint, name)
		}
		if !sameTypes(def.ParamTypes(), want.params) || !sameTypes(def.ResultTypes(), want.results) {
			return fmt.Errorf("%w: %s has signature %v -> %v", artifact.ErrMissingEntrypoint,
				name, def.ParamTypes(), def.ResultTypes())
		}
	}
	return nil
}

// checkImports reports whether the module needs WASI. Imports from any other
// host module cannot be satisfied.
func checkImports(compiled wazero.CompiledModule) (bool, error) {
	needsWASI := false
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != wasiModuleName {
			return false, fmt.Errorf("%w: unsupported import %s.%s", artifact.ErrInvalidArtifact, module, name)
		}
		needsWASI = true
	}
	return needsWASI, nil
}

func sameTypes(got, want []api.ValueType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type rawModule struct {
	compiled wazero.CompiledModule
	pool     *instancePool[api.Module]
	loc      artifact.Location
}

// Call writes the request into a guest-allocated span, invokes ember_handle
// and wraps the returned span. Releasing the buffer calls ember_release and
// returns the instance to the pool. An instance that fails mid-call is closed.
func (m *rawModule) Call(ctx context.Context, request []byte) (*artifact.OwnedBuffer, error) {
	inst, err := m.pool.get(ctx)
	if err != nil {
		return nil, err
	}

	buf, reusable, err := m.call(ctx, inst, request)
	if err != nil {
		if reusable {
			m.pool.put(ctx, inst)
		} else {
			m.pool.discard(context.WithoutCancel(ctx), inst)
		}
		return nil, err
	}
	return buf, nil
}

func (m *rawModule) call(ctx context.Context, inst api.Module, request []byte) (*artifact.OwnedBuffer, bool, error) {
	alloc := inst.ExportedFunction(ExportAlloc)
	handle := inst.ExportedFunction(ExportHandle)
	release := inst.ExportedFunction(ExportRelease)
	mem := inst.Memory()

	size := uint64(len(request))
	res, err := alloc.Call(ctx, size)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", ExportAlloc, err)
	}
	inPtr := res[0]
	if size > 0 && !mem.Write(uint32(inPtr), request) {
		return nil, false, fmt.Errorf("%s returned span [%d,+%d) outside memory", ExportAlloc, inPtr, size)
	}

	res, err = handle.Call(ctx, inPtr, size)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", ExportHandle, err)
	}
	packed := res[0]

	if _, err := release.Call(ctx, inPtr, size); err != nil {
		return nil, false, fmt.Errorf("%s: %w", ExportRelease, err)
	}

	if packed == 0 {
		return nil, true, artifact.ErrNoOutput
	}

	outPtr, outLen := uint32(packed>>32), uint32(packed)
	view, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, false, fmt.Errorf("%s returned span [%d,+%d) outside memory", ExportHandle, outPtr, outLen)
	}

	rctx := context.WithoutCancel(ctx)
	return artifact.NewOwnedBuffer(view, func() {
		if _, err := release.Call(rctx, uint64(outPtr), uint64(outLen)); err != nil {
			m.pool.discard(rctx, inst)
			return
		}
		m.pool.put(rctx, inst)
	}), true, nil
}

func (m *rawModule) Close(ctx context.Context) error {
	m.pool.close(ctx)
	return m.compiled.Close(ctx)
}
