// Package wasm loads WebAssembly artifacts for in-process execution.
package wasm

import (
	"context"
	"fmt"

	"github.com/ignitionstack/ember/pkg/artifact"
)

// Config bounds the resources of every module a loader produces.
type Config struct {
	// MemoryLimitPages caps linear memory per instance in 64KiB pages. 0 keeps
	// the runtime default.
	MemoryLimitPages uint32
	// MaxInstances is the number of idle instances kept per module.
	MaxInstances int
}

func (c Config) withDefaults() Config {
	if c.MaxInstances <= 0 {
		c.MaxInstances = 4
	}
	return c
}

// Loader dispatches to the raw or extism loader by the location's ABI.
type Loader struct {
	raw    *RawLoader
	extism *ExtismLoader
}

func NewLoader(ctx context.Context, cfg Config) *Loader {
	return &Loader{
		raw:    NewRawLoader(ctx, cfg),
		extism: NewExtismLoader(cfg),
	}
}

func (l *Loader) Load(ctx context.Context, loc artifact.Location) (artifact.Module, error) {
	switch loc.ABI {
	case artifact.ABIRaw, "":
		return l.raw.Load(ctx, loc)
	case artifact.ABIExtism:
		return l.extism.Load(ctx, loc)
	default:
		return nil, fmt.Errorf("%w: %q", artifact.ErrUnsupportedABI, loc.ABI)
	}
}

func (l *Loader) Close(ctx context.Context) error {
	return l.raw.Close(ctx)
}
