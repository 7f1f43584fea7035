package api

import (
	"context"
	"time"

	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/registry"
)

// Client is the interface for the engine's admin API
type Client interface {
	// Status checks if the engine is running
	Status(ctx context.Context) (*StatusResponse, error)

	// Register stores an artifact in the engine's registry
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)

	// Functions lists every registered function
	Functions(ctx context.Context) ([]registry.FunctionMetadata, error)

	// Loaded lists the artifacts the engine holds in memory
	Loaded(ctx context.Context) ([]components.HandleInfo, error)

	// Invalidate drops a cached artifact
	Invalidate(ctx context.Context, ref string) (bool, error)

	// Invoke calls a function
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)

	// Logs gets the audit log of a function
	Logs(ctx context.Context, ref string, since time.Duration, tail int) (LogsResponse, error)
}
