package components

import (
	"context"

	"github.com/ignitionstack/ember/pkg/artifact"
)

// HandleCache defines the artifact cache operations used by the invoker
type HandleCache interface {
	// Release a handle obtained from Acquire
	Release(h *Handle)

	// Acquire a handle for ref, loading it from loc on a miss
	Acquire(ctx context.Context, ref artifact.Reference, loc artifact.Location) (*Handle, error)

	// Retire the cached handle for ref
	Invalidate(ctx context.Context, ref artifact.Reference) bool
}

// CacheLifecycle defines background maintenance of the cache
type CacheLifecycle interface {
	StartSweeper(ctx context.Context)
	Shutdown(ctx context.Context)
}

// CacheInfoProvider defines read-only views of the cache
type CacheInfoProvider interface {
	List() []HandleInfo
	Stats() CacheStats
}

var (
	_ HandleCache       = (*ArtifactCache)(nil)
	_ CacheLifecycle    = (*ArtifactCache)(nil)
	_ CacheInfoProvider = (*ArtifactCache)(nil)
)
