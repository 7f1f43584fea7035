package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignitionstack/ember/pkg/artifact"
)

// StaticResolver resolves from an in-memory table. Fingerprints are taken
// from the file when not set.
type StaticResolver struct {
	mu      sync.RWMutex
	entries map[artifact.Reference]artifact.Location
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{entries: make(map[artifact.Reference]artifact.Location)}
}

func (r *StaticResolver) Add(ref artifact.Reference, loc artifact.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[ref] = loc
}

func (r *StaticResolver) Remove(ref artifact.Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, ref)
}

func (r *StaticResolver) Resolve(_ context.Context, ref artifact.Reference) (artifact.Location, error) {
	r.mu.RLock()
	loc, ok := r.entries[ref]
	if !ok {
		for known := range r.entries {
			if known.ID == ref.ID {
				ok = true
				break
			}
		}
		r.mu.RUnlock()
		if ok {
			return artifact.Location{}, fmt.Errorf("%w: %s", ErrVersionNotFound, ref)
		}
		return artifact.Location{}, fmt.Errorf("%w: %s", ErrFunctionNotFound, ref)
	}
	r.mu.RUnlock()

	if loc.Fingerprint == "" {
		fingerprint, err := artifact.FileFingerprint(loc.Path)
		if err != nil {
			return artifact.Location{}, err
		}
		loc.Fingerprint = fingerprint
	}
	return loc, nil
}
