// Package registry stores function artifacts and their manifests and
// resolves function references to loadable locations.
package registry

import (
	"context"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/manifest"
)

// Resolver maps a reference to the artifact location and per-function
// settings. A miss returns an error matching ErrFunctionNotFound or
// ErrVersionNotFound.
type Resolver interface {
	Resolve(ctx context.Context, ref artifact.Reference) (artifact.Location, error)
}

// Registry is a content-addressed store of function versions.
type Registry interface {
	Resolver

	Get(id string) (*FunctionMetadata, error)
	Push(id string, payload []byte, digest string, tags []string, settings manifest.FunctionSettings) (*VersionInfo, error)
	Pull(id string, version string) ([]byte, *VersionInfo, error)
	ReassignTag(id, tag, newDigest string) error
	DigestExists(id, digest string) (bool, error)
	ListAll() ([]FunctionMetadata, error)
}
