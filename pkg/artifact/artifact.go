// Package artifact describes function artifacts: how they are addressed, where
// they live on disk and what a loaded artifact looks like to the host.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultVersion is used when a reference omits its version.
const DefaultVersion = "latest"

// ABI names the calling convention an artifact was built against.
type ABI string

const (
	// ABIRaw is the ember_alloc / ember_handle / ember_release convention.
	ABIRaw ABI = "raw"
	// ABIExtism is the extism plugin convention with a "handle" export.
	ABIExtism ABI = "extism"
)

var (
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrInvalidArtifact   = errors.New("invalid artifact")
	ErrMissingEntrypoint = errors.New("artifact is missing a required export")
	ErrNoOutput          = errors.New("artifact produced no output")
	ErrModuleClosed      = errors.New("module is closed")
	ErrInvalidReference  = errors.New("invalid function reference")
	ErrUnsupportedABI    = errors.New("unsupported artifact ABI")
)

// Reference is the logical identity of a function.
type Reference struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

func (r Reference) String() string {
	return r.ID + "@" + r.Version
}

// ParseReference parses "id@version". A missing version means DefaultVersion.
func ParseReference(s string) (Reference, error) {
	id, version, found := strings.Cut(s, "@")
	if id == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, s)
	}
	if !found || version == "" {
		version = DefaultVersion
	}
	return Reference{ID: id, Version: version}, nil
}

// Location is where a resolved artifact can be loaded from, along with the
// per-function settings that travel with it.
type Location struct {
	Path        string
	Fingerprint string

	ABI          ABI
	Timeout      time.Duration
	EnableWASI   bool
	AllowedHosts []string
	Config       map[string]string
}

// Module is a loaded artifact.
type Module interface {
	Close(ctx context.Context) error
}

// Callable is a module that can be invoked in the host process.
type Callable interface {
	Module
	Call(ctx context.Context, request []byte) (*OwnedBuffer, error)
}

// Loader turns a location into a loaded module.
type Loader interface {
	Load(ctx context.Context, loc Location) (Module, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, loc Location) (Module, error)

func (f LoaderFunc) Load(ctx context.Context, loc Location) (Module, error) {
	return f(ctx, loc)
}

// FileFingerprint derives a fingerprint from the file's size and
// modification time. It is used for locations that are not content addressed.
func FileFingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return "", err
	}
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano()), nil
}
