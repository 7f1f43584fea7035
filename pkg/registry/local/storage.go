package localregistry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/registry"
)

type localStorage struct {
	rootDir string
}

func NewLocalStorage(rootDir string) registry.Storage {
	return &localStorage{rootDir: rootDir}
}

func (s *localStorage) ReadWASMFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("WASM file not found: %w", artifact.ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("failed to read WASM file: %w", err)
	}
	return data, nil
}

// WriteWASMFile writes through a temporary file so a concurrent loader never
// sees a partial artifact.
func (s *localStorage) WriteWASMFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write WASM file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write WASM file: %w", err)
	}
	return nil
}

func (s *localStorage) BuildWASMPath(id, shortDigest string) string {
	return filepath.Join(s.rootDir, "storage", id, "versions", shortDigest+".wasm")
}
