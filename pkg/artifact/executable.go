package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// wasmHeader is the magic number and binary version every core module starts with.
var wasmHeader = []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

// Executable is a validated artifact path handed to a child runner. It holds
// no resources of its own.
type Executable struct {
	Location Location
}

func (e *Executable) Close(context.Context) error {
	return nil
}

// ValidateFile checks that path names a regular file carrying a WebAssembly
// module header.
func ValidateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrInvalidArtifact, path)
	}

	head := make([]byte, len(wasmHeader))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, wasmHeader) {
		return fmt.Errorf("%w: %s has no wasm header", ErrInvalidArtifact, path)
	}
	return nil
}

// LoadExecutable validates the location and wraps it for out-of-process use.
func LoadExecutable(_ context.Context, loc Location) (Module, error) {
	if err := ValidateFile(loc.Path); err != nil {
		return nil, err
	}
	return &Executable{Location: loc}, nil
}

// IsWasm reports whether b starts with a WebAssembly module header.
func IsWasm(b []byte) bool {
	return bytes.HasPrefix(b, wasmHeader)
}
