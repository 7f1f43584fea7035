package artifact

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Reference
		wantErr  bool
	}{
		{name: "id and version", input: "echo@v1", expected: Reference{ID: "echo", Version: "v1"}},
		{name: "id only", input: "echo", expected: Reference{ID: "echo", Version: DefaultVersion}},
		{name: "empty version", input: "echo@", expected: Reference{ID: "echo", Version: DefaultVersion}},
		{name: "empty id", input: "@v1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseReference(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ref)
			assert.Equal(t, tt.expected.ID+"@"+tt.expected.Version, ref.String())
		})
	}
}

func TestOwnedBufferReleasesOnce(t *testing.T) {
	var releases atomic.Int32
	buf := NewOwnedBuffer([]byte("pong"), func() { releases.Add(1) })

	assert.Equal(t, []byte("pong"), buf.Bytes())
	assert.Equal(t, 4, buf.Len())

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if buf.Release() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), releases.Load())
	assert.Equal(t, int32(1), winners.Load())
	assert.True(t, buf.Released())
	assert.Nil(t, buf.Bytes())
}

func TestOwnedBufferCopyAndRelease(t *testing.T) {
	src := []byte("data")
	released := false
	buf := NewOwnedBuffer(src, func() {
		released = true
		src[0] = 'X'
	})

	out := buf.CopyAndRelease()
	assert.True(t, released)
	assert.Equal(t, []byte("data"), out)
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "ok.wasm")
	require.NoError(t, os.WriteFile(valid, append(append([]byte(nil), wasmHeader...), 0x01), 0o644))

	notWasm := filepath.Join(dir, "text.wasm")
	require.NoError(t, os.WriteFile(notWasm, []byte("hello world"), 0o644))

	short := filepath.Join(dir, "short.wasm")
	require.NoError(t, os.WriteFile(short, []byte{0x00}, 0o644))

	assert.NoError(t, ValidateFile(valid))
	assert.ErrorIs(t, ValidateFile(notWasm), ErrInvalidArtifact)
	assert.ErrorIs(t, ValidateFile(short), ErrInvalidArtifact)
	assert.ErrorIs(t, ValidateFile(dir), ErrInvalidArtifact)
	assert.ErrorIs(t, ValidateFile(filepath.Join(dir, "missing.wasm")), ErrArtifactNotFound)

	mod, err := LoadExecutable(context.Background(), Location{Path: valid})
	require.NoError(t, err)
	assert.Equal(t, valid, mod.(*Executable).Location.Path)
	assert.NoError(t, mod.Close(context.Background()))
}

func TestFileFingerprintChangesWithContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fn.wasm")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	first, err := FileFingerprint(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("three"), 0o644))
	second, err := FileFingerprint(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = FileFingerprint(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}
