package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echo.wasm")
	require.NoError(t, os.WriteFile(path, []byte("wasm"), 0o644))

	r := NewStaticResolver()
	r.Add(ref("echo"), artifact.Location{Path: path})
	r.Add(ref("pinned"), artifact.Location{Path: "/nowhere", Fingerprint: "fixed"})

	loc, err := r.Resolve(context.Background(), ref("echo"))
	require.NoError(t, err)
	assert.NotEmpty(t, loc.Fingerprint)

	loc, err = r.Resolve(context.Background(), ref("pinned"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", loc.Fingerprint)

	_, err = r.Resolve(context.Background(), artifact.Reference{ID: "echo", Version: "v9"})
	assert.ErrorIs(t, err, ErrVersionNotFound)
	assert.True(t, IsNotFound(err))

	_, err = r.Resolve(context.Background(), ref("missing"))
	assert.ErrorIs(t, err, ErrFunctionNotFound)

	r.Remove(ref("echo"))
	_, err = r.Resolve(context.Background(), ref("echo"))
	assert.ErrorIs(t, err, ErrFunctionNotFound)
}
