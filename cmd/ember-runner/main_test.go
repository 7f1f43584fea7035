package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsAcceptsRunnerArgs(t *testing.T) {
	loc := artifact.Location{
		Path:         "/var/lib/ember/fn.wasm",
		ABI:          artifact.ABIExtism,
		EnableWASI:   true,
		AllowedHosts: []string{"api.example.com", "*.internal"},
		Config:       map[string]string{"region": "eu", "mode": "a=b"},
	}

	parsed, err := parseArgs(backend.RunnerArgs(loc), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, loc, parsed)
}

func TestParseArgsDefaults(t *testing.T) {
	parsed, err := parseArgs([]string{"fn.wasm"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, artifact.Location{Path: "fn.wasm", ABI: artifact.ABIRaw}, parsed)
}

func TestParseArgsRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no path", []string{"--abi", "raw"}},
		{"two paths", []string{"a.wasm", "b.wasm"}},
		{"unknown abi", []string{"--abi", "wasix", "a.wasm"}},
		{"bad config", []string{"--config", "novalue", "a.wasm"}},
		{"unknown flag", []string{"--fast", "a.wasm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestRunExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitUsage, run(context.Background(), nil, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "expected exactly one artifact path")

	path := filepath.Join(t.TempDir(), "broken.wasm")
	require.NoError(t, os.WriteFile(path, []byte("not wasm"), 0o644))

	stderr.Reset()
	assert.Equal(t, exitFailed, run(context.Background(), []string{path}, strings.NewReader("req"), &stdout, &stderr))
	assert.NotEmpty(t, stderr.String())
	assert.Empty(t, stdout.String())
}
