package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, defaults.Engine, cfg.Engine)
	assert.Equal(t, defaults.Cache, cfg.Cache)
	assert.Equal(t, BackendInProcess, cfg.Engine.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  backend: process
  default_timeout: 2s
cache:
  ttl: 90s
process:
  runner_path: /usr/local/bin/ember-runner
  max_children: 4
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, BackendProcess, cfg.Engine.Backend)
	assert.Equal(t, 2*time.Second, cfg.Engine.DefaultTimeout)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "/usr/local/bin/ember-runner", cfg.Process.RunnerPath)
	assert.Equal(t, 4, cfg.Process.MaxChildren)
	assert.Equal(t, "debug", cfg.Log.Level)

	// untouched keys keep their defaults
	assert.Equal(t, DefaultConfig().Cache.SweepInterval, cfg.Cache.SweepInterval)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("EMBER_CACHE__TTL", "1m")
	t.Setenv("EMBER_INPROCESS__WORKERS", "3")
	t.Setenv("EMBER_ENGINE__DEFAULT_TIMEOUT", "250ms")
	t.Setenv("EMBER_RUNNER", "/opt/sandbox/runner")
	t.Setenv("EMBER_UNRELATED", "ignored")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.InProcess.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.DefaultTimeout)
	assert.Equal(t, "/opt/sandbox/runner", cfg.Process.RunnerPath)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown backend", content: "engine:\n  backend: container\n"},
		{name: "zero workers", content: "inprocess:\n  workers: 0\n"},
		{name: "unknown key", content: "cache:\n  size: 10\n"},
		{name: "zero kill grace", content: "inprocess:\n  kill_grace: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "cache.ttl", envKey("EMBER_CACHE__TTL"))
	assert.Equal(t, "circuit_breaker.failure_threshold", envKey("EMBER_CIRCUIT_BREAKER__FAILURE_THRESHOLD"))
	assert.Equal(t, "process.runner_path", envKey("EMBER_RUNNER"))
	assert.Equal(t, "", envKey("EMBER_TEST_CHILD"))
}
