package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.log")

	logger, err := NewZapLogger(Config{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Printf("loaded %s", "echo@v1")
	logger.Debugf("cache hit for %s", "echo@v1")
	logger.Errorf("invoke failed: %v", "boom")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "loaded echo@v1")
	assert.Contains(t, out, "cache hit for echo@v1")
	assert.Contains(t, out, "invoke failed: boom")
}

func TestZapLoggerLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.log")

	logger, err := NewZapLogger(Config{Level: "error", File: path})
	require.NoError(t, err)

	logger.Printf("info line")
	logger.Errorf("error line")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "info line")
	assert.Contains(t, string(data), "error line")
}

func TestZapLoggerInvalidLevel(t *testing.T) {
	_, err := NewZapLogger(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestFunctionLogStore(t *testing.T) {
	store := NewFunctionLogStore(3)

	t.Run("unknown function", func(t *testing.T) {
		assert.Empty(t, store.GetLogs("nope@v1", time.Time{}, 0))
	})

	t.Run("keeps most recent entries", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			store.Addf("echo@v1", LevelInfo, "call %d", i)
		}
		logs := store.GetLogs("echo@v1", time.Time{}, 0)
		require.Len(t, logs, 3)
		assert.True(t, strings.HasSuffix(logs[0], "call 2"))
		assert.True(t, strings.HasSuffix(logs[2], "call 4"))
	})

	t.Run("tail and level", func(t *testing.T) {
		store.AddLog("echo@v1", LevelError, "panic: boom")
		logs := store.GetLogs("echo@v1", time.Time{}, 1)
		require.Len(t, logs, 1)
		assert.Contains(t, logs[0], "[ERROR] panic: boom")
	})

	t.Run("since filter", func(t *testing.T) {
		assert.Empty(t, store.GetLogs("echo@v1", time.Now().Add(time.Hour), 0))
	})

	t.Run("clear", func(t *testing.T) {
		store.Clear("echo@v1")
		assert.Empty(t, store.Entries("echo@v1", time.Time{}, 0))
	})
}
