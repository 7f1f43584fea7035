package logging

import (
	"fmt"
	"sync"
	"time"
)

type LogLevel int

const (
	LevelInfo LogLevel = iota
	LevelWarning
	LevelError
	LevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

type FunctionLogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// FunctionLogStore is the per-function audit log. It keeps the internal
// detail of failures that callers only see as a generic error, bounded to
// maxEntries per function.
type FunctionLogStore struct {
	logs       map[string][]FunctionLogEntry
	mutex      sync.RWMutex
	maxEntries int
}

// NewFunctionLogStore creates a new FunctionLogStore
func NewFunctionLogStore(maxEntries int) *FunctionLogStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &FunctionLogStore{
		logs:       make(map[string][]FunctionLogEntry),
		maxEntries: maxEntries,
	}
}

// AddLog adds a log entry for a function
func (s *FunctionLogStore) AddLog(functionKey string, level LogLevel, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries := append(s.logs[functionKey], FunctionLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})

	// drop the oldest entries once over the limit
	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	s.logs[functionKey] = entries
}

// Addf formats and adds a log entry
func (s *FunctionLogStore) Addf(functionKey string, level LogLevel, format string, args ...interface{}) {
	s.AddLog(functionKey, level, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the entries newer than since, limited to the last
// tail entries when tail > 0.
func (s *FunctionLogStore) Entries(functionKey string, since time.Time, tail int) []FunctionLogEntry {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var filtered []FunctionLogEntry
	for _, entry := range s.logs[functionKey] {
		if since.IsZero() || entry.Timestamp.After(since) {
			filtered = append(filtered, entry)
		}
	}

	if tail > 0 && len(filtered) > tail {
		filtered = filtered[len(filtered)-tail:]
	}
	return filtered
}

// GetLogs retrieves formatted logs for a function
func (s *FunctionLogStore) GetLogs(functionKey string, since time.Time, tail int) []string {
	entries := s.Entries(functionKey, since, tail)
	result := make([]string, len(entries))
	for i, entry := range entries {
		result[i] = fmt.Sprintf("[%s] [%s] %s",
			entry.Timestamp.Format(time.RFC3339),
			entry.Level,
			entry.Message)
	}
	return result
}

// Clear drops every entry for a function
func (s *FunctionLogStore) Clear(functionKey string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.logs, functionKey)
}
