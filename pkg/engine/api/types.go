package api

import (
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/manifest"
)

// RegisterRequest stores an artifact under the manifest's reference
type RegisterRequest struct {
	Manifest manifest.FunctionManifest `json:"manifest" validate:"required"`
	Artifact []byte                    `json:"artifact" validate:"required"`
}

// RegisterResponse describes the stored version
type RegisterResponse struct {
	Ref    string   `json:"ref"`
	Digest string   `json:"digest"`
	Tags   []string `json:"tags"`
	Size   int64    `json:"size"`
}

// InvalidateRequest drops a cached artifact
type InvalidateRequest struct {
	Ref string `json:"ref" validate:"required"`
}

// InvalidateResponse reports whether anything was cached
type InvalidateResponse struct {
	Invalidated bool `json:"invalidated"`
}

// InvokeRequest calls a function without going through the edge
type InvokeRequest struct {
	Ref     string              `json:"ref" validate:"required"`
	Method  string              `json:"method,omitempty"`
	Path    string              `json:"path,omitempty" validate:"omitempty,startswith=/"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
	// Milliseconds; 0 uses the function's timeout
	TimeoutMs int64 `json:"timeout_ms,omitempty" validate:"gte=0"`
}

// InvokeResponse is the function's response
type InvokeResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
	Elapsed string              `json:"elapsed"`
}

// StatusResponse represents the response from a status check
type StatusResponse struct {
	Status          string                `json:"status"`
	Version         string                `json:"version"`
	Timestamp       string                `json:"timestamp"`
	Backend         string                `json:"backend"`
	Uptime          string                `json:"uptime"`
	Cache           components.CacheStats `json:"cache"`
	CircuitBreakers map[string]string     `json:"circuit_breakers,omitempty"`
	Routes          int                   `json:"routes"`
}

// LogsResponse represents the response from a logs request
type LogsResponse []string

// ResponseError represents an error response from the engine API
type ResponseError struct {
	Message string `json:"error"`
	Code    int    `json:"status"`
	Domain  string `json:"domain,omitempty"`
	ErrCode string `json:"code,omitempty"`
}

func (e ResponseError) Error() string {
	return e.Message
}
