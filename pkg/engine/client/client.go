package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/registry"
)

// clientImpl is the implementation of the api.Client interface
type clientImpl struct {
	socketPath string
	httpClient *http.Client
}

// Options for creating a new engine client
type Options struct {
	SocketPath string

	// Transport replaces the unix socket transport. Tests use it.
	Transport http.RoundTripper
}

// DefaultSocketPath returns the default engine socket path
func DefaultSocketPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".ember", "engine.sock")
}

// New creates a new engine client with the given options
func New(opts Options) (api.Client, error) {
	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}

	transport := opts.Transport
	if transport == nil {
		var dialer net.Dialer
		transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", socketPath)
			},
		}
	}

	return &clientImpl{
		socketPath: socketPath,
		httpClient: &http.Client{Transport: transport},
	}, nil
}

// Status checks if the engine is running
func (c *clientImpl) Status(ctx context.Context) (*api.StatusResponse, error) {
	// Create a context with a short timeout to avoid long hangs
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var status api.StatusResponse
	if err := c.do(pingCtx, http.MethodGet, "status", nil, &status); err != nil {
		var respErr api.ResponseError
		if errors.As(err, &respErr) {
			return nil, err
		}

		// Check for common connection errors and provide more helpful messages
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("engine connection timed out: %w", err)
		}

		errMsg := err.Error()
		if strings.Contains(errMsg, "connect: no such file or directory") {
			return nil, errors.New("engine is not running (socket file not found)")
		} else if strings.Contains(errMsg, "connect: connection refused") {
			return nil, errors.New("engine is not running (connection refused)")
		}

		return nil, fmt.Errorf("cannot connect to the engine: %w", err)
	}

	return &status, nil
}

// Register stores an artifact in the engine's registry
func (c *clientImpl) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var resp api.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "register", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to register function: %w", err)
	}
	return &resp, nil
}

// Functions lists every registered function
func (c *clientImpl) Functions(ctx context.Context) ([]registry.FunctionMetadata, error) {
	var functions []registry.FunctionMetadata
	if err := c.do(ctx, http.MethodGet, "functions", nil, &functions); err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}
	return functions, nil
}

// Loaded lists the artifacts the engine holds in memory
func (c *clientImpl) Loaded(ctx context.Context) ([]components.HandleInfo, error) {
	var loaded []components.HandleInfo
	if err := c.do(ctx, http.MethodGet, "loaded", nil, &loaded); err != nil {
		return nil, fmt.Errorf("failed to list loaded artifacts: %w", err)
	}
	return loaded, nil
}

// Invalidate drops a cached artifact
func (c *clientImpl) Invalidate(ctx context.Context, ref string) (bool, error) {
	var resp api.InvalidateResponse
	if err := c.do(ctx, http.MethodPost, "invalidate", api.InvalidateRequest{Ref: ref}, &resp); err != nil {
		return false, fmt.Errorf("failed to invalidate %s: %w", ref, err)
	}
	return resp.Invalidated, nil
}

// Invoke calls a function. A function that fails surfaces as an
// api.ResponseError carrying the outcome code.
func (c *clientImpl) Invoke(ctx context.Context, req api.InvokeRequest) (*api.InvokeResponse, error) {
	var resp api.InvokeResponse
	if err := c.do(ctx, http.MethodPost, "invoke", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs gets the audit log of a function
func (c *clientImpl) Logs(ctx context.Context, ref string, since time.Duration, tail int) (api.LogsResponse, error) {
	query := url.Values{}
	if since > 0 {
		query.Add("since", strconv.FormatInt(int64(since.Seconds()), 10))
	}
	if tail > 0 {
		query.Add("tail", strconv.Itoa(tail))
	}

	endpoint := "logs/" + url.PathEscape(ref)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var logs api.LogsResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &logs); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return logs, nil
}

// do sends a JSON request to the engine and decodes the reply into out
func (c *clientImpl) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	resp, err := c.sendRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// sendRequest is a helper function to send a request to the engine
func (c *clientImpl) sendRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix/"+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		var errResp api.ResponseError
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			return nil, errResp
		}

		return nil, fmt.Errorf("request failed (status code %d): %s", resp.StatusCode, string(bodyBytes))
	}

	return resp, nil
}
