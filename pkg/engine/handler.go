package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/ignitionstack/ember/pkg/wire"
)

// RouteParamPrefix names the Meta.Extra entries that carry :param values of
// the matched route
const RouteParamPrefix = "route-param-"

// Handlers contains HTTP handlers for engine endpoints
type Handlers struct {
	engine    *Engine
	logger    logging.Logger
	validator *validator.Validate
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine *Engine, logger logging.Logger) *Handlers {
	return &Handlers{
		engine:    engine,
		logger:    logger,
		validator: validator.New(),
	}
}

// UnixSocketHandler returns the admin API served on the unix socket
func (h *Handlers) UnixSocketHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, h.loggingMiddleware())

	r.Post("/register", h.withMiddleware(h.handleRegister, h.errorMiddleware()))
	r.Post("/invalidate", h.withMiddleware(h.handleInvalidate, h.errorMiddleware()))
	r.Post("/invoke", h.withMiddleware(h.handleInvoke, h.errorMiddleware()))
	r.Get("/functions", h.withMiddleware(h.handleFunctions, h.errorMiddleware()))
	r.Get("/loaded", h.withMiddleware(h.handleLoaded, h.errorMiddleware()))
	r.Get("/routes", h.withMiddleware(h.handleRoutes, h.errorMiddleware()))
	r.Get("/logs/{ref}", h.withMiddleware(h.handleFunctionLogs, h.errorMiddleware()))
	r.Get("/status", h.withMiddleware(h.handleStatus, h.errorMiddleware()))

	return r
}

// HTTPHandler returns the edge: explicit /fn/{id}/{version}/ addressing,
// manifest routes for everything else, plus health and metrics.
func (h *Handlers) HTTPHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, h.loggingMiddleware(), h.corsMiddleware())

	r.Get("/health", h.withMiddleware(h.handleHealth, h.errorMiddleware()))
	r.Method(http.MethodGet, "/metrics", h.engine.Metrics().Handler())

	call := h.withMiddleware(h.handleFunctionCall, h.errorMiddleware())
	r.HandleFunc("/fn/{id}/{version}", call)
	r.HandleFunc("/fn/{id}/{version}/*", call)

	routed := h.withMiddleware(h.handleRoute, h.errorMiddleware())
	r.NotFound(routed)
	r.MethodNotAllowed(routed)

	return r
}

// decodeAndValidate decodes and validates a request
func (h *Handlers) decodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError("Invalid request body").WithCause(err)
	}

	if err := h.validator.Struct(v); err != nil {
		return NewBadRequestError(fmt.Sprintf("Validation failed: %v", err))
	}

	return nil
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(data)
}

func parseRef(s string) (artifact.Reference, error) {
	ref, err := artifact.ParseReference(s)
	if err != nil {
		return ref, NewBadRequestError(err.Error())
	}
	return ref, nil
}

// handleFunctionCall serves /fn/{id}/{version}/*. The function sees the
// path below the version segment.
func (h *Handlers) handleFunctionCall(w http.ResponseWriter, r *http.Request) error {
	ref := artifact.Reference{ID: chi.URLParam(r, "id"), Version: chi.URLParam(r, "version")}

	req, err := RequestFromHTTP(r, h.engine.config.Server.MaxBodyBytes)
	if err != nil {
		return err
	}
	req.PathAndQuery = "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		req.PathAndQuery += "?" + r.URL.RawQuery
	}

	return h.invokeAndWrite(r.Context(), w, ref, req)
}

// handleRoute serves every path not claimed by the edge itself from the
// manifest route table.
func (h *Handlers) handleRoute(w http.ResponseWriter, r *http.Request) error {
	route, params, ok := h.engine.Routes().Find(r.Method, r.URL.Path)
	if !ok {
		return NewNotFoundError(fmt.Sprintf("No route for %s %s", r.Method, r.URL.Path))
	}

	req, err := RequestFromHTTP(r, h.engine.config.Server.MaxBodyBytes)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.Meta.Extra = append(req.Meta.Extra, wire.Header{
			Name:  []byte(RouteParamPrefix + name),
			Value: []byte(params[name]),
		})
	}

	return h.invokeAndWrite(r.Context(), w, route.Ref, req)
}

func (h *Handlers) invokeAndWrite(ctx context.Context, w http.ResponseWriter, ref artifact.Reference, req *wire.Request) error {
	resp, err := h.engine.Invoke(ctx, ref, req)
	if err != nil {
		return err
	}
	if err := WriteResponse(w, resp); err != nil {
		h.logger.Errorf("Failed to write response of %s: %v", ref, err)
	}
	return nil
}

// handleHealth is a simple health check endpoint
func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	return h.writeJSONResponse(w, map[string]string{"status": "ok"})
}

// handleRegister stores an artifact and its manifest
func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) error {
	var req api.RegisterRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		return err
	}

	ref := req.Manifest.Reference()
	h.logger.Printf("Received register request for function: %s (%d bytes)", ref, len(req.Artifact))

	version, err := h.engine.Register(&req.Manifest, req.Artifact)
	if err != nil {
		return err
	}

	return h.writeJSONResponse(w, api.RegisterResponse{
		Ref:    ref.String(),
		Digest: version.FullDigest,
		Tags:   version.Tags,
		Size:   version.Size,
	})
}

// handleFunctions lists every registered function
func (h *Handlers) handleFunctions(w http.ResponseWriter, _ *http.Request) error {
	functions, err := h.engine.Functions()
	if err != nil {
		return fmt.Errorf("failed to list functions: %w", err)
	}
	return h.writeJSONResponse(w, functions)
}

// handleLoaded lists the artifacts held by the cache
func (h *Handlers) handleLoaded(w http.ResponseWriter, _ *http.Request) error {
	return h.writeJSONResponse(w, h.engine.Loaded())
}

func (h *Handlers) handleRoutes(w http.ResponseWriter, _ *http.Request) error {
	return h.writeJSONResponse(w, h.engine.Routes().List())
}

// handleInvalidate drops a cached artifact
func (h *Handlers) handleInvalidate(w http.ResponseWriter, r *http.Request) error {
	var req api.InvalidateRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		return err
	}
	ref, err := parseRef(req.Ref)
	if err != nil {
		return err
	}

	h.logger.Printf("Received invalidate request for function: %s", ref)
	invalidated := h.engine.Invalidate(r.Context(), ref)
	return h.writeJSONResponse(w, api.InvalidateResponse{Invalidated: invalidated})
}

// handleInvoke calls a function with a request described in JSON
func (h *Handlers) handleInvoke(w http.ResponseWriter, r *http.Request) error {
	var req api.InvokeRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		return err
	}
	ref, err := parseRef(req.Ref)
	if err != nil {
		return err
	}

	call := &wire.Request{
		Method:       req.Method,
		Scheme:       "http",
		Authority:    "localhost",
		PathAndQuery: req.Path,
		Body:         req.Body,
	}
	if call.Method == "" {
		call.Method = http.MethodPost
	}
	if call.PathAndQuery == "" {
		call.PathAndQuery = "/"
	}
	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range req.Headers[name] {
			call.AddHeader(name, value)
		}
	}
	call.Meta.TraceID = middleware.GetReqID(r.Context())
	if req.TimeoutMs > 0 {
		call.Meta.Deadline = time.Now().Add(time.Duration(req.TimeoutMs) * time.Millisecond)
	}

	start := time.Now()
	resp, err := h.engine.Invoke(r.Context(), ref, call)
	if err != nil {
		return err
	}

	headers := make(http.Header)
	for _, header := range resp.Headers {
		headers.Add(string(header.Name), string(header.Value))
	}
	return h.writeJSONResponse(w, api.InvokeResponse{
		Status:  int(resp.Status),
		Headers: headers,
		Body:    resp.Body,
		Elapsed: time.Since(start).String(),
	})
}

// handleStatus returns the current status of the engine
func (h *Handlers) handleStatus(w http.ResponseWriter, _ *http.Request) error {
	return h.writeJSONResponse(w, h.engine.Status())
}

// handleFunctionLogs returns the audit log of a function
func (h *Handlers) handleFunctionLogs(w http.ResponseWriter, r *http.Request) error {
	ref, err := parseRef(chi.URLParam(r, "ref"))
	if err != nil {
		return err
	}

	query := r.URL.Query()

	var since time.Time
	if sinceStr := query.Get("since"); sinceStr != "" {
		sinceSeconds, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			return NewBadRequestError(fmt.Sprintf("Invalid 'since' parameter: %v", err))
		}
		since = time.Now().Add(-time.Duration(sinceSeconds) * time.Second)
	}

	var tail int
	if tailStr := query.Get("tail"); tailStr != "" {
		tail, err = strconv.Atoi(tailStr)
		if err != nil {
			return NewBadRequestError(fmt.Sprintf("Invalid 'tail' parameter: %v", err))
		}
	}

	logs := h.engine.Logs(ref, since, tail)
	if logs == nil {
		logs = []string{}
	}
	return h.writeJSONResponse(w, api.LogsResponse(logs))
}
