package engine

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	domainerrors "github.com/ignitionstack/ember/pkg/engine/errors"
)

type HandlerFunc func(http.ResponseWriter, *http.Request) error

type Middleware func(HandlerFunc) HandlerFunc

func (h *Handlers) withMiddleware(handler HandlerFunc, middlewares ...Middleware) http.HandlerFunc {
	for _, middleware := range middlewares {
		handler = middleware(handler)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if err := handler(w, r); err != nil {
			h.logger.Errorf("Unhandled error in handler: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

// errorMiddleware answers a failed handler with a JSON error. Invocation
// failures expose only their public message and outcome code.
func (h *Handlers) errorMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			err := next(w, r)
			if err == nil {
				return nil
			}

			reqErr := toRequestError(err)
			if reqErr.StatusCode >= http.StatusInternalServerError {
				h.logger.Errorf("Handler error (%s %s): %v", r.Method, r.URL.Path, err)
			} else {
				h.logger.Debugf("Handler error (%s %s): %v", r.Method, r.URL.Path, err)
			}

			response := map[string]interface{}{
				"error":  reqErr.Message,
				"status": reqErr.StatusCode,
			}
			if de, ok := domainerrors.As(err); ok {
				response["domain"] = string(de.ErrDomain)
				response["code"] = string(de.ErrCode)
			}
			if id := middleware.GetReqID(r.Context()); id != "" {
				response["request_id"] = id
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(reqErr.StatusCode)
			if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
				h.logger.Errorf("Failed to encode error response: %v", encodeErr)
			}
			return nil
		}
	}
}

func (h *Handlers) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			h.logger.Debugf("%s %s %d %dB %s", r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start))
		})
	}
}

func (h *Handlers) corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
