package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/ignitionstack/ember/pkg/wire"
)

// RequestFromHTTP normalizes r into a wire request. Header names are sorted;
// the values of each name keep their order. A body larger than maxBody
// fails with ErrBodyTooLarge.
func RequestFromHTTP(r *http.Request, maxBody int64) (*wire.Request, error) {
	body, err := readBody(r, maxBody)
	if err != nil {
		return nil, err
	}

	req := &wire.Request{
		Method:       r.Method,
		Scheme:       "http",
		Authority:    r.Host,
		PathAndQuery: r.URL.RequestURI(),
		Body:         body,
	}
	if r.TLS != nil {
		req.Scheme = "https"
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range r.Header[name] {
			req.AddHeader(name, value)
		}
	}

	req.Meta.TraceID = middleware.GetReqID(r.Context())
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		req.Meta.ClientIP = host
	} else {
		req.Meta.ClientIP = r.RemoteAddr
	}
	return req, nil
}

func readBody(r *http.Request, maxBody int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if maxBody <= 0 {
		return io.ReadAll(r.Body)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > maxBody {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, maxBody)
	}
	return body, nil
}

// WriteResponse writes a function's response. Headers are added in order,
// so duplicates survive.
func WriteResponse(w http.ResponseWriter, resp *wire.Response) error {
	status := int(resp.Status)
	if status < 100 || status > 599 {
		return errors.New("function response status out of range")
	}

	header := w.Header()
	for _, h := range resp.Headers {
		header.Add(string(h.Name), string(h.Value))
	}
	if header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	w.WriteHeader(status)
	_, err := w.Write(resp.Body)
	return err
}
