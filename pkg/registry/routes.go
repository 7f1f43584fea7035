package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/manifest"
)

// MethodAny matches every request method
const MethodAny = "ANY"

// Route maps requests to a function. Path is matched exactly, per segment
// with :param placeholders, or as a prefix when it ends in /*.
type Route struct {
	Method   string             `json:"method"`
	Path     string             `json:"path"`
	Ref      artifact.Reference `json:"ref"`
	Priority int                `json:"priority"`
	Enabled  bool               `json:"enabled"`
}

// NewRoute creates an enabled route. An empty method or "*" means any.
func NewRoute(method, path string, ref artifact.Reference) Route {
	return Route{Method: normalizeMethod(method), Path: path, Ref: ref, Enabled: true}
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(method)
	if method == "" || method == "*" {
		return MethodAny
	}
	return method
}

// Match reports whether the route serves method and path and returns the
// :param values.
func (r Route) Match(method, path string) (map[string]string, bool) {
	if !r.Enabled {
		return nil, false
	}
	if r.Method != MethodAny && !strings.EqualFold(r.Method, method) {
		return nil, false
	}

	if prefix, ok := strings.CutSuffix(r.Path, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return nil, true
		}
		return nil, false
	}

	if !strings.Contains(r.Path, ":") {
		return nil, r.Path == path
	}

	routeSegments := strings.Split(r.Path, "/")
	pathSegments := strings.Split(path, "/")
	if len(routeSegments) != len(pathSegments) {
		return nil, false
	}
	params := make(map[string]string)
	for i, segment := range routeSegments {
		if name, ok := strings.CutPrefix(segment, ":"); ok {
			if pathSegments[i] == "" {
				return nil, false
			}
			params[name] = pathSegments[i]
			continue
		}
		if segment != pathSegments[i] {
			return nil, false
		}
	}
	return params, true
}

// RouteTable holds routes ordered by priority, highest first. Routes of equal
// priority keep insertion order.
type RouteTable struct {
	mu     sync.RWMutex
	routes []Route
}

func NewRouteTable() *RouteTable {
	return &RouteTable{}
}

func (t *RouteTable) Add(routes ...Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, routes...)
	sort.SliceStable(t.routes, func(i, j int) bool {
		return t.routes[i].Priority > t.routes[j].Priority
	})
}

// RemoveFunction drops every route pointing at id.
func (t *RouteTable) RemoveFunction(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.routes[:0]
	for _, r := range t.routes {
		if r.Ref.ID != id {
			kept = append(kept, r)
		}
	}
	t.routes = kept
}

// Replace swaps the routes of function id for routes.
func (t *RouteTable) Replace(id string, routes []Route) {
	t.RemoveFunction(id)
	t.Add(routes...)
}

// Find returns the first route matching method and path.
func (t *RouteTable) Find(method, path string) (Route, map[string]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if params, ok := r.Match(method, path); ok {
			return r, params, true
		}
	}
	return Route{}, nil, false
}

func (t *RouteTable) List() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Route(nil), t.routes...)
}

func (t *RouteTable) ForFunction(id string) []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Route
	for _, r := range t.routes {
		if r.Ref.ID == id {
			out = append(out, r)
		}
	}
	return out
}

// RoutesFor builds the routes declared by a version, addressed by ref.
func RoutesFor(ref artifact.Reference, routes []manifest.RouteSettings) []Route {
	out := make([]Route, 0, len(routes))
	for _, rs := range routes {
		route := NewRoute(rs.Method, rs.Path, ref)
		route.Priority = rs.Priority
		out = append(out, route)
	}
	return out
}

// FunctionRoutes returns the routes of every tagged version of fn, each
// addressed by the version's first tag. Untagged versions are unreachable
// by route. Newer versions come first so they win ties.
func FunctionRoutes(fn FunctionMetadata) []Route {
	var routes []Route
	for i := len(fn.Versions) - 1; i >= 0; i-- {
		v := fn.Versions[i]
		if len(v.Tags) == 0 {
			continue
		}
		routes = append(routes, RoutesFor(artifact.Reference{ID: fn.ID, Version: v.Tags[0]}, v.Routes)...)
	}
	return routes
}

// LoadRoutes fills table from every function in reg.
func LoadRoutes(reg Registry, table *RouteTable) error {
	functions, err := reg.ListAll()
	if err != nil {
		return err
	}
	for _, fn := range functions {
		table.Replace(fn.ID, FunctionRoutes(fn))
	}
	return nil
}
