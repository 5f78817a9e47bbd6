package httpserver

import (
	"bytes"
)

// Reserved route keys
const (
	// RootPath matches only the literal request line "GET / HTTP/1.1"
	RootPath = "/"
	// FallbackPath names the handler used when no other route matches.
	// It must be registered before the server starts.
	FallbackPath = "."
)

// RequestBuffer holds the raw request bytes read from a connection
type RequestBuffer []byte

// Handler produces the response body for a request
type Handler func(req RequestBuffer) string

// Route is a registered path and its handler
type Route struct {
	Path    string
	Handler Handler
}

// muxEntry represents a route entry in the mux
type muxEntry struct {
	Route
	pattern []byte
}

// Mux is the route table. Routes are matched in registration order and the
// first matching route wins.
type Mux struct {
	entries []muxEntry
	index   map[string]int
}

// NewMux creates an empty route table
func NewMux() *Mux {
	return &Mux{
		index: make(map[string]int),
	}
}

// HandleFunc registers a handler for path. Registering the same path again
// replaces the handler and keeps the route's original position.
func (m *Mux) HandleFunc(path string, handler Handler) {
	if i, ok := m.index[path]; ok {
		m.entries[i].Handler = handler
		return
	}

	entry := muxEntry{Route: Route{Path: path, Handler: handler}}
	if path != FallbackPath {
		entry.pattern = routePattern(path)
	}
	m.index[path] = len(m.entries)
	m.entries = append(m.entries, entry)
}

// Validate checks that a fallback route is registered
func (m *Mux) Validate() error {
	if _, ok := m.index[FallbackPath]; !ok {
		return &ConfigError{Op: "validate routes", Err: ErrNoFallback}
	}
	return nil
}

// Match returns the first route whose request line is a prefix of req. When
// no route matches it returns the fallback route and false.
func (m *Mux) Match(req RequestBuffer) (Route, bool) {
	for _, e := range m.entries {
		if e.pattern == nil {
			continue
		}
		if bytes.HasPrefix(req, e.pattern) {
			return e.Route, true
		}
	}

	return m.fallback(), false
}

func (m *Mux) fallback() Route {
	if i, ok := m.index[FallbackPath]; ok {
		return m.entries[i].Route
	}
	return Route{Path: FallbackPath}
}

// Paths returns the registered paths in match order
func (m *Mux) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		paths = append(paths, e.Path)
	}
	return paths
}

// Patterns returns the request lines tested against incoming requests, in
// match order. The fallback route has no pattern.
func (m *Mux) Patterns() []string {
	patterns := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		if e.pattern != nil {
			patterns = append(patterns, string(e.pattern))
		}
	}
	return patterns
}

// Len returns the number of registered routes, including the fallback
func (m *Mux) Len() int {
	return len(m.entries)
}

func routePattern(path string) []byte {
	return []byte("GET " + path + " HTTP/1.1\r\n")
}
