package httpserver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(s string) Handler {
	return func(RequestBuffer) string { return s }
}

func TestMux_Match(t *testing.T) {
	m := NewMux()
	m.HandleFunc("/", body("index"))
	m.HandleFunc("/foo", body("foo"))
	m.HandleFunc(FallbackPath, body("404"))

	testCases := []struct {
		name      string
		req       string
		wantPath  string
		wantFound bool
	}{
		{
			name:      "root",
			req:       "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n",
			wantPath:  "/",
			wantFound: true,
		},
		{
			name:      "exact path",
			req:       "GET /foo HTTP/1.1\r\n\r\n",
			wantPath:  "/foo",
			wantFound: true,
		},
		{
			name:      "longer path is not a prefix match",
			req:       "GET /foobar HTTP/1.1\r\n\r\n",
			wantPath:  FallbackPath,
			wantFound: false,
		},
		{
			name:      "trailing slash is literal",
			req:       "GET /foo/ HTTP/1.1\r\n\r\n",
			wantPath:  FallbackPath,
			wantFound: false,
		},
		{
			name:      "other methods fall through",
			req:       "POST /foo HTTP/1.1\r\n\r\n",
			wantPath:  FallbackPath,
			wantFound: false,
		},
		{
			name:      "http/1.0 falls through",
			req:       "GET / HTTP/1.0\r\n\r\n",
			wantPath:  FallbackPath,
			wantFound: false,
		},
		{
			name:      "request line without CRLF",
			req:       "GET / HTTP/1.1",
			wantPath:  FallbackPath,
			wantFound: false,
		},
		{
			name:      "empty request",
			req:       "",
			wantPath:  FallbackPath,
			wantFound: false,
		},
		{
			name:      "garbage",
			req:       "\x00\x01\x02hello",
			wantPath:  FallbackPath,
			wantFound: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			route, found := m.Match(RequestBuffer(tc.req))
			assert.Equal(t, tc.wantFound, found)
			assert.Equal(t, tc.wantPath, route.Path)
			require.NotNil(t, route.Handler)
		})
	}
}

func TestMux_FallbackIsNeverMatchedAsPath(t *testing.T) {
	m := NewMux()
	m.HandleFunc(FallbackPath, body("404"))

	route, found := m.Match(RequestBuffer("GET . HTTP/1.1\r\n\r\n"))
	assert.False(t, found)
	assert.Equal(t, FallbackPath, route.Path)
	assert.Empty(t, m.Patterns())
}

func TestMux_FirstRegisteredWinsOnAmbiguity(t *testing.T) {
	// Both patterns are prefixes of this request.
	req := RequestBuffer("GET /a HTTP/1.1\r\nX: y HTTP/1.1\r\n\r\n")
	short := "/a"
	long := "/a HTTP/1.1\r\nX: y"

	t.Run("short first", func(t *testing.T) {
		m := NewMux()
		m.HandleFunc(short, body("short"))
		m.HandleFunc(long, body("long"))
		m.HandleFunc(FallbackPath, body("404"))

		route, found := m.Match(req)
		require.True(t, found)
		assert.Equal(t, "short", route.Handler(req))
	})

	t.Run("long first", func(t *testing.T) {
		m := NewMux()
		m.HandleFunc(long, body("long"))
		m.HandleFunc(short, body("short"))
		m.HandleFunc(FallbackPath, body("404"))

		route, found := m.Match(req)
		require.True(t, found)
		assert.Equal(t, "long", route.Handler(req))
	})
}

func TestMux_ReRegisterKeepsPosition(t *testing.T) {
	m := NewMux()
	m.HandleFunc("/a", body("a1"))
	m.HandleFunc("/b", body("b"))
	m.HandleFunc("/a", body("a2"))

	assert.Equal(t, []string{"/a", "/b"}, m.Paths())
	assert.Equal(t, 2, m.Len())

	route, found := m.Match(RequestBuffer("GET /a HTTP/1.1\r\n\r\n"))
	require.True(t, found)
	assert.Equal(t, "a2", route.Handler(nil))
}

func TestMux_AcceptsAnyPath(t *testing.T) {
	m := NewMux()
	m.HandleFunc("", body("empty"))
	m.HandleFunc(FallbackPath, body("404"))

	assert.Equal(t, []string{"GET  HTTP/1.1\r\n"}, m.Patterns())
	route, found := m.Match(RequestBuffer("GET  HTTP/1.1\r\n\r\n"))
	require.True(t, found)
	assert.Equal(t, "", route.Path)
}

func TestMux_Validate(t *testing.T) {
	m := NewMux()
	m.HandleFunc("/", body("index"))

	err := m.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFallback))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "validate routes", cfgErr.Op)

	m.HandleFunc(FallbackPath, body("404"))
	assert.NoError(t, m.Validate())
}
