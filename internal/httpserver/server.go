// Package httpserver provides the route table and the connection dispatcher
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "haws/internal/httpserver"

// Server accepts one connection at a time, matches its request against the
// route table and writes back the handler's body.
type Server struct {
	host string
	port int
	mux  *Mux

	log            *slog.Logger
	tracer         trace.Tracer
	metrics        *Metrics
	stats          counters
	singleRead     bool
	maxHeaderBytes int
	maxBodyBytes   int
	readTimeout    time.Duration
	writeTimeout   time.Duration

	mu       sync.Mutex
	listener net.Listener
	serving  bool
	closed   bool
	done     chan struct{}
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// WithTracer sets the tracer used for per-connection spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithMetrics exports connection and route counters
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithSingleRead makes the server read each request with a single read of
// BufferSize bytes instead of reading the full head and body.
func WithSingleRead() Option {
	return func(s *Server) {
		s.singleRead = true
	}
}

// WithMaxHeaderBytes limits the size of the request head
func WithMaxHeaderBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxHeaderBytes = n
		}
	}
}

// WithMaxBodyBytes limits the body read for a declared Content-Length
func WithMaxBodyBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithTimeouts sets per-connection read and write deadlines. Zero disables a deadline.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// NewServer creates a server for host:port with an empty route table
func NewServer(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:           host,
		port:           port,
		mux:            NewMux(),
		log:            slog.Default(),
		tracer:         otel.Tracer(instrumentationName),
		maxHeaderBytes: DefaultMaxHeaderBytes,
		maxBodyBytes:   DefaultMaxBodyBytes,
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Route registers handler for path. "." registers the fallback handler.
func (s *Server) Route(path string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serving {
		return ErrServing
	}
	s.mux.HandleFunc(path, handler)
	return nil
}

// Routes returns the registered paths in match order
func (s *Server) Routes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux.Paths()
}

// Patterns returns the request lines each route matches, in match order
func (s *Server) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux.Patterns()
}

// Validate reports a *ConfigError if the server cannot start
func (s *Server) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux.Validate()
}

// Addr returns the configured host:port
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Stats returns a snapshot of the connection counters
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}

// ListenAndServe validates the route table, binds host:port and serves
// connections until Close is called.
func (s *Server) ListenAndServe() error {
	if err := s.Validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve handles connections from ln one at a time. It returns
// ErrServerClosed after Close. The listener is closed on return.
func (s *Server) Serve(ln net.Listener) error {
	defer ln.Close()

	if err := s.start(ln); err != nil {
		return err
	}
	s.log.Info("serving", "addr", ln.Addr().String(), "routes", s.mux.Len())

	var tempDelay time.Duration
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if isTimeout(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.log.Warn("accept failed, retrying", "err", err, "delay", tempDelay)
				select {
				case <-s.done:
					return ErrServerClosed
				case <-time.After(tempDelay):
				}
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		s.newConn(rwc).serve(context.Background())
	}
}

func (s *Server) start(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.serving {
		return errors.New("httpserver: already serving")
	}
	if err := s.mux.Validate(); err != nil {
		return err
	}
	s.listener = ln
	s.serving = true
	return nil
}

// Close stops the serve loop. A connection already being handled runs to completion.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
