// Package socks provides a SOCKS5 front door to the dispatcher
package socks

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/armon/go-socks5"

	"haws/internal/transport"
)

// targetRule only permits CONNECT requests to the dispatcher's address
type targetRule struct {
	host string
	ips  []net.IP
	port int
}

func newTargetRule(target string) (*targetRule, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid target port %q: %w", portStr, err)
	}

	rule := &targetRule{host: host, port: port}
	if ip := net.ParseIP(host); ip != nil {
		rule.ips = []net.IP{ip}
	} else if ips, err := net.LookupIP(host); err == nil {
		rule.ips = ips
	}
	return rule, nil
}

func (r *targetRule) Allow(ctx context.Context, req *socks5.Request) (context.Context, bool) {
	if req.Command != socks5.ConnectCommand || req.DestAddr == nil {
		return ctx, false
	}
	if req.DestAddr.Port != r.port {
		return ctx, false
	}
	if req.DestAddr.FQDN != "" && req.DestAddr.FQDN == r.host {
		return ctx, true
	}
	for _, ip := range r.ips {
		if ip.Equal(req.DestAddr.IP) {
			return ctx, true
		}
	}
	return ctx, false
}

// Server represents a SOCKS5 proxy server
type Server struct {
	server *socks5.Server
	addr   string
	target string
	log    *slog.Logger
}

// NewServer creates a SOCKS5 server on addr that only proxies to target.
// A non-empty xorKey obfuscates the upstream connection to the dispatcher.
func NewServer(addr, target, xorKey string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rule, err := newTargetRule(target)
	if err != nil {
		return nil, err
	}

	conf := &socks5.Config{
		Rules:  rule,
		Logger: slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}
	if xorKey != "" {
		conf.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return transport.NewXorConn(conn, []byte(xorKey)), nil
		}
	}

	server, err := socks5.New(conf)
	if err != nil {
		return nil, err
	}

	return &Server{
		server: server,
		addr:   addr,
		target: target,
		log:    logger,
	}, nil
}

// Start starts the SOCKS5 server
func (s *Server) Start() error {
	s.log.Info("starting SOCKS5 server", "addr", s.addr, "target", s.target)
	return s.server.ListenAndServe("tcp", s.addr)
}

// Serve accepts SOCKS5 clients from ln
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// StartAsync starts the SOCKS5 server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.log.Error("SOCKS5 server stopped", "err", err)
		}
	}()
}
