// Package transport provides listeners the dispatcher can serve on besides plain TCP
package transport

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
)

// DefaultYamuxConfig returns the session settings used for multiplexed clients
func DefaultYamuxConfig() *yamux.Config {
	config := yamux.DefaultConfig()
	config.EnableKeepAlive = true
	config.KeepAliveInterval = 30 * time.Second
	config.ConnectionWriteTimeout = 10 * time.Second
	config.LogOutput = io.Discard
	return config
}

// YamuxListener accepts TCP clients as yamux sessions and hands out every
// stream they open as a separate connection.
type YamuxListener struct {
	ln     net.Listener
	config *yamux.Config
	log    *slog.Logger

	streams chan net.Conn
	done    chan struct{}

	mu       sync.Mutex
	sessions map[*yamux.Session]struct{}
	err      error
	once     sync.Once
}

// ListenYamux wraps ln. A nil config uses DefaultYamuxConfig.
func ListenYamux(ln net.Listener, config *yamux.Config, logger *slog.Logger) *YamuxListener {
	if config == nil {
		config = DefaultYamuxConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &YamuxListener{
		ln:       ln,
		config:   config,
		log:      logger,
		streams:  make(chan net.Conn),
		done:     make(chan struct{}),
		sessions: make(map[*yamux.Session]struct{}),
	}
	go l.acceptSessions()
	return l
}

// Accept returns the next stream opened by any client session
func (l *YamuxListener) Accept() (net.Conn, error) {
	select {
	case stream := <-l.streams:
		return stream, nil
	case <-l.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.err != nil {
			return nil, l.err
		}
		return nil, net.ErrClosed
	}
}

// Close closes the underlying listener and every open session
func (l *YamuxListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.ln.Close()

		l.mu.Lock()
		for session := range l.sessions {
			session.Close()
		}
		l.mu.Unlock()
	})
	return err
}

// Addr returns the underlying listener's address
func (l *YamuxListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *YamuxListener) acceptSessions() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
			default:
				l.mu.Lock()
				l.err = err
				l.mu.Unlock()
				l.Close()
			}
			return
		}

		session, err := yamux.Server(conn, l.config)
		if err != nil {
			l.log.Warn("failed creating yamux session", "remote", conn.RemoteAddr().String(), "err", err)
			conn.Close()
			continue
		}

		l.mu.Lock()
		l.sessions[session] = struct{}{}
		l.mu.Unlock()

		go l.acceptStreams(session)
	}
}

func (l *YamuxListener) acceptStreams(session *yamux.Session) {
	defer func() {
		l.mu.Lock()
		delete(l.sessions, session)
		l.mu.Unlock()
		session.Close()
	}()

	l.log.Debug("yamux session started", "remote", session.RemoteAddr().String())
	for {
		stream, err := session.AcceptStream()
		if err != nil {
			if err != io.EOF && !session.IsClosed() {
				l.log.Warn("failed accepting yamux stream", "err", err)
			}
			return
		}

		select {
		case l.streams <- stream:
		case <-l.done:
			stream.Close()
			return
		}
	}
}
