package httpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Connection pipeline states
const (
	stateReading  = "reading"
	stateMatching = "matching"
	stateInvoking = "invoking"
	stateWriting  = "writing"
	stateDone     = "done"
	stateFailed   = "failed"
)

// Connection pipeline events
const (
	eventRead   = "read"
	eventMatch  = "match"
	eventInvoke = "invoke"
	eventWrite  = "write"
	eventFail   = "fail"
)

func newConnState(logger *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		stateReading,
		fsm.Events{
			{Name: eventRead, Src: []string{stateReading}, Dst: stateMatching},
			{Name: eventMatch, Src: []string{stateMatching}, Dst: stateInvoking},
			{Name: eventInvoke, Src: []string{stateInvoking}, Dst: stateWriting},
			{Name: eventWrite, Src: []string{stateWriting}, Dst: stateDone},
			{Name: eventFail, Src: []string{stateReading, stateInvoking, stateWriting}, Dst: stateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("connection state", "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// conn is one accepted client. It is handled start to finish before the
// server accepts the next one.
type conn struct {
	srv   *Server
	rwc   net.Conn
	id    string
	log   *slog.Logger
	state *fsm.FSM
}

func (s *Server) newConn(rwc net.Conn) *conn {
	id := uuid.NewString()
	logger := s.log.With("conn_id", id, "remote", remoteAddr(rwc))
	return &conn{
		srv:   s,
		rwc:   rwc,
		id:    id,
		log:   logger,
		state: newConnState(logger),
	}
}

// serve runs the read, match, invoke and write steps for the connection.
// Failures are logged and close this connection only.
func (c *conn) serve(ctx context.Context) {
	defer c.rwc.Close()

	c.srv.stats.connections.Inc()
	ctx, span := c.srv.tracer.Start(ctx, "haws.conn", trace.WithAttributes(
		attribute.String("conn.id", c.id),
		attribute.String("net.peer.addr", remoteAddr(c.rwc)),
	))
	defer span.End()

	req, err := c.readRequest()
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.log.Debug("client closed before sending a request")
			c.advance(ctx, eventFail)
			c.srv.metrics.observeConn("empty")
			return
		}
		c.fail(ctx, span, "read request", err)
		return
	}
	c.advance(ctx, eventRead)

	route, found := c.srv.mux.Match(req)
	if found {
		c.srv.stats.matched.Inc()
	} else {
		c.srv.stats.fallbacks.Inc()
	}
	span.SetAttributes(
		attribute.String("route.path", route.Path),
		attribute.Bool("route.fallback", !found),
	)
	c.advance(ctx, eventMatch)

	start := time.Now()
	body, err := invoke(route.Handler, req)
	c.srv.metrics.observeRoute(route.Path, time.Since(start))
	if err != nil {
		c.fail(ctx, span, "invoke handler", err)
		return
	}
	c.advance(ctx, eventInvoke)

	if c.srv.writeTimeout > 0 {
		if err := c.rwc.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout)); err != nil {
			c.log.Debug("set write deadline", "err", err)
		}
	}
	if err := writeResponse(c.rwc, body); err != nil {
		c.fail(ctx, span, "write response", err)
		return
	}
	c.advance(ctx, eventWrite)

	c.srv.metrics.observeConn("served")
	c.log.Debug("request served", "route", route.Path, "fallback", !found, "bytes", len(body))
}

func (c *conn) readRequest() (RequestBuffer, error) {
	if c.srv.readTimeout > 0 {
		if err := c.rwc.SetReadDeadline(time.Now().Add(c.srv.readTimeout)); err != nil {
			c.log.Debug("set read deadline", "err", err)
		}
	}
	if c.srv.singleRead {
		return readSingle(c.rwc)
	}
	return readRequest(bufio.NewReader(c.rwc), c.srv.maxHeaderBytes, c.srv.maxBodyBytes)
}

func (c *conn) fail(ctx context.Context, span trace.Span, op string, err error) {
	c.srv.stats.failures.Inc()
	c.srv.metrics.observeConn("failed")
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	c.advance(ctx, eventFail)
	c.log.Warn("connection aborted", "op", op, "err", err)
}

func (c *conn) advance(ctx context.Context, event string) {
	if err := c.state.Event(ctx, event); err != nil {
		c.log.Error("connection state", "event", event, "state", c.state.Current(), "err", err)
	}
}

// invoke calls the handler, turning a panic into an error
func invoke(h Handler, req RequestBuffer) (body string, err error) {
	if h == nil {
		return "", errors.New("no handler registered")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(req), nil
}

func remoteAddr(c net.Conn) string {
	if addr := c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
