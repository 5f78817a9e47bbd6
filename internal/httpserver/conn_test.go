package httpserver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	readBuf     *bytes.Buffer
	writeBuf    *bytes.Buffer
	closed      bool
	readErr     error
	writeErr    error
	deadlineErr error
	mutex       sync.Mutex
}

func newMockConn(request string) *mockConn {
	return &mockConn{
		readBuf:  bytes.NewBufferString(request),
		writeBuf: bytes.NewBuffer(nil),
	}
}

func (m *mockConn) Read(b []byte) (n int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	return m.readBuf.Read(b)
}

func (m *mockConn) Write(b []byte) (n int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.writeBuf.Write(b)
}

func (m *mockConn) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.closed = true
	return nil
}

func (m *mockConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 3000}
}

func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 48765}
}

func (m *mockConn) SetDeadline(t time.Time) error      { return m.deadlineErr }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return m.deadlineErr }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return m.deadlineErr }

func (m *mockConn) written() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.writeBuf.String()
}

func TestConn_Pipeline(t *testing.T) {
	srv := newTestServer(t)

	testCases := []struct {
		name      string
		request   string
		readErr   error
		writeErr  error
		wantState string
		wantOut   string
		wantFails int64
	}{
		{
			name:      "served",
			request:   "GET / HTTP/1.1\r\n\r\n",
			wantState: stateDone,
			wantOut:   framed(helloBody),
		},
		{
			name:      "fallback",
			request:   "GET /missing HTTP/1.1\r\n\r\n",
			wantState: stateDone,
			wantOut:   framed(notFoundBody),
		},
		{
			name:      "read failure",
			readErr:   errors.New("connection reset"),
			wantState: stateFailed,
			wantFails: 1,
		},
		{
			name:      "write failure",
			request:   "GET / HTTP/1.1\r\n\r\n",
			writeErr:  errors.New("broken pipe"),
			wantState: stateFailed,
			wantFails: 1,
		},
		{
			name:      "empty request",
			request:   "",
			wantState: stateFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := srv.Stats().Failures

			mc := newMockConn(tc.request)
			mc.readErr = tc.readErr
			mc.writeErr = tc.writeErr

			c := srv.newConn(mc)
			c.serve(context.Background())

			assert.Equal(t, tc.wantState, c.state.Current())
			assert.Equal(t, tc.wantOut, mc.written())
			assert.True(t, mc.closed)
			assert.Equal(t, tc.wantFails, srv.Stats().Failures-before)
		})
	}
}

func TestConn_DeadlineErrorsAreLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := newTestServer(t, WithLogger(logger), WithTimeouts(time.Second, time.Second))

	mc := newMockConn("GET / HTTP/1.1\r\n\r\n")
	mc.deadlineErr = errors.New("deadline not supported")

	c := srv.newConn(mc)
	c.serve(context.Background())

	assert.Equal(t, stateDone, c.state.Current())
	assert.Equal(t, framed(helloBody), mc.written())
	assert.Contains(t, logs.String(), `msg="set read deadline" `)
	assert.Contains(t, logs.String(), `msg="set write deadline" `)
	assert.Contains(t, logs.String(), "deadline not supported")
}

func TestConn_UniqueIDs(t *testing.T) {
	srv := newTestServer(t)
	a := srv.newConn(newMockConn(""))
	b := srv.newConn(newMockConn(""))
	require.NotEmpty(t, a.id)
	assert.NotEqual(t, a.id, b.id)
}

func TestInvoke(t *testing.T) {
	out, err := invoke(body("ok"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, err = invoke(func(RequestBuffer) string { panic("bad") }, nil)
	assert.ErrorContains(t, err, "handler panic: bad")

	_, err = invoke(nil, nil)
	assert.Error(t, err)
}
