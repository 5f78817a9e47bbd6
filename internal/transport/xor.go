package transport

import (
	"net"
)

// xorStream applies a repeating XOR key to a byte stream, keeping its
// position in the key across calls.
type xorStream struct {
	key []byte
	pos int
}

func (x *xorStream) apply(dst, src []byte) {
	for i := range src {
		dst[i] = src[i] ^ x.key[x.pos]
		x.pos = (x.pos + 1) % len(x.key)
	}
}

// XorConn obfuscates a connection with a shared XOR key. Each direction
// keeps its own key position.
type XorConn struct {
	net.Conn
	rd xorStream
	wr xorStream
}

// NewXorConn wraps conn. An empty key returns conn unchanged.
func NewXorConn(conn net.Conn, key []byte) net.Conn {
	if len(key) == 0 {
		return conn
	}
	return &XorConn{
		Conn: conn,
		rd:   xorStream{key: key},
		wr:   xorStream{key: key},
	}
}

// Read reads from the underlying connection and decodes the bytes read
func (c *XorConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.rd.apply(p[:n], p[:n])
	return n, err
}

// Write encodes p and writes it to the underlying connection
func (c *XorConn) Write(p []byte) (int, error) {
	encoded := make([]byte, len(p))
	c.wr.apply(encoded, p)
	return c.Conn.Write(encoded)
}

type xorListener struct {
	net.Listener
	key []byte
}

// XorListener wraps every accepted connection with NewXorConn
func XorListener(ln net.Listener, key []byte) net.Listener {
	if len(key) == 0 {
		return ln
	}
	return &xorListener{Listener: ln, key: key}
}

func (l *xorListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewXorConn(conn, l.key), nil
}

// DialXor dials addr and wraps the connection with NewXorConn
func DialXor(network, addr string, key []byte) (net.Conn, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return NewXorConn(conn, key), nil
}
