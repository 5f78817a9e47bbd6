package httpserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	// BufferSize is the size of the single read used in single-read mode
	BufferSize = 1024

	// DefaultMaxHeaderBytes limits the request line plus headers
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultMaxBodyBytes limits the body read for a declared Content-Length
	DefaultMaxBodyBytes = 8 << 20
)

// readSingle performs exactly one read into a BufferSize buffer. A request
// larger than the buffer or split across writes is seen truncated.
func readSingle(r io.Reader) (RequestBuffer, error) {
	buf := make([]byte, BufferSize)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}

// readRequest reads a request head up to the blank line, then the body
// declared by Content-Length. If the peer stops sending (EOF or a read
// deadline) before the head is complete, whatever arrived is returned as the
// request so it can still be dispatched.
func readRequest(r *bufio.Reader, maxHeaderBytes, maxBodyBytes int) (RequestBuffer, error) {
	var buf []byte
	// continued is set while a line longer than the reader's buffer is being
	// read; its tail is never the blank line ending the head.
	continued := false
	for {
		line, err := r.ReadSlice('\n')
		buf = append(buf, line...)
		if len(buf) > maxHeaderBytes {
			return nil, ErrHeaderTooLarge
		}
		if err == bufio.ErrBufferFull {
			continued = true
			continue
		}
		if err != nil {
			if len(buf) > 0 && (err == io.EOF || isTimeout(err)) {
				return buf, nil
			}
			return nil, err
		}
		if !continued && isBlankLine(line) {
			break
		}
		continued = false
	}

	n, err := contentLength(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return buf, nil
	}
	if n > int64(maxBodyBytes) {
		return nil, ErrBodyTooLarge
	}

	head := len(buf)
	buf = append(buf, make([]byte, n)...)
	if _, err := io.ReadFull(r, buf[head:]); err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return buf, nil
}

// contentLength returns the Content-Length declared in a request head. The
// request line is skipped; a missing header means no body.
func contentLength(head []byte) (int64, error) {
	_, rest, _ := bytes.Cut(head, []byte{'\n'})
	for len(rest) > 0 {
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte{'\n'})
		k, v, ok := bytes.Cut(line, []byte{':'})
		if !ok {
			continue
		}
		if !bytes.EqualFold(bytes.TrimSpace(k), []byte("Content-Length")) {
			continue
		}
		n, err := strconv.ParseInt(string(bytes.TrimSpace(v)), 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid Content-Length %q", bytes.TrimSpace(v))
		}
		return n, nil
	}
	return 0, nil
}

func isBlankLine(line []byte) bool {
	return bytes.Equal(line, []byte("\r\n")) || bytes.Equal(line, []byte("\n"))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
