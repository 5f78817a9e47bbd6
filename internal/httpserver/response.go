package httpserver

import (
	"bufio"
	"io"
	"strconv"
)

const statusLine = "HTTP/1.1 200 OK\r\n"

// frameResponse wraps body in the only response shape the server emits:
// a 200 status line, a Content-Length header and the body verbatim.
func frameResponse(body string) []byte {
	b := make([]byte, 0, len(statusLine)+len(body)+32)
	b = append(b, statusLine...)
	b = append(b, "Content-Length: "...)
	b = strconv.AppendInt(b, int64(len(body)), 10)
	b = append(b, "\r\n\r\n"...)
	b = append(b, body...)
	return b
}

func writeResponse(w io.Writer, body string) error {
	bw := bufio.NewWriterSize(w, 4096)
	if _, err := bw.Write(frameResponse(body)); err != nil {
		return err
	}
	return bw.Flush()
}
