package httpserver

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequest(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "head only",
			input: "GET / HTTP/1.1\r\nHost: x\r\n\r\n",
			want:  "GET / HTTP/1.1\r\nHost: x\r\n\r\n",
		},
		{
			name:  "pipelined bytes after head are not consumed",
			input: "GET / HTTP/1.1\r\n\r\nGET /next HTTP/1.1\r\n\r\n",
			want:  "GET / HTTP/1.1\r\n\r\n",
		},
		{
			name:  "body by content length",
			input: "POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhelloextra",
			want:  "POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
		},
		{
			name:  "header name is case insensitive",
			input: "POST /x HTTP/1.1\r\ncontent-length:  3 \r\n\r\nabc",
			want:  "POST /x HTTP/1.1\r\ncontent-length:  3 \r\n\r\nabc",
		},
		{
			name:  "bare LF line endings",
			input: "GET / HTTP/1.1\nHost: x\n\n",
			want:  "GET / HTTP/1.1\nHost: x\n\n",
		},
		{
			name:  "partial head then EOF",
			input: "GET / HTTP/1.1\r\nHost",
			want:  "GET / HTTP/1.1\r\nHost",
		},
		{
			name:    "nothing sent",
			input:   "",
			wantErr: io.EOF,
		},
		{
			name:    "body shorter than declared",
			input:   "POST /x HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc",
			wantErr: io.ErrUnexpectedEOF,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tc.input))
			got, err := readRequest(r, DefaultMaxHeaderBytes, DefaultMaxBodyBytes)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestReadRequest_Limits(t *testing.T) {
	head := "GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("a", 100) + "\r\n\r\n"
	_, err := readRequest(bufio.NewReader(strings.NewReader(head)), 64, DefaultMaxBodyBytes)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)

	req := "POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\n" + strings.Repeat("b", 100)
	_, err = readRequest(bufio.NewReader(strings.NewReader(req)), DefaultMaxHeaderBytes, 10)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	req = "POST / HTTP/1.1\r\nContent-Length: nope\r\n\r\n"
	_, err = readRequest(bufio.NewReader(strings.NewReader(req)), DefaultMaxHeaderBytes, DefaultMaxBodyBytes)
	assert.ErrorContains(t, err, "invalid Content-Length")
}

func TestReadRequest_LongHeaderLine(t *testing.T) {
	// Longer than the bufio buffer, so ReadSlice reports ErrBufferFull mid-line.
	line := "X-Big: " + strings.Repeat("z", 10000) + "\r\n"
	input := "GET / HTTP/1.1\r\n" + line + "\r\n"
	got, err := readRequest(bufio.NewReader(strings.NewReader(input)), DefaultMaxHeaderBytes, DefaultMaxBodyBytes)
	require.NoError(t, err)
	assert.Equal(t, input, string(got))
}

func TestReadRequest_LineEndSplitAtBufferBoundary(t *testing.T) {
	// The header line is exactly one byte longer than the reader's buffer,
	// so the first slice ends on '\r' and the next holds only "\n".
	header := "X: " + strings.Repeat("a", 4092) + "\r\n"
	require.Len(t, header, 4097)
	input := "GET /echo HTTP/1.1\r\n" + header + "Content-Length: 4\r\n\r\nping"

	r := bufio.NewReaderSize(strings.NewReader(input), 4096)
	got, err := readRequest(r, DefaultMaxHeaderBytes, DefaultMaxBodyBytes)
	require.NoError(t, err)
	assert.Equal(t, input, string(got))
}

func TestReadSingle(t *testing.T) {
	got, err := readSingle(strings.NewReader("GET / HTTP/1.1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1\r\n", string(got))

	big := bytes.Repeat([]byte{'x'}, BufferSize+500)
	got, err = readSingle(bytes.NewReader(big))
	require.NoError(t, err)
	assert.Len(t, got, BufferSize)

	_, err = readSingle(strings.NewReader(""))
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameResponse(t *testing.T) {
	testCases := []struct {
		body string
		want string
	}{
		{
			body: "<h1>Hello world</h1>",
			want: "HTTP/1.1 200 OK\r\nContent-Length: 20\r\n\r\n<h1>Hello world</h1>",
		},
		{
			body: "",
			want: "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n",
		},
		{
			// Content-Length counts bytes, not runes
			body: "héllo",
			want: "HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\nhéllo",
		},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, string(frameResponse(tc.body)))

		var buf bytes.Buffer
		require.NoError(t, writeResponse(&buf, tc.body))
		assert.Equal(t, tc.want, buf.String())
	}
}
