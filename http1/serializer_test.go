package http1

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/codetesla51/raw-http/internal/bufpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ex11 = Exchange{Method: MethodGet, Version: Version11, KeepAlive: true}

func writeResponse(t *testing.T, p *bufpool.Pool, resp *Response, ex Exchange) (string, bool, error) {
	t.Helper()
	var out bytes.Buffer
	s := NewSerializer(p, &out)
	keep, err := s.WriteResponse(resp, ex)
	if err == nil {
		assert.Equal(t, int64(out.Len()), s.Written())
	}
	s.Release()
	return out.String(), keep, err
}

func reparse(t *testing.T, wire string, m Method) (*Response, string) {
	t.Helper()
	c := bufpool.NewCursor(nil, strings.NewReader(wire))
	t.Cleanup(c.Release)
	p := NewResponseParser(Limits{})
	p.Reset(m)
	resp, err := p.Read(c)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// sizedChunks yields bytes in reads of the given sizes; a zero size yields
// an empty read.
type sizedChunks struct {
	sizes []int
	next  byte
}

func (r *sizedChunks) Read(p []byte) (int, error) {
	if len(r.sizes) == 0 {
		return 0, io.EOF
	}
	n := r.sizes[0]
	if n > len(p) {
		n = len(p)
		r.sizes[0] -= n
	} else {
		r.sizes = r.sizes[1:]
	}
	for i := 0; i < n; i++ {
		p[i] = r.next
		r.next++
	}
	return n, nil
}

func expectedChunks(sizes []int) []byte {
	var b []byte
	var next byte
	for _, n := range sizes {
		for i := 0; i < n; i++ {
			b = append(b, next)
			next++
		}
	}
	return b
}

func TestSerializerContentLengthRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 100, 4095, 4096, 10000} {
		body := bytes.Repeat([]byte("0123456789"), n/10+1)[:n]
		p := bufpool.New(512, 2)
		wire, keep, err := writeResponse(t, p, NewResponse(200).WithBytes(body), ex11)
		require.NoError(t, err)
		assert.True(t, keep)
		assert.Zero(t, p.Outstanding())

		resp, got := reparse(t, wire, MethodGet)
		assert.Equal(t, int64(n), resp.ContentLength)
		assert.Equal(t, string(body), got, "length %d", n)
	}
}

func TestSerializerChunkedRoundTrip(t *testing.T) {
	var (
		assert = assert.New(t)
		sizes  = []int{0, 1, 4096, 17}
		want   = expectedChunks(sizes)
		p      = bufpool.New(bufpool.DefaultChunkSize, 2)
	)

	src := &sizedChunks{sizes: append([]int(nil), sizes...)}
	wire, keep, err := writeResponse(t, p, NewResponse(200).WithBody(src), ex11)
	require.NoError(t, err)
	assert.True(keep)
	assert.Contains(wire, "Transfer-Encoding: chunked\r\n")
	assert.True(strings.HasSuffix(wire, "\r\n0\r\n\r\n"))

	resp, got := reparse(t, wire, MethodGet)
	assert.Equal(int64(-1), resp.ContentLength)
	assert.Equal(want, []byte(got))

	b := resp.IncomingBody()
	assert.True(b.Done())
	n, err := b.Read(make([]byte, 1))
	assert.Zero(n)
	assert.Equal(io.EOF, err)
}

func TestSerializerChunkedEmptyBody(t *testing.T) {
	wire, _, err := writeResponse(t, nil, NewResponse(200).WithBody(&sizedChunks{}), ex11)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(wire, "Transfer-Encoding: chunked\r\n\r\n0\r\n\r\n"))
}

func TestSerializerOverDeclaredLength(t *testing.T) {
	var (
		assert = assert.New(t)
		out    bytes.Buffer
		s      = NewSerializer(nil, &out)
		resp   = NewResponse(200).
			WithHeader("Content-Length", "10").
			WithBody(io.MultiReader(strings.NewReader("12345678")))
	)
	defer s.Release()

	keep, err := s.WriteResponse(resp, ex11)
	assert.False(keep)
	assert.ErrorIs(err, ErrFramingMismatch)
	assert.True(IsFatal(err))

	_, err = s.WriteResponse(NewResponse(204), ex11)
	assert.ErrorIs(err, ErrFramingMismatch, "a broken serializer stays broken")
}

func TestSerializerUnderDeclaredLength(t *testing.T) {
	resp := NewResponse(200).WithBody(SizedBody(io.MultiReader(strings.NewReader("too long")), 3))
	_, keep, err := writeResponse(t, nil, resp, ex11)
	assert.False(t, keep)
	assert.ErrorIs(t, err, ErrFramingMismatch)
}

func TestSerializerBodiless(t *testing.T) {
	tests := []struct {
		name    string
		resp    *Response
		ex      Exchange
		has     []string
		hasNot  []string
		bodyLen int
	}{
		{
			name:   "head advertises length",
			resp:   NewResponse(200).WithString("hello"),
			ex:     Exchange{Method: MethodHead, Version: Version11, KeepAlive: true},
			has:    []string{"Content-Length: 5\r\n"},
			hasNot: []string{"hello", "Transfer-Encoding"},
		},
		{
			name:   "head of unknown length",
			resp:   NewResponse(200).WithBody(&sizedChunks{sizes: []int{3}}),
			ex:     Exchange{Method: MethodHead, Version: Version10, KeepAlive: true},
			has:    []string{"Connection: keep-alive\r\n"},
			hasNot: []string{"Transfer-Encoding", "Content-Length"},
		},
		{
			name:   "no content drops framing",
			resp:   NewResponse(204).WithHeader("Content-Length", "5").WithString("hello"),
			ex:     ex11,
			has:    []string{"HTTP/1.1 204 No Content\r\n"},
			hasNot: []string{"Content-Length", "hello"},
		},
		{
			name:   "not modified keeps caller length",
			resp:   NewResponse(304).WithHeader("Content-Length", "5"),
			ex:     ex11,
			has:    []string{"Content-Length: 5\r\n"},
			hasNot: []string{"Transfer-Encoding"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, keep, err := writeResponse(t, nil, tt.resp, tt.ex)
			require.NoError(t, err)
			assert.True(t, keep)
			assert.True(t, strings.HasSuffix(wire, "\r\n\r\n"))
			for _, s := range tt.has {
				assert.Contains(t, wire, s)
			}
			for _, s := range tt.hasNot {
				assert.NotContains(t, wire, s)
			}
		})
	}
}

func TestSerializerConnectionHeader(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		ex   Exchange
		line string
		keep bool
	}{
		{"1.1 keep-alive", NewResponse(200).WithString("x"), ex11, "", true},
		{"1.1 peer close", NewResponse(200).WithString("x"), Exchange{Version: Version11}, "Connection: close\r\n", false},
		{"handler close", NewResponse(200).WithString("x").WithHeader("Connection", "close"), ex11, "Connection: close\r\n", false},
		{"zero value response", &Response{Status: 200}, ex11, "", true},
		{"zero value response to 1.0", &Response{}, Exchange{Version: Version10, KeepAlive: true}, "Connection: keep-alive\r\n", true},
		{"1.0 keep-alive", NewResponse(200).WithString("x"), Exchange{Version: Version10, KeepAlive: true}, "Connection: keep-alive\r\n", true},
		{
			"1.0 unknown length",
			NewResponse(200).WithBody(&sizedChunks{sizes: []int{4}}),
			Exchange{Version: Version10, KeepAlive: true},
			"Connection: close\r\n",
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, keep, err := writeResponse(t, nil, tt.resp, tt.ex)
			require.NoError(t, err)
			assert.Equal(t, tt.keep, keep)
			assert.Equal(t, 1, strings.Count(wire, "\r\n\r\n"))
			if tt.line == "" {
				assert.NotContains(t, wire, "Connection:")
			} else {
				assert.Equal(t, 1, strings.Count(wire, "Connection:"))
				assert.Contains(t, wire, tt.line)
			}
		})
	}
}

func TestSerializerSanitizesHeaders(t *testing.T) {
	resp := NewResponse(200).
		WithHeader("X-Inject", "a\r\nSet-Cookie: evil").
		WithHeader("Bad Name", "dropped").
		WithHeader("X-Pad", " \tpadded").
		WithString("")
	wire, _, err := writeResponse(t, nil, resp, ex11)
	require.NoError(t, err)
	assert.Contains(t, wire, "X-Inject: aSet-Cookie: evil\r\n")
	assert.NotContains(t, wire, "Bad Name")
	assert.Contains(t, wire, "X-Pad: padded\r\n")
	assert.Contains(t, wire, "Content-Length: 0\r\n")
}

func TestSerializerCustomReason(t *testing.T) {
	wire, _, err := writeResponse(t, nil, &Response{Status: 299, Reason: "Fine"}, ex11)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(wire, "HTTP/1.1 299 Fine\r\n"))
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("connection reset")
	}
	w.after--
	return len(p), nil
}

func TestSerializerWriteError(t *testing.T) {
	var (
		p = bufpool.New(64, 2)
		s = NewSerializer(p, &failingWriter{after: 1})
	)
	keep, err := s.WriteResponse(NewResponse(200).WithBytes(bytes.Repeat([]byte("x"), 500)), ex11)
	assert.False(t, keep)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int64(64), s.Written())
	assert.ErrorIs(t, s.WriteContinue(), ErrTransport)
	s.Release()
	assert.Zero(t, p.Outstanding())
}

func TestSerializerContinueBeforeBufferedHead(t *testing.T) {
	var (
		assert = assert.New(t)
		out    bytes.Buffer
		s      = NewSerializer(nil, &out)
		raw    = "PUT /f HTTP/1.1\r\nHost: h\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\n"
	)
	req, _, err := readRequest(t, nil, io.MultiReader(strings.NewReader(raw), strings.NewReader("ping")), Limits{})
	require.NoError(t, err)
	req.IncomingBody().SetContinue(s.WriteContinue)

	// echoing the unread body makes the serializer pull it
	keep, err := s.WriteResponse(NewResponse(200).WithBody(req.Body), Exchange{Method: req.Method, Version: req.Version, KeepAlive: req.KeepAlive})
	require.NoError(t, err)
	assert.True(keep)
	assert.True(strings.HasPrefix(out.String(), "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\n"))
	assert.True(strings.HasSuffix(out.String(), "Content-Length: 4\r\n\r\nping"))
}

func TestSerializerRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		target string
		body   io.Reader
		length int64
		want   string
	}{
		{"get", MethodGet, "http://example.com/a?b=c", nil, 0, ""},
		{"post known length", MethodPost, "/submit", strings.NewReader("name=raw"), 8, "name=raw"},
		{"post empty", MethodPost, "/submit", nil, 0, ""},
		{"put streamed", MethodPut, "/stream", &sizedChunks{sizes: []int{5, 0, 7}}, -1, string(expectedChunks([]int{5, 0, 7}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				assert  = assert.New(t)
				require = require.New(t)
				out     bytes.Buffer
				s       = NewSerializer(nil, &out)
			)
			req, err := NewRequest(tt.method, tt.target)
			require.NoError(err)
			if req.Target.Authority == "" {
				req.Header.Add("Host", "example.com")
			}
			req.Header.Add("User-Agent", "raw-http-test")
			req.Body = tt.body
			require.NoError(s.WriteRequest(req))

			parsed, _, err := readRequest(t, nil, strings.NewReader(out.String()), Limits{})
			require.NoError(err)
			assert.Equal(tt.method, parsed.Method)
			assert.Equal(req.Target, parsed.Target)
			assert.Equal("example.com", parsed.Header.Get("Host"))
			assert.Equal(tt.length, parsed.ContentLength)
			assert.True(parsed.KeepAlive)
			if parsed.Body != nil {
				got, err := io.ReadAll(parsed.Body)
				require.NoError(err)
				assert.Equal(tt.want, string(got))
			} else {
				assert.Empty(tt.want)
			}
		})
	}
}

func TestSerializerRequestErrors(t *testing.T) {
	s := NewSerializer(nil, io.Discard)

	req, err := NewRequest(MethodGet, "/")
	require.NoError(t, err)
	assert.ErrorIs(t, s.WriteRequest(req), ErrHeaderSyntax, "no Host available")

	req.Header.Add("Host", "h")
	req.Version = Version10
	req.Method = MethodPost
	req.Body = &sizedChunks{sizes: []int{1}}
	assert.ErrorIs(t, s.WriteRequest(req), ErrFramingMismatch, "HTTP/1.0 cannot stream")
}
