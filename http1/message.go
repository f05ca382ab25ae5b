package http1

import (
	"bytes"
	"context"
	"io"
	"strings"
)

// Request is one parsed or outgoing request. It belongs to the connection
// handling the exchange and must not be retained after the handler returns.
type Request struct {
	Method  Method
	Target  Target
	Version Version
	Header  Header

	// Body is the request payload. Parsed requests carry a *Body (nil when
	// the message has none); outgoing requests may use any reader.
	Body io.Reader

	// ContentLength is the declared length, -1 for chunked bodies and 0 when
	// there is no body.
	ContentLength int64

	KeepAlive      bool
	ExpectContinue bool

	props map[string]any
	ctx   context.Context
}

// NewRequest builds an outgoing HTTP/1.1 request.
func NewRequest(m Method, target string) (*Request, error) {
	t, err := ParseTarget(m, target)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:    m,
		Target:    t,
		Version:   Version11,
		KeepAlive: true,
	}, nil
}

// Get returns a property attached to the request.
func (r *Request) Get(key string) (any, bool) {
	v, ok := r.props[key]
	return v, ok
}

// Set attaches a property to the request.
func (r *Request) Set(key string, v any) {
	if r.props == nil {
		r.props = make(map[string]any, 4)
	}
	r.props[key] = v
}

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r carrying ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// IncomingBody returns the parsed body, or nil.
func (r *Request) IncomingBody() *Body {
	b, _ := r.Body.(*Body)
	return b
}

// Response is one outgoing or parsed response.
type Response struct {
	Status  int
	Reason  string
	Version Version
	Header  Header

	// Body is the payload source. Its length is known up front when it
	// reports one (see BodyLen).
	Body io.Reader

	// ContentLength is filled in by the response parser: the declared
	// length, -1 when unknown.
	ContentLength int64

	// KeepAlive is filled in by the response parser. WriteResponse ignores
	// it: a handler closes the connection with a Connection: close header.
	KeepAlive bool
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status, Version: Version11, KeepAlive: true}
}

// WithHeader adds a header field.
func (r *Response) WithHeader(name, value string) *Response {
	r.Header.Add(name, value)
	return r
}

// WithBytes sets b as the body.
func (r *Response) WithBytes(b []byte) *Response {
	r.Body = bytes.NewReader(b)
	return r
}

// WithString sets s as the body.
func (r *Response) WithString(s string) *Response {
	r.Body = strings.NewReader(s)
	return r
}

// WithBody sets an arbitrary body source.
func (r *Response) WithBody(body io.Reader) *Response {
	r.Body = body
	return r
}

// IncomingBody returns the parsed body, or nil.
func (r *Response) IncomingBody() *Body {
	b, _ := r.Body.(*Body)
	return b
}

type sizedBody struct {
	io.Reader
	n int64
}

func (s sizedBody) BodyLen() int64 { return s.n }

func (s sizedBody) Close() error {
	if c, ok := s.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SizedBody declares that r produces exactly n bytes. Closing the result
// closes r when it is an io.Closer.
func SizedBody(r io.Reader, n int64) io.ReadCloser {
	return sizedBody{Reader: r, n: n}
}

// BodyLen reports the length of a body source when it is known up front,
// and -1 otherwise.
func BodyLen(r io.Reader) int64 {
	switch b := r.(type) {
	case nil:
		return 0
	case interface{ BodyLen() int64 }:
		return b.BodyLen()
	case interface{ Len() int }:
		return int64(b.Len())
	}
	return -1
}
