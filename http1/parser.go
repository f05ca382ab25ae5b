package http1

import (
	"errors"
	"io"
	"strings"

	"github.com/codetesla51/raw-http/internal/bufpool"
)

// Limits bounds what a parser accepts from the peer.
type Limits struct {
	// MaxHeaderBytes bounds the start line plus the header block.
	MaxHeaderBytes int
	// MaxTrailerBytes bounds the trailer section of a chunked body.
	MaxTrailerBytes int
	// MaxBodyBytes bounds a request body. Zero means unlimited.
	MaxBodyBytes int64
}

// Default limits.
const (
	DefaultMaxHeaderBytes  = 8192
	DefaultMaxTrailerBytes = 4096
)

func (l Limits) withDefaults() Limits {
	if l.MaxHeaderBytes <= 0 {
		l.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if l.MaxTrailerBytes <= 0 {
		l.MaxTrailerBytes = DefaultMaxTrailerBytes
	}
	if l.MaxBodyBytes < 0 {
		l.MaxBodyBytes = 0
	}
	return l
}

type state uint8

const (
	stStart state = iota
	stMethod
	stTarget
	stVersion
	stRespVersion
	stStatus
	stReason
	stStartLF
	stLineStart
	stName
	stColon
	stValue
	stValueLF
	stBlankLF
	stDone
)

// head holds the state shared by request and response parsing: the start
// line is parsed by the owner, the header block here.
type head struct {
	lim     Limits
	state   state
	start   int64
	started bool
	name    string
	header  Header
	err     error
}

func (h *head) reset(first state) {
	h.state = first
	h.started = false
	h.name = ""
	h.header = nil
	h.err = nil
}

// overLimit reports whether the bytes scanned since the start of the message
// exceed the header block limit.
func (h *head) overLimit(c *bufpool.Cursor) error {
	if c.Offset()-h.start > int64(h.lim.MaxHeaderBytes) {
		return newError(KindHeaderBlockTooLarge, "header block exceeds %d bytes", h.lim.MaxHeaderBytes)
	}
	return nil
}

// headers runs the header block states. It returns true once the blank line
// has been consumed.
func (h *head) headers(c *bufpool.Cursor) (bool, error) {
	for {
		switch h.state {
		case stStartLF, stValueLF, stBlankLF:
			b, ok := c.Peek()
			if !ok {
				return false, nil
			}
			if b != '\n' {
				return false, newError(KindHeaderSyntax, "CR not followed by LF")
			}
			c.Consume(1)
			if h.state == stBlankLF {
				h.state = stDone
				return true, nil
			}
			h.state = stLineStart

		case stLineStart:
			b, ok := c.Peek()
			if !ok {
				return false, nil
			}
			switch b {
			case '\r':
				c.Consume(1)
				h.state = stBlankLF
			case '\n':
				return false, newError(KindHeaderSyntax, "bare LF in header block")
			case ' ', '\t':
				return false, newError(KindHeaderSyntax, "obsolete line folding")
			default:
				h.state = stName
			}

		case stName:
			b, ok := c.Seek(":\r\n")
			if !ok {
				return false, nil
			}
			if b != ':' {
				return false, newError(KindHeaderSyntax, "header line without colon")
			}
			tok := c.Token()
			if !validToken(tok) {
				c.Discard()
				return false, newError(KindHeaderSyntax, "invalid header name %q", tok)
			}
			h.name = headerName(tok)
			c.Consume(1)
			h.state = stColon

		case stColon:
			b, ok := c.Peek()
			if !ok {
				return false, nil
			}
			switch b {
			case ' ', '\t':
				c.Consume(1)
			case '\r':
			default:
				return false, newError(KindHeaderSyntax, "no whitespace after colon in %s", h.name)
			}
			h.state = stValue

		case stValue:
			b, ok := c.Seek("\r\n")
			if !ok {
				return false, nil
			}
			if b != '\r' {
				return false, newError(KindHeaderSyntax, "bare LF in header %s", h.name)
			}
			tok := c.Token()
			if len(tok) > 0 && (tok[0] == ' ' || tok[0] == '\t') {
				c.Discard()
				return false, newError(KindHeaderSyntax, "more than one whitespace byte after colon in %s", h.name)
			}
			v, valid := headerValue(tok)
			if !valid {
				c.Discard()
				return false, newError(KindHeaderSyntax, "invalid value in header %s", h.name)
			}
			h.header = append(h.header, Field{Name: h.name, Value: v})
			c.Consume(1)
			h.state = stValueLF

		default:
			return false, newError(KindHeaderSyntax, "parser in unexpected state %d", h.state)
		}
	}
}

// keepAlive resolves the keep-alive default from Connection tokens and the
// protocol version.
func (h *head) keepAlive(v Version) bool {
	switch {
	case h.header.HasToken(HeaderConnection, "close"):
		return false
	case h.header.HasToken(HeaderConnection, "keep-alive"):
		return true
	}
	return v == Version11
}

// RequestParser turns cursor bytes into a Request. A parser is reused for
// every request of a connection after Reset.
type RequestParser struct {
	head
	req *Request
}

// NewRequestParser returns a parser enforcing lim.
func NewRequestParser(lim Limits) *RequestParser {
	p := &RequestParser{}
	p.lim = lim.withDefaults()
	p.Reset()
	return p
}

// Reset prepares the parser for the next message.
func (p *RequestParser) Reset() {
	p.reset(stStart)
	p.req = nil
}

// Limits returns the limits the parser enforces.
func (p *RequestParser) Limits() Limits { return p.lim }

// Request returns the parsed request once Parse has reported done.
func (p *RequestParser) Request() *Request { return p.req }

// Idle reports whether no byte of a request line has been scanned yet.
func (p *RequestParser) Idle() bool { return p.state == stStart }

// Parse scans the bytes buffered in c. It returns done once the head is
// complete; otherwise the caller fills c and calls Parse again. Errors are
// sticky until Reset.
func (p *RequestParser) Parse(c *bufpool.Cursor) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	done, err := p.parse(c)
	if err == nil && !done {
		err = p.overLimit(c)
	}
	if err != nil {
		p.err = err
		return false, err
	}
	return done, nil
}

func (p *RequestParser) parse(c *bufpool.Cursor) (bool, error) {
	if !p.started {
		p.start, p.started = c.Offset(), true
		p.req = &Request{}
	}
	for {
		switch p.state {
		case stStart:
			b, ok := c.Peek()
			if !ok {
				return false, nil
			}
			if b == '\r' || b == '\n' {
				c.Consume(1)
				continue
			}
			p.state = stMethod

		case stMethod:
			b, ok := c.Seek(" \r\n")
			if !ok {
				return false, nil
			}
			tok := c.Token()
			m, known := ParseMethod(tok)
			switch {
			case b != ' ':
				c.Discard()
				return false, newError(KindMalformedStartLine, "request line has no target")
			case !known && validToken(tok):
				c.Discard()
				return false, newError(KindUnsupportedMethod, "method %q not supported", tok)
			case !known:
				c.Discard()
				return false, newError(KindMalformedStartLine, "invalid method token")
			}
			p.req.Method = m
			c.Consume(1)
			p.state = stTarget

		case stTarget:
			b, ok := c.Seek(" \r\n")
			if !ok {
				return false, nil
			}
			if b != ' ' {
				c.Discard()
				return false, newError(KindMalformedStartLine, "request line has no version")
			}
			t, err := ParseTarget(p.req.Method, string(c.Token()))
			if err != nil {
				c.Discard()
				return false, err
			}
			p.req.Target = t
			c.Consume(1)
			p.state = stVersion

		case stVersion:
			b, ok := c.Seek("\r\n")
			if !ok {
				return false, nil
			}
			tok := c.Token()
			if b != '\r' {
				c.Discard()
				return false, newError(KindMalformedStartLine, "request line not terminated by CRLF")
			}
			v, known := ParseVersion(tok)
			if !known {
				c.Discard()
				return false, versionError(tok)
			}
			p.req.Version = v
			c.Consume(1)
			p.state = stStartLF

		default:
			done, err := p.headers(c)
			if err != nil || !done {
				return false, err
			}
			if err := p.overLimit(c); err != nil {
				return false, err
			}
			return true, p.finish(c)
		}
	}
}

func versionError(tok []byte) error {
	if len(tok) > 5 && string(tok[:5]) == "HTTP/" {
		return newError(KindMalformedVersion, "protocol %q not supported", tok)
	}
	return newError(KindMalformedStartLine, "invalid protocol token %q", tok)
}

func (p *RequestParser) finish(c *bufpool.Cursor) error {
	req := p.req
	req.Header = p.header

	if n := len(req.Header.Values(HeaderHost)); n != 1 {
		if n == 0 {
			return newError(KindHeaderSyntax, "missing Host header")
		}
		return newError(KindHeaderSyntax, "duplicate Host header")
	}
	req.KeepAlive = p.keepAlive(req.Version)

	var fr framing
	if coding, ok := req.Header.lastToken(HeaderTransferEncoding); ok {
		if !strings.EqualFold(coding, "chunked") {
			return newError(KindHeaderSyntax, "unsupported transfer coding %q", coding)
		}
		fr, req.ContentLength = frameChunked, -1
		if req.Header.Has(HeaderContentLength) {
			req.KeepAlive = false
		}
	} else {
		n, present, err := req.Header.contentLength()
		if err != nil {
			return err
		}
		if present && n > 0 {
			if p.lim.MaxBodyBytes > 0 && n > p.lim.MaxBodyBytes {
				return newError(KindBodyTooLarge, "declared body of %d bytes exceeds %d", n, p.lim.MaxBodyBytes)
			}
			fr, req.ContentLength = frameFixed, n
		}
	}

	if fr != frameNone {
		req.ExpectContinue = req.Version == Version11 &&
			strings.EqualFold(strings.TrimSpace(req.Header.Get(HeaderExpect)), "100-continue")
		req.Body = newBody(c, fr, req.ContentLength, p.lim, req.ExpectContinue)
	}
	return nil
}

// Read parses the next request from c, filling it as needed. It returns
// io.EOF when the peer closes the connection before sending any byte of a
// request line.
func (p *RequestParser) Read(c *bufpool.Cursor) (*Request, error) {
	for {
		done, err := p.Parse(c)
		if err != nil {
			return nil, err
		}
		if done {
			return p.req, nil
		}
		if err := fillHead(c, p.Idle()); err != nil {
			p.err = err
			return nil, err
		}
	}
}

func fillHead(c *bufpool.Cursor, idle bool) error {
	_, err := c.Fill()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && idle:
		return io.EOF
	case errors.Is(err, io.EOF):
		return transportError("read message head", io.ErrUnexpectedEOF)
	}
	return transportError("read message head", err)
}

// ResponseParser turns cursor bytes into a Response to a request made with
// the given method.
type ResponseParser struct {
	head
	method Method
	resp   *Response
}

// NewResponseParser returns a parser enforcing lim.
func NewResponseParser(lim Limits) *ResponseParser {
	p := &ResponseParser{}
	p.lim = lim.withDefaults()
	p.Reset(MethodGet)
	return p
}

// Reset prepares the parser for the response to a request with method m.
func (p *ResponseParser) Reset(m Method) {
	p.reset(stRespVersion)
	p.method = m
	p.resp = nil
}

// Response returns the parsed response once Parse has reported done.
func (p *ResponseParser) Response() *Response { return p.resp }

// Parse works like RequestParser.Parse.
func (p *ResponseParser) Parse(c *bufpool.Cursor) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	done, err := p.parse(c)
	if err == nil && !done {
		err = p.overLimit(c)
	}
	if err != nil {
		p.err = err
		return false, err
	}
	return done, nil
}

func (p *ResponseParser) parse(c *bufpool.Cursor) (bool, error) {
	if !p.started {
		p.start, p.started = c.Offset(), true
		p.resp = &Response{}
	}
	for {
		switch p.state {
		case stRespVersion:
			b, ok := c.Seek(" \r\n")
			if !ok {
				return false, nil
			}
			tok := c.Token()
			if b != ' ' {
				c.Discard()
				return false, newError(KindMalformedStartLine, "status line has no status code")
			}
			v, known := ParseVersion(tok)
			if !known {
				c.Discard()
				return false, versionError(tok)
			}
			p.resp.Version = v
			c.Consume(1)
			p.state = stStatus

		case stStatus:
			b, ok := c.Seek(" \r\n")
			if !ok {
				return false, nil
			}
			tok := c.Token()
			if len(tok) != 3 || b == '\n' || !isDigits(tok) {
				c.Discard()
				return false, newError(KindMalformedStartLine, "invalid status code %q", tok)
			}
			p.resp.Status = int(tok[0]-'0')*100 + int(tok[1]-'0')*10 + int(tok[2]-'0')
			c.Consume(1)
			if b == '\r' {
				p.state = stStartLF
			} else {
				p.state = stReason
			}

		case stReason:
			b, ok := c.Seek("\r\n")
			if !ok {
				return false, nil
			}
			if b != '\r' {
				c.Discard()
				return false, newError(KindMalformedStartLine, "status line not terminated by CRLF")
			}
			reason, valid := headerValue(c.Token())
			if !valid {
				c.Discard()
				return false, newError(KindMalformedStartLine, "invalid reason phrase")
			}
			p.resp.Reason = reason
			c.Consume(1)
			p.state = stStartLF

		default:
			done, err := p.headers(c)
			if err != nil || !done {
				return false, err
			}
			if err := p.overLimit(c); err != nil {
				return false, err
			}
			return true, p.finish(c)
		}
	}
}

func isDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (p *ResponseParser) finish(c *bufpool.Cursor) error {
	resp := p.resp
	resp.Header = p.header
	resp.KeepAlive = p.keepAlive(resp.Version)

	if p.method == MethodHead || resp.Status/100 == 1 || resp.Status == 204 || resp.Status == 304 {
		n, present, err := resp.Header.contentLength()
		if err != nil || !present {
			n = 0
		}
		resp.ContentLength = n
		resp.Body = newBody(c, frameNone, 0, p.lim, false)
		return nil
	}

	if coding, ok := resp.Header.lastToken(HeaderTransferEncoding); ok {
		resp.ContentLength = -1
		if strings.EqualFold(coding, "chunked") {
			resp.Body = newBody(c, frameChunked, -1, p.lim, false)
		} else {
			resp.KeepAlive = false
			resp.Body = newBody(c, frameClose, -1, p.lim, false)
		}
		if resp.Header.Has(HeaderContentLength) {
			resp.KeepAlive = false
		}
		return nil
	}

	n, present, err := resp.Header.contentLength()
	if err != nil {
		return err
	}
	if present {
		resp.ContentLength = n
		resp.Body = newBody(c, frameFixed, n, p.lim, false)
		return nil
	}
	resp.ContentLength = -1
	resp.KeepAlive = false
	resp.Body = newBody(c, frameClose, -1, p.lim, false)
	return nil
}

// Read parses the next response from c, filling it as needed.
func (p *ResponseParser) Read(c *bufpool.Cursor) (*Response, error) {
	for {
		done, err := p.Parse(c)
		if err != nil {
			return nil, err
		}
		if done {
			return p.resp, nil
		}
		if err := fillHead(c, false); err != nil {
			p.err = err
			return nil, err
		}
	}
}
