package http1

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/codetesla51/raw-http/internal/bufpool"
)

const maxEmptyReads = 100

// Exchange describes the request a response answers.
type Exchange struct {
	Method    Method
	Version   Version
	KeepAlive bool
}

// Serializer writes messages to w through pooled chunks. Output is
// coalesced into the active chunk and flushed when it fills and at the end
// of every message; between messages the serializer holds no chunk.
//
// A write failure is sticky: the connection can no longer carry messages.
type Serializer struct {
	pool  *bufpool.Pool
	w     io.Writer
	chunk *bufpool.Chunk
	buf   []byte
	n     int

	written int64
	active  bool
	err     error
	probe   [1]byte
	scratch []byte
}

// NewSerializer returns a serializer writing to w. A nil pool means
// bufpool.Default.
func NewSerializer(p *bufpool.Pool, w io.Writer) *Serializer {
	if p == nil {
		p = bufpool.Default
	}
	return &Serializer{pool: p, w: w}
}

// Written reports how many bytes of the current message reached the writer.
func (s *Serializer) Written() int64 { return s.written }

// Err returns the sticky write error, if any.
func (s *Serializer) Err() error { return s.err }

type bodyPlan struct {
	framing  framing
	length   int64
	skipBody bool

	addLength  bool
	addChunked bool
	dropLength bool
	dropTE     bool
}

// WriteResponse writes resp as the answer to ex. It reports whether the
// connection may carry another exchange afterwards.
func (s *Serializer) WriteResponse(resp *Response, ex Exchange) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.begin()
	defer s.end()

	status := resp.Status
	if status == 0 {
		status = 200
	}
	if status < 100 || status > 999 {
		return false, newError(KindHeaderSyntax, "invalid status code %d", status)
	}
	peer := ex.Version
	if peer == VersionUnknown {
		peer = Version11
	}
	keepAlive := ex.KeepAlive && !resp.Header.HasToken(HeaderConnection, "close")

	plan, err := planResponse(resp, status, ex.Method, peer)
	if err != nil {
		closeBody(resp.Body)
		return false, err
	}
	if plan.framing == frameClose && !plan.skipBody {
		keepAlive = false
	}

	s.acquire()
	s.scratch = appendStatusLine(s.scratch[:0], status, resp.Reason)
	s.write(s.scratch)
	s.writeHeader(resp.Header, plan)
	switch {
	case !keepAlive:
		s.writeString("Connection: close\r\n")
	case peer == Version10:
		s.writeString("Connection: keep-alive\r\n")
	}
	s.writeString("\r\n")

	if err := s.writeBody(resp.Body, plan); err != nil {
		return false, err
	}
	if err := s.Flush(); err != nil {
		return false, err
	}
	return keepAlive, nil
}

func planResponse(resp *Response, status int, m Method, peer Version) (bodyPlan, error) {
	var plan bodyPlan
	bodiless := status/100 == 1 || status == 204
	plan.skipBody = bodiless || status == 304 || m == MethodHead

	if bodiless {
		plan.dropLength, plan.dropTE = true, true
		plan.framing = frameNone
		return plan, nil
	}
	if err := planFraming(&plan, resp.Header, resp.Body); err != nil {
		return plan, err
	}
	if plan.framing == frameNone && !plan.skipBody {
		switch {
		case peer == Version11:
			plan.framing, plan.addChunked = frameChunked, true
		default:
			plan.framing = frameClose
		}
	}
	if plan.skipBody && plan.addChunked {
		plan.addChunked = false
	}
	if status == 304 {
		plan.addLength = false
	}
	return plan, nil
}

// planFraming applies the caller's framing headers, falling back to the
// body's known length. It leaves framing as frameNone when neither decides.
func planFraming(plan *bodyPlan, h Header, body io.Reader) error {
	if coding, ok := h.lastToken(HeaderTransferEncoding); ok {
		plan.dropLength = h.Has(HeaderContentLength)
		if strings.EqualFold(coding, "chunked") {
			plan.framing = frameChunked
		} else {
			plan.framing = frameClose
		}
		return nil
	}
	n, present, err := h.contentLength()
	if err != nil {
		return err
	}
	if present {
		plan.framing, plan.length = frameFixed, n
		return nil
	}
	if n := BodyLen(body); n >= 0 {
		plan.framing, plan.length, plan.addLength = frameFixed, n, true
	}
	return nil
}

func (s *Serializer) writeHeader(h Header, plan bodyPlan) {
	for _, f := range h {
		switch {
		case !validTokenString(f.Name):
			continue
		case strings.EqualFold(f.Name, HeaderConnection):
			continue
		case plan.dropLength && strings.EqualFold(f.Name, HeaderContentLength):
			continue
		case plan.dropTE && strings.EqualFold(f.Name, HeaderTransferEncoding):
			continue
		}
		s.writeString(f.Name)
		s.writeString(": ")
		s.writeString(sanitizeHeaderValue(f.Value))
		s.writeString("\r\n")
	}
	if plan.addLength {
		s.writeString("Content-Length: ")
		s.writeString(formatLength(plan.length))
		s.writeString("\r\n")
	}
	if plan.addChunked {
		s.writeString("Transfer-Encoding: chunked\r\n")
	}
}

func (s *Serializer) writeBody(body io.Reader, plan bodyPlan) error {
	defer closeBody(body)
	if plan.skipBody || body == nil {
		switch {
		case plan.skipBody:
			return s.err
		case plan.framing == frameChunked:
			s.writeString("0\r\n\r\n")
		case plan.framing == frameFixed && plan.length > 0:
			return s.fatal(newError(KindFramingMismatch, "Content-Length %d declared without a body", plan.length))
		}
		return s.err
	}
	switch plan.framing {
	case frameFixed:
		return s.copyFixed(body, plan.length)
	case frameChunked:
		return s.copyChunked(body)
	default:
		return s.copyClose(body)
	}
}

func closeBody(body io.Reader) {
	if c, ok := body.(io.Closer); ok {
		c.Close()
	}
}

// fatal records err as sticky: the peer has seen part of a message whose
// framing can no longer be honoured.
func (s *Serializer) fatal(err error) error {
	if s.err == nil {
		s.err = err
	}
	return err
}

func (s *Serializer) copyFixed(body io.Reader, n int64) error {
	remaining := n
	for remaining > 0 {
		if s.n == len(s.buf) {
			if err := s.Flush(); err != nil {
				return err
			}
		}
		room := s.buf[s.n:]
		if int64(len(room)) > remaining {
			room = room[:remaining]
		}
		m, err := readSome(body, room)
		s.n += m
		remaining -= int64(m)
		if remaining == 0 {
			break
		}
		switch {
		case errors.Is(err, io.EOF):
			return s.fatal(newError(KindFramingMismatch, "body ended %d bytes short of Content-Length %d", remaining, n))
		case err != nil:
			return s.fatal(err)
		}
	}
	m, err := readSome(body, s.probe[:])
	if m > 0 {
		return s.fatal(newError(KindFramingMismatch, "body longer than Content-Length %d", n))
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return s.fatal(err)
	}
	return s.err
}

func (s *Serializer) copyChunked(body io.Reader) error {
	// Data is read behind a prefix wide enough for the largest chunk the
	// buffer can hold; the exact prefix is written once the size is known.
	width := len(strconv.FormatInt(int64(len(s.buf)), 16)) + 2
	for {
		if len(s.buf)-s.n < width+3 {
			if err := s.Flush(); err != nil {
				return err
			}
		}
		start := s.n + width
		m, err := readSome(body, s.buf[start:len(s.buf)-2])
		if m > 0 {
			var prefix [24]byte
			p := strconv.AppendInt(prefix[:0], int64(m), 16)
			p = append(p, '\r', '\n')
			copy(s.buf[s.n:], p)
			copy(s.buf[s.n+len(p):], s.buf[start:start+m])
			s.n += len(p) + m
			s.buf[s.n], s.buf[s.n+1] = '\r', '\n'
			s.n += 2
		}
		switch {
		case errors.Is(err, io.EOF):
			s.writeString("0\r\n\r\n")
			return s.err
		case err != nil:
			return s.fatal(err)
		}
	}
}

func (s *Serializer) copyClose(body io.Reader) error {
	for {
		if s.n == len(s.buf) {
			if err := s.Flush(); err != nil {
				return err
			}
		}
		m, err := readSome(body, s.buf[s.n:])
		s.n += m
		switch {
		case errors.Is(err, io.EOF):
			return s.err
		case err != nil:
			return s.fatal(err)
		}
	}
}

// readSome reads into p, tolerating a bounded number of empty reads.
func readSome(r io.Reader, p []byte) (int, error) {
	for i := 0; i < maxEmptyReads; i++ {
		n, err := r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.ErrNoProgress
}

// WriteContinue writes the interim 100 response straight to the writer, so
// it precedes a final response whose head is still buffered. Once bytes of
// the final response have been flushed it does nothing.
func (s *Serializer) WriteContinue() error {
	if s.err != nil {
		return s.err
	}
	if s.active && s.written > 0 {
		return nil
	}
	n, err := s.w.Write(continueLine)
	if err == nil && n < len(continueLine) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.err = transportError("write", err)
		return s.err
	}
	return nil
}

// WriteRequest writes req. Bodies of unknown length are chunked on
// HTTP/1.1 and rejected on HTTP/1.0.
func (s *Serializer) WriteRequest(req *Request) error {
	if s.err != nil {
		return s.err
	}
	s.begin()
	defer s.end()

	if req.Method == MethodUnknown {
		closeBody(req.Body)
		return newError(KindUnsupportedMethod, "request has no method")
	}
	version := req.Version
	if version == VersionUnknown {
		version = Version11
	}
	host := req.Header.Get(HeaderHost)
	addHost := host == "" && !req.Header.Has(HeaderHost)
	if addHost && req.Target.Authority == "" {
		closeBody(req.Body)
		return newError(KindHeaderSyntax, "request has no Host")
	}

	var plan bodyPlan
	if err := planFraming(&plan, req.Header, req.Body); err != nil {
		closeBody(req.Body)
		return err
	}
	switch {
	case plan.framing == frameFixed && plan.addLength && plan.length == 0:
		plan.addLength = req.Method == MethodPost || req.Method == MethodPut
	case plan.framing == frameNone && version == Version11:
		plan.framing, plan.addChunked = frameChunked, true
	case plan.framing == frameNone, plan.framing == frameClose:
		closeBody(req.Body)
		return newError(KindFramingMismatch, "request body of unknown length needs HTTP/1.1")
	}

	s.acquire()
	s.writeString(req.Method.String())
	s.writeString(" ")
	s.writeString(req.Target.RequestURI())
	s.writeString(" ")
	s.writeString(version.String())
	s.writeString("\r\n")
	if addHost {
		s.writeString("Host: ")
		s.writeString(sanitizeHeaderValue(req.Target.Authority))
		s.writeString("\r\n")
	}
	s.writeHeader(req.Header, plan)
	switch {
	case !req.KeepAlive:
		s.writeString("Connection: close\r\n")
	case version == Version10:
		s.writeString("Connection: keep-alive\r\n")
	}
	s.writeString("\r\n")

	if err := s.writeBody(req.Body, plan); err != nil {
		return err
	}
	return s.Flush()
}

// Flush writes the buffered output.
func (s *Serializer) Flush() error {
	if s.err != nil {
		return s.err
	}
	if s.n == 0 {
		return nil
	}
	n, err := s.w.Write(s.buf[:s.n])
	s.written += int64(n)
	if err == nil && n < s.n {
		err = io.ErrShortWrite
	}
	s.n = 0
	if err != nil {
		s.err = transportError("write", err)
		return s.err
	}
	return nil
}

// Discard drops output that has not been flushed yet.
func (s *Serializer) Discard() { s.n = 0 }

// Release returns the write chunk to the pool. Unflushed output is lost.
func (s *Serializer) Release() {
	s.n = 0
	s.release()
}

func (s *Serializer) begin() {
	s.written = 0
	s.active = true
}

func (s *Serializer) end() {
	s.active = false
	s.release()
}

func (s *Serializer) acquire() {
	if s.chunk == nil {
		s.chunk = s.pool.Get()
		s.buf = s.chunk.B
		s.n = 0
	}
}

func (s *Serializer) release() {
	if s.chunk != nil && s.n == 0 {
		s.chunk.Release()
		s.chunk, s.buf = nil, nil
	}
}

func (s *Serializer) write(b []byte) {
	for len(b) > 0 {
		if s.n == len(s.buf) {
			if s.Flush() != nil {
				return
			}
		}
		m := copy(s.buf[s.n:], b)
		s.n += m
		b = b[m:]
	}
}

func (s *Serializer) writeString(str string) {
	for len(str) > 0 {
		if s.n == len(s.buf) {
			if s.Flush() != nil {
				return
			}
		}
		m := copy(s.buf[s.n:], str)
		s.n += m
		str = str[m:]
	}
}
