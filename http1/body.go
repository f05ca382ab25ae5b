package http1

import (
	"errors"
	"io"

	"github.com/codetesla51/raw-http/internal/bufpool"
)

type framing uint8

const (
	frameNone framing = iota
	frameFixed
	frameChunked
	frameClose
)

var errContinueNotSent = errors.New("http1: body requested with 100-continue was never read")

// Body reads a message payload from the connection cursor according to the
// framing chosen when the head was parsed. A Body is not safe for
// concurrent use.
type Body struct {
	cur     *bufpool.Cursor
	framing framing
	remain  int64
	limit   int64
	read    int64

	chunk        chunkState
	size         int64
	trailerBytes int
	maxTrailer   int

	// Trailer holds the trailer fields of a chunked body once it is fully
	// read.
	Trailer Header

	expect     bool
	onContinue func() error

	done bool
	err  error
}

func newBody(c *bufpool.Cursor, fr framing, n int64, lim Limits, expect bool) *Body {
	return &Body{
		cur:        c,
		framing:    fr,
		remain:     n,
		limit:      lim.MaxBodyBytes,
		maxTrailer: lim.MaxTrailerBytes,
		expect:     expect,
		done:       fr == frameNone || (fr == frameFixed && n <= 0),
	}
}

// SetContinue installs the function writing the interim 100 response. It is
// called at most once, on the first read, and only when the peer has not
// already started sending the body.
func (b *Body) SetContinue(fn func() error) { b.onContinue = fn }

// ExpectPending reports whether the peer is still waiting for a 100
// response before sending the body.
func (b *Body) ExpectPending() bool { return b.expect && !b.done }

// Done reports whether the body has been read to its end.
func (b *Body) Done() bool { return b.done }

// Err returns the error that stopped the body, if any.
func (b *Body) Err() error { return b.err }

// BodyLen reports the number of bytes left to read when the framing says so
// up front, and -1 otherwise.
func (b *Body) BodyLen() int64 {
	switch {
	case b.done:
		return 0
	case b.framing == frameFixed:
		return b.remain
	}
	return -1
}

func (b *Body) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return b.err
}

// Read implements io.Reader.
func (b *Body) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.expect {
		b.expect = false
		if b.onContinue != nil && b.cur.Buffered() == 0 {
			if err := b.onContinue(); err != nil {
				return 0, b.fail(err)
			}
		}
	}

	switch b.framing {
	case frameFixed:
		return b.readFixed(p)
	case frameChunked:
		return b.readChunked(p)
	case frameClose:
		return b.readClose(p)
	}
	b.done = true
	return 0, io.EOF
}

func (b *Body) readFixed(p []byte) (int, error) {
	if int64(len(p)) > b.remain {
		p = p[:b.remain]
	}
	n, err := b.cur.Read(p)
	b.remain -= int64(n)
	b.read += int64(n)
	if b.remain == 0 {
		b.done = true
		return n, nil
	}
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		return n, b.fail(newError(KindFramingMismatch, "body ended %d bytes short of Content-Length", b.remain))
	}
	return n, b.fail(transportError("read body", err))
}

func (b *Body) readClose(p []byte) (int, error) {
	n, err := b.cur.Read(p)
	b.read += int64(n)
	if b.limit > 0 && b.read > b.limit {
		return n, b.fail(newError(KindBodyTooLarge, "body exceeds %d bytes", b.limit))
	}
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		b.done = true
		return n, io.EOF
	}
	return n, b.fail(transportError("read body", err))
}

// Drain reads and discards the rest of the body. It fails when more than
// max bytes remain; max <= 0 means no bound.
func (b *Body) Drain(max int64) error {
	if b.err != nil {
		return b.err
	}
	if b.done {
		return nil
	}
	if b.expect {
		return errContinueNotSent
	}
	if b.framing == frameFixed && max > 0 && b.remain > max {
		return b.fail(newError(KindBodyTooLarge, "%d unread body bytes exceed drain limit", b.remain))
	}

	ch := b.cur.Pool().Get()
	defer ch.Release()
	var n int64
	for {
		m, err := b.Read(ch.B)
		n += int64(m)
		if max > 0 && n > max {
			return b.fail(newError(KindBodyTooLarge, "unread body exceeds drain limit of %d bytes", max))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
