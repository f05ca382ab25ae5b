package http1

import (
	"bytes"
	"errors"
	"io"
)

type chunkState uint8

const (
	chSize chunkState = iota
	chExt
	chSizeLF
	chData
	chDataCR
	chDataLF
	chTrailer
	chTrailerLine
	chTrailerLF
	chEndLF
)

const (
	maxChunkSizeLine = 64
	maxChunkExt      = 4096
	maxHexDigits     = 15
)

// readChunked runs the chunk state machine until data is available for p,
// the body ends or the framing breaks.
func (b *Body) readChunked(p []byte) (int, error) {
	for {
		switch b.chunk {
		case chSize:
			c, ok := b.cur.Seek(";\r\n")
			if !ok {
				if b.cur.Pending() > maxChunkSizeLine {
					return 0, b.fail(newError(KindChunkedSyntax, "chunk size line too long"))
				}
				if err := b.more(); err != nil {
					return 0, err
				}
				continue
			}
			if c == '\n' {
				b.cur.Discard()
				return 0, b.fail(newError(KindChunkedSyntax, "bare LF after chunk size"))
			}
			size, ok := parseHex(bytes.TrimRight(b.cur.Token(), " \t"))
			if !ok {
				b.cur.Discard()
				return 0, b.fail(newError(KindChunkedSyntax, "invalid chunk size"))
			}
			if b.limit > 0 && b.read+size > b.limit {
				b.cur.Discard()
				return 0, b.fail(newError(KindBodyTooLarge, "chunked body exceeds %d bytes", b.limit))
			}
			b.size = size
			b.cur.Consume(1)
			if c == ';' {
				b.chunk = chExt
			} else {
				b.chunk = chSizeLF
			}

		case chExt:
			c, ok := b.cur.Seek("\r\n")
			if !ok {
				if b.cur.Pending() > maxChunkExt {
					return 0, b.fail(newError(KindChunkedSyntax, "chunk extension too long"))
				}
				if err := b.more(); err != nil {
					return 0, err
				}
				continue
			}
			if c == '\n' {
				b.cur.Discard()
				return 0, b.fail(newError(KindChunkedSyntax, "bare LF after chunk extension"))
			}
			b.cur.Consume(1)
			b.chunk = chSizeLF

		case chSizeLF, chDataLF, chTrailerLF, chEndLF:
			if err := b.expectByte('\n'); err != nil {
				return 0, err
			}
			switch b.chunk {
			case chSizeLF:
				if b.size == 0 {
					b.chunk = chTrailer
				} else {
					b.chunk = chData
				}
			case chDataLF:
				b.chunk = chSize
			case chTrailerLF:
				b.chunk = chTrailer
			case chEndLF:
				b.done = true
				return 0, io.EOF
			}

		case chDataCR:
			if err := b.expectByte('\r'); err != nil {
				return 0, err
			}
			b.chunk = chDataLF

		case chData:
			if int64(len(p)) > b.size {
				p = p[:b.size]
			}
			n, err := b.cur.Read(p)
			b.size -= int64(n)
			b.read += int64(n)
			if b.size == 0 {
				b.chunk = chDataCR
			}
			if n > 0 {
				return n, nil
			}
			switch {
			case err == nil:
				continue
			case errors.Is(err, io.EOF):
				return 0, b.fail(newError(KindFramingMismatch, "connection closed inside chunk data"))
			}
			return 0, b.fail(transportError("read chunk data", err))

		case chTrailer:
			c, ok := b.cur.Peek()
			if !ok {
				if err := b.more(); err != nil {
					return 0, err
				}
				continue
			}
			if c == '\r' {
				b.cur.Consume(1)
				b.chunk = chEndLF
			} else {
				b.chunk = chTrailerLine
			}

		case chTrailerLine:
			c, ok := b.cur.Seek("\r\n")
			if !ok {
				if b.trailerBytes+b.cur.Pending() > b.maxTrailer {
					return 0, b.fail(newError(KindChunkedSyntax, "trailer section exceeds %d bytes", b.maxTrailer))
				}
				if err := b.more(); err != nil {
					return 0, err
				}
				continue
			}
			if c == '\n' {
				b.cur.Discard()
				return 0, b.fail(newError(KindChunkedSyntax, "bare LF in trailer section"))
			}
			line := b.cur.Token()
			b.trailerBytes += len(line) + 2
			if b.trailerBytes > b.maxTrailer {
				b.cur.Discard()
				return 0, b.fail(newError(KindChunkedSyntax, "trailer section exceeds %d bytes", b.maxTrailer))
			}
			if err := b.addTrailer(line); err != nil {
				b.cur.Discard()
				return 0, b.fail(err)
			}
			b.cur.Consume(1)
			b.chunk = chTrailerLF
		}
	}
}

func (b *Body) addTrailer(line []byte) error {
	i := bytes.IndexByte(line, ':')
	if i <= 0 || !validToken(line[:i]) {
		return newError(KindChunkedSyntax, "malformed trailer field")
	}
	v, ok := headerValue(line[i+1:])
	if !ok {
		return newError(KindChunkedSyntax, "invalid trailer value")
	}
	b.Trailer = append(b.Trailer, Field{Name: headerName(line[:i]), Value: v})
	return nil
}

func (b *Body) expectByte(want byte) error {
	for {
		c, ok := b.cur.Peek()
		if ok {
			if c != want {
				return b.fail(newError(KindChunkedSyntax, "expected %q in chunked framing, got %q", want, c))
			}
			b.cur.Consume(1)
			return nil
		}
		if err := b.more(); err != nil {
			return err
		}
	}
}

// more pulls bytes for the framing states.
func (b *Body) more() error {
	_, err := b.cur.Fill()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return b.fail(newError(KindFramingMismatch, "connection closed inside chunked body"))
	}
	return b.fail(transportError("read chunked body", err))
}

func parseHex(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > maxHexDigits {
		return 0, false
	}
	var n int64
	for _, c := range b {
		switch {
		case '0' <= c && c <= '9':
			c -= '0'
		case 'a' <= c && c <= 'f':
			c -= 'a' - 10
		case 'A' <= c && c <= 'F':
			c -= 'A' - 10
		default:
			return 0, false
		}
		n = n<<4 | int64(c)
	}
	return n, true
}
