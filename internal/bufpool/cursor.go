package bufpool

import (
	"bytes"
	"io"
)

// maxEmptyReads bounds the number of consecutive (0, nil) reads tolerated
// from a source before giving up.
const maxEmptyReads = 100

type tail struct {
	c *Chunk
	b []byte
}

// Cursor presents a byte stream read from src as an append-only sequence
// backed by pooled chunks.
//
// Scanning works on three offsets into the active chunk: bytes before mark
// are consumed, bytes between mark and pos form the pending token, and bytes
// between pos and end are buffered but not yet scanned. When a token outgrows
// the active chunk, the chunk is retired into the tail queue with the token's
// prefix and a fresh chunk continues the stream.
//
// A Cursor is owned by a single goroutine.
type Cursor struct {
	pool *Pool
	src  io.Reader

	chunk *Chunk
	buf   []byte
	mark  int
	pos   int
	end   int

	base    int64
	tails   []tail
	tailLen int
}

// NewCursor returns a cursor reading from src. Chunks are acquired lazily.
func NewCursor(p *Pool, src io.Reader) *Cursor {
	if p == nil {
		p = Default
	}
	return &Cursor{pool: p, src: src}
}

// Pool returns the pool the cursor draws chunks from.
func (c *Cursor) Pool() *Pool { return c.pool }

// Fill pulls more bytes from the source into the active chunk. A full chunk
// is compacted in place when more than half of it is consumed, and retired
// otherwise. Fill returns the number of bytes added.
func (c *Cursor) Fill() (int, error) {
	if c.chunk == nil {
		c.acquire()
	}
	if c.end == len(c.buf) {
		if c.mark > len(c.buf)/2 {
			c.compact()
		} else {
			c.retire()
		}
	}
	for i := 0; i < maxEmptyReads; i++ {
		n, err := c.src.Read(c.buf[c.end:])
		c.end += n
		if n > 0 {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, io.ErrNoProgress
}

func (c *Cursor) acquire() {
	c.chunk = c.pool.Get()
	c.buf = c.chunk.B
	c.mark, c.pos, c.end = 0, 0, 0
}

func (c *Cursor) compact() {
	n := copy(c.buf, c.buf[c.mark:c.end])
	c.base += int64(c.mark)
	c.pos -= c.mark
	c.end = n
	c.mark = 0
}

func (c *Cursor) retire() {
	old, oldBuf := c.chunk, c.buf
	mark, pos, end := c.mark, c.pos, c.end
	c.acquire()
	c.base += int64(pos)
	c.end = copy(c.buf, oldBuf[pos:end])
	if mark < pos {
		c.tails = append(c.tails, tail{c: old, b: oldBuf[mark:pos]})
		c.tailLen += pos - mark
	} else {
		old.Release()
	}
}

func (c *Cursor) dropTails() {
	for i := range c.tails {
		c.tails[i].c.Release()
		c.tails[i] = tail{}
	}
	c.tails = c.tails[:0]
	c.tailLen = 0
}

// Buffered reports the number of unscanned bytes in the active chunk.
func (c *Cursor) Buffered() int { return c.end - c.pos }

// Pending reports the length of the current token.
func (c *Cursor) Pending() int { return c.tailLen + c.pos - c.mark }

// Offset reports the absolute stream offset of the scan position.
func (c *Cursor) Offset() int64 { return c.base + int64(c.pos) }

// Peek returns the byte at the scan position without moving it.
func (c *Cursor) Peek() (byte, bool) {
	if c.pos < c.end {
		return c.buf[c.pos], true
	}
	return 0, false
}

// Seek advances the scan position to the first buffered byte contained in
// set and returns it. When no such byte is buffered the scan position moves
// to the end of the buffered bytes and Seek reports false; scanning resumes
// there after the next Fill.
func (c *Cursor) Seek(set string) (byte, bool) {
	var i int
	if len(set) == 1 {
		i = bytes.IndexByte(c.buf[c.pos:c.end], set[0])
	} else {
		i = bytes.IndexAny(c.buf[c.pos:c.end], set)
	}
	if i < 0 {
		c.pos = c.end
		return 0, false
	}
	c.pos += i
	return c.buf[c.pos], true
}

// Token returns the bytes of the current token, the delimiter excluded.
// The result aliases the active chunk when the token lies entirely inside
// it; otherwise the queued tails and the active prefix are copied into a
// fresh slice and the queue is released. The result is only valid until the
// next call that moves the cursor, and Token must be followed by Consume or
// Discard before the next Fill.
func (c *Cursor) Token() []byte {
	if len(c.tails) == 0 {
		return c.buf[c.mark:c.pos]
	}
	tok := make([]byte, 0, c.tailLen+c.pos-c.mark)
	for _, t := range c.tails {
		tok = append(tok, t.b...)
	}
	tok = append(tok, c.buf[c.mark:c.pos]...)
	c.dropTails()
	return tok
}

// Consume skips n bytes past the scan position and starts a new token.
func (c *Cursor) Consume(n int) {
	if c.pos+n > c.end {
		panic("bufpool: consume beyond buffered bytes")
	}
	c.pos += n
	c.dropTails()
	c.mark = c.pos
}

// Discard drops the current token.
func (c *Cursor) Discard() {
	c.dropTails()
	c.mark = c.pos
}

// Read copies buffered bytes into p. With nothing buffered it reads from the
// source directly into p, so a caller bounding len(p) never pulls bytes that
// belong to a following message.
func (c *Cursor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if c.pos < c.end {
		n := copy(p, c.buf[c.pos:c.end])
		c.pos += n
		c.dropTails()
		c.mark = c.pos
		return n, nil
	}
	n, err := c.src.Read(p)
	c.base += int64(n)
	return n, err
}

// Idle returns the active chunk to the pool when nothing is buffered, so a
// connection waiting for its next request holds no chunk.
func (c *Cursor) Idle() {
	if c.chunk == nil || c.pos != c.end || len(c.tails) > 0 {
		return
	}
	c.base += int64(c.pos)
	c.chunk.Release()
	c.chunk, c.buf = nil, nil
	c.mark, c.pos, c.end = 0, 0, 0
}

// Release returns every chunk held by the cursor. It is safe to call more
// than once.
func (c *Cursor) Release() {
	c.dropTails()
	if c.chunk != nil {
		c.chunk.Release()
		c.chunk, c.buf = nil, nil
	}
	c.base += int64(c.pos)
	c.mark, c.pos, c.end = 0, 0, 0
}
