// Package client runs sequential HTTP/1.x exchanges over a single
// connection using the same parser and serializer as the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/codetesla51/raw-http/http1"
	"github.com/codetesla51/raw-http/internal/bufpool"
)

var (
	// ErrNotReusable is returned by Do once an earlier exchange left the
	// connection unusable.
	ErrNotReusable = errors.New("client: connection cannot carry another request")

	// ErrClosed is returned by Do after Close.
	ErrClosed = errors.New("client: connection closed")
)

// DefaultMaxDrain bounds how much of an unread response body Do discards
// before giving up on the connection.
const DefaultMaxDrain = 256 << 10

var past = time.Unix(1, 0)

// Conn is a client connection. Exchanges run one at a time; a Conn is not
// safe for concurrent use.
type Conn struct {
	// MaxDrain bounds the unread body of the previous response that Do
	// discards. Zero means DefaultMaxDrain, negative means no bound.
	MaxDrain int64

	nc     net.Conn
	cur    *bufpool.Cursor
	ser    *http1.Serializer
	parser *http1.ResponseParser

	last     *http1.Body
	reusable bool
	closed   bool
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, nil, http1.Limits{}), nil
}

// NewConn wraps an established connection. A nil pool uses
// bufpool.Default; zero limits take the parser defaults.
func NewConn(nc net.Conn, pool *bufpool.Pool, lim http1.Limits) *Conn {
	if pool == nil {
		pool = bufpool.Default
	}
	return &Conn{
		nc:       nc,
		cur:      bufpool.NewCursor(pool, nc),
		ser:      http1.NewSerializer(pool, nc),
		parser:   http1.NewResponseParser(lim),
		reusable: true,
	}
}

// Do sends req and reads the final response head. Interim 1xx responses
// other than 101 are skipped. The response body must be read, or is
// drained by the next Do, before the connection carries another request.
func (c *Conn) Do(ctx context.Context, req *http1.Request) (*http1.Response, error) {
	if c.closed {
		return nil, ErrClosed
	}
	deadline, _ := ctx.Deadline()
	c.nc.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { c.nc.SetDeadline(past) })
	defer stop()

	c.finishLast()
	if !c.reusable {
		return nil, ErrNotReusable
	}
	if req.Version == http1.VersionUnknown {
		req.Version = http1.Version11
	}

	resp, err := c.exchange(req)
	if err != nil {
		c.reusable = false
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("client: %w", ctxErr)
		}
		return nil, err
	}
	c.last = resp.IncomingBody()
	c.reusable = req.KeepAlive && resp.KeepAlive
	return resp, nil
}

func (c *Conn) exchange(req *http1.Request) (*http1.Response, error) {
	if err := c.ser.WriteRequest(req); err != nil {
		return nil, err
	}
	for {
		c.parser.Reset(req.Method)
		resp, err := c.parser.Read(c.cur)
		if err != nil {
			return nil, err
		}
		if resp.Status >= 200 || resp.Status == 101 {
			return resp, nil
		}
	}
}

// finishLast discards whatever the caller left of the previous body.
func (c *Conn) finishLast() {
	last := c.last
	if last == nil {
		return
	}
	c.last = nil
	max := c.MaxDrain
	switch {
	case max == 0:
		max = DefaultMaxDrain
	case max < 0:
		max = 0
	}
	if err := last.Drain(max); err != nil {
		c.reusable = false
	}
}

// Close releases the buffers and closes the connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cur.Release()
	c.ser.Release()
	return c.nc.Close()
}
