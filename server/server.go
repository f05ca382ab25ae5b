package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codetesla51/raw-http/http1"
	"github.com/codetesla51/raw-http/internal/bufpool"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("server closed")

const (
	shutdownPollInterval = 50 * time.Millisecond
	lingerTimeout        = 500 * time.Millisecond
	maxLingerBytes       = 256 << 10
)

// Server accepts connections and runs HTTP/1.x exchanges on them, one at
// a time per connection.
type Server struct {
	config  *Config
	handler Handler
	logger  *zap.Logger
	pool    *bufpool.Pool
	access  *accessLog

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*conn]struct{}
	addr      net.Addr
	wg        sync.WaitGroup

	closing   atomic.Bool
	exchanges atomic.Int64
}

type conn struct {
	nc   net.Conn
	idle atomic.Bool
}

// New creates a server. A nil logger discards operational logs and a nil
// pool is built from cfg.
func New(cfg *Config, h Handler, logger *zap.Logger, pool *bufpool.Pool) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = NewPool(cfg)
	}
	s := &Server{
		config:    cfg,
		handler:   h,
		logger:    logger,
		pool:      pool,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*conn]struct{}),
	}
	if cfg.EnableLogging {
		s.access = newAccessLog(nil)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Exchanges reports how many requests have been answered.
func (s *Server) Exchanges() int64 { return s.exchanges.Load() }

// Addr returns the address of the most recent listener, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Listen opens a TCP listener on the configured address.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	return ln, nil
}

// ListenAndServe listens on the configured address and serves until the
// server is shut down.
func (s *Server) ListenAndServe() error {
	ln, err := s.Listen(context.Background())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it fails or the server is shut
// down. The listener is closed on return.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)
	defer ln.Close()

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else if delay *= 2; delay > time.Second {
					delay = time.Second
				}
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0
		c := &conn{nc: nc}
		if !s.trackConn(c) {
			nc.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.untrackConn(c)
			s.serve(s.ctx, c)
		}()
	}
}

// ServeConn runs exchanges on nc until the peer goes away, an exchange
// requires closing, or the server shuts down. It closes nc on return.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn) {
	c := &conn{nc: nc}
	if !s.trackConn(c) {
		nc.Close()
		return
	}
	defer s.untrackConn(c)
	s.serve(ctx, c)
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
		s.addr = ln.Addr()
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) trackConn(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) serve(ctx context.Context, c *conn) {
	nc := c.nc
	defer nc.Close()

	cur := bufpool.NewCursor(s.pool, nc)
	defer cur.Release()
	ser := http1.NewSerializer(s.pool, nc)
	defer ser.Release()
	parser := http1.NewRequestParser(s.config.Limits())

	log := s.logger.With(zap.Stringer("remote", nc.RemoteAddr()))
	log.Debug("connection opened")
	defer log.Debug("connection closed")

	for first := true; ; first = false {
		parser.Reset()
		if cur.Buffered() == 0 {
			cur.Idle()
			c.idle.Store(true)
			if s.closing.Load() {
				return
			}
			wait := s.config.IdleTimeout
			if first {
				wait = s.config.ReadTimeout
			}
			setReadDeadline(nc, wait)
			if _, err := cur.Fill(); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug("idle connection ended", zap.Error(err))
				}
				return
			}
			if !c.idle.CAS(true, false) {
				// Shutdown claimed the connection while it was idle.
				return
			}
		}
		setReadDeadline(nc, s.config.ReadTimeout)

		req, err := parser.Read(cur)
		if err != nil {
			s.rejectRequest(log, nc, ser, err)
			return
		}
		if !s.exchange(ctx, log, nc, ser, req) {
			return
		}
	}
}

// exchange answers one parsed request and reports whether the connection
// can carry another.
func (s *Server) exchange(ctx context.Context, log *zap.Logger, nc net.Conn, ser *http1.Serializer, req *http1.Request) bool {
	start := time.Now()
	body := req.IncomingBody()
	if body != nil && req.ExpectContinue {
		body.SetContinue(ser.WriteContinue)
	}
	req.Set(ConnKey, nc)
	if tc, ok := nc.(*tls.Conn); ok {
		state := tc.ConnectionState()
		req.Set(TLSKey, &state)
	}
	req = req.WithContext(ctx)

	resp, panicked := s.handle(log, req)
	if resp == nil {
		resp = notFound(s.config.StaticDir)
	}

	ex := http1.Exchange{
		Method:    req.Method,
		Version:   req.Version,
		KeepAlive: req.KeepAlive && s.config.EnableKeepAlive && !panicked && !s.closing.Load(),
	}

	// An unread body is drained while the response goes out; a response
	// streaming the request body itself is drained afterwards.
	var drained chan error
	unread := body != nil && !body.Done()
	switch {
	case !unread:
	case body.ExpectPending() && resp.Body != io.Reader(body), body.Err() != nil:
		ex.KeepAlive = false
	case s.config.MaxDrainSize > 0 && body.BodyLen() > s.config.MaxDrainSize:
		ex.KeepAlive = false
	case ex.KeepAlive && resp.Body != io.Reader(body):
		drained = make(chan error, 1)
		go func() { drained <- body.Drain(s.config.MaxDrainSize) }()
	}

	setWriteDeadline(nc, s.config.WriteTimeout)
	keepAlive, err := ser.WriteResponse(resp, ex)
	status := resp.Status
	if status == 0 {
		status = 200
	}
	if drained != nil {
		if err != nil {
			nc.SetReadDeadline(time.Now())
		}
		if derr := <-drained; derr != nil {
			log.Debug("request body not drained", zap.Error(derr))
			keepAlive = false
		}
	} else if keepAlive && unread && !body.Done() {
		if derr := body.Drain(s.config.MaxDrainSize); derr != nil {
			log.Debug("request body not drained", zap.Error(derr))
			keepAlive = false
		}
	}

	s.exchanges.Inc()
	if err != nil {
		log.Warn("writing response failed",
			zap.Stringer("method", req.Method),
			zap.String("target", req.Target.RequestURI()),
			zap.Error(err),
		)
		if ser.Written() == 0 && ser.Err() == nil && !http1.IsFatal(err) {
			status = 500
			s.writeError(ser, 500, req)
		}
		keepAlive = false
	}
	if s.access != nil {
		s.access.logRequest(req.Method.String(), req.Target.RequestURI(), status, time.Since(start))
	}
	log.Debug("exchange complete",
		zap.Stringer("method", req.Method),
		zap.String("target", req.Target.RequestURI()),
		zap.Int("status", status),
		zap.Bool("keepAlive", keepAlive),
	)

	if !keepAlive && body != nil && !body.Done() {
		lingerClose(nc)
	}
	return keepAlive
}

// handle runs the handler, turning a panic into a 500 response.
func (s *Server) handle(log *zap.Logger, req *http1.Request) (resp *http1.Response, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("PANIC recovered",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			resp, panicked = errorResponse(500), true
		}
	}()
	if s.handler == nil {
		return nil, false
	}
	return s.handler.Handle(req), false
}

// rejectRequest answers a request that could not be parsed and lets the
// connection go.
func (s *Server) rejectRequest(log *zap.Logger, nc net.Conn, ser *http1.Serializer, err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	status := http1.StatusOf(err)
	if status == 0 {
		log.Debug("reading request failed", zap.Error(err))
		return
	}
	log.Info("rejected request", zap.Int("status", status), zap.Error(err))
	setWriteDeadline(nc, s.config.WriteTimeout)
	s.writeError(ser, status, nil)
	if s.access != nil {
		s.access.logRequest("-", "-", status, 0)
	}
	lingerClose(nc)
}

// writeError sends a minimal error response that closes the connection.
func (s *Server) writeError(ser *http1.Serializer, status int, req *http1.Request) {
	ser.Discard()
	ex := http1.Exchange{Version: http1.Version11}
	if req != nil {
		ex.Method, ex.Version = req.Method, req.Version
	}
	if _, err := ser.WriteResponse(errorResponse(status), ex); err != nil {
		s.logger.Debug("error response not sent", zap.Int("status", status), zap.Error(err))
	}
}

// Shutdown stops accepting connections, closes idle ones and waits for
// active exchanges to finish. When ctx ends first the remaining
// connections are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	var err error
	s.mu.Lock()
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if s.closeIdle() {
			s.cancel()
			return err
		}
		select {
		case <-ctx.Done():
			s.closeAll()
			return multierr.Append(err, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close closes every listener and connection immediately.
func (s *Server) Close() error {
	s.closing.Store(true)
	var err error
	s.mu.Lock()
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	s.mu.Unlock()
	s.closeAll()
	return err
}

// closeIdle closes connections waiting between exchanges and reports
// whether none remain.
func (s *Server) closeIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.idle.CAS(true, false) {
			c.nc.Close()
		}
	}
	return len(s.conns) == 0
}

func (s *Server) closeAll() {
	s.cancel()
	s.mu.Lock()
	for c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func setReadDeadline(nc net.Conn, d time.Duration) {
	if d > 0 {
		nc.SetReadDeadline(time.Now().Add(d))
	} else {
		nc.SetReadDeadline(time.Time{})
	}
}

func setWriteDeadline(nc net.Conn, d time.Duration) {
	if d > 0 {
		nc.SetWriteDeadline(time.Now().Add(d))
	} else {
		nc.SetWriteDeadline(time.Time{})
	}
}

// lingerClose half-closes nc and discards what the peer still sends for a
// short while, so the response is not lost to a reset.
func lingerClose(nc net.Conn) {
	if cw, ok := nc.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	nc.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.Copy(io.Discard, io.LimitReader(nc, maxLingerBytes))
}
