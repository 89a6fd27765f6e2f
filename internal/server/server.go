// Package server accepts client connections and feeds their lines to a
// Handler, one reply line per request line.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/example/bank-node/internal/metrics"
)

// MaxLineLength bounds one request line; longer lines close the connection.
const MaxLineLength = 64 * 1024

// DefaultIdleTimeout applies when Config.IdleTimeout is zero.
const DefaultIdleTimeout = 5 * time.Second

// Handler answers one request line.
type Handler interface {
	Handle(ctx context.Context, line string) string
}

// Config tunes connection handling.
type Config struct {
	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration
	// CommandRate limits commands per second on one connection; zero
	// disables throttling.
	CommandRate  float64
	CommandBurst int
}

type connection struct {
	id     string
	conn   net.Conn
	logger *logrus.Entry
}

// Server is the bank's TCP front end.
type Server struct {
	handler Handler
	cfg     Config
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	listener net.Listener
	conns    map[string]*connection
	connMu   sync.Mutex
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// New creates a Server.
func New(handler Handler, cfg Config, logger *logrus.Entry) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*connection),
	}
}

// Listen binds address and starts accepting in the background.
func (s *Server) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.Serve(ln)
	return nil
}

// Serve starts accepting on ln in the background. The server owns ln.
func (s *Server) Serve(ln net.Listener) {
	s.listener = ln
	s.logger.WithField("addr", ln.Addr().String()).Info("listening")
	s.wg.Add(1)
	go s.acceptLoop()
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, drops live connections and waits for every
// connection goroutine to return.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.connMu.Lock()
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.WithError(err).Warn("accept error")
				time.Sleep(10 * time.Millisecond)
				continue
			}
			s.logger.WithError(err).Error("accept failed, listener stopped")
			return
		}

		c := &connection{id: uuid.New().String(), conn: conn}
		c.logger = s.logger.WithFields(logrus.Fields{
			"conn":   c.id,
			"remote": conn.RemoteAddr().String(),
		})

		s.connMu.Lock()
		if s.closed.Load() {
			s.connMu.Unlock()
			conn.Close()
			return
		}
		s.conns[c.id] = c
		s.wg.Add(1)
		s.connMu.Unlock()

		go s.handleConnection(c)
	}
}

func (s *Server) handleConnection(c *connection) {
	defer s.wg.Done()
	defer func() {
		c.conn.Close()
		s.connMu.Lock()
		delete(s.conns, c.id)
		s.connMu.Unlock()
		metrics.ConnectionsActive.Dec()
		c.logger.Info("client disconnected")
	}()

	metrics.ConnectionsActive.Inc()
	metrics.ConnectionsTotal.Inc()
	c.logger.Info("client connected")

	var limiter *rate.Limiter
	if s.cfg.CommandRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.CommandRate), s.cfg.CommandBurst)
	}

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), MaxLineLength)
	w := bufio.NewWriter(c.conn)

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		if !scanner.Scan() {
			s.readFailed(c, scanner.Err())
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.logger.WithField("line", line).Info("IN")

		if limiter != nil {
			if err := limiter.Wait(s.ctx); err != nil {
				return
			}
		}

		reply := s.handler.Handle(s.ctx, line)
		c.logger.WithField("line", reply).Info("OUT")

		if _, err := w.WriteString(reply + "\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			c.logger.WithError(err).Debug("write failed")
			return
		}
	}
}

func (s *Server) readFailed(c *connection, err error) {
	var ne net.Error
	switch {
	case err == nil, s.closed.Load():
	case errors.As(err, &ne) && ne.Timeout():
		metrics.ConnectionTimeouts.Inc()
		c.logger.Info("client timeout")
	case errors.Is(err, bufio.ErrTooLong):
		c.logger.Warn("line too long")
	default:
		c.logger.WithError(err).Debug("read failed")
	}
}
