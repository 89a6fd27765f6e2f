// Package proxy relays a single command line to another bank node and
// returns its single-line reply.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/example/bank-node/internal/bankerr"
	"github.com/example/bank-node/internal/metrics"
)

// Default configuration values.
const (
	DefaultTimeout         = 2 * time.Second
	DefaultBreakerFailures = 3
	DefaultBreakerCooldown = 10 * time.Second

	maxReplyLength = 64 * 1024
)

// Config tunes the client.
type Config struct {
	// Timeout bounds the whole round trip: dial, write and read.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive failures after which a
	// peer fails fast. Zero disables the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long an open breaker stays open.
	BreakerCooldown time.Duration
}

// Client opens one connection per Forward call. It is safe for concurrent use.
type Client struct {
	cfg    Config
	logger *logrus.Entry

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient creates a proxy client.
func NewClient(cfg Config, logger *logrus.Entry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}
	return &Client{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Forward sends line to address:port and returns the reply without its
// terminator. Any transport failure is a ProxyUnavailable error.
func (c *Client) Forward(ctx context.Context, address string, port int, line string) (string, error) {
	target := net.JoinHostPort(address, strconv.Itoa(port))
	start := time.Now()

	var reply string
	var err error
	if cb := c.breaker(target); cb != nil {
		var out interface{}
		out, err = cb.Execute(func() (interface{}, error) {
			return c.roundTrip(ctx, target, line)
		})
		if err == nil {
			reply = out.(string)
		}
	} else {
		reply, err = c.roundTrip(ctx, target, line)
	}
	metrics.ProxyDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		result := metrics.ResultUnavailable
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = metrics.ResultOpen
		}
		metrics.ProxyRequests.WithLabelValues(result).Inc()
		c.logger.WithFields(logrus.Fields{
			"target": target,
			"result": result,
		}).WithError(err).Warn("proxy request failed")
		return "", bankerr.Wrap(bankerr.ProxyUnavailable, err, target)
	}

	metrics.ProxyRequests.WithLabelValues(metrics.ResultOK).Inc()
	c.logger.WithField("target", target).Debugf("proxied %q -> %q", line, reply)
	return reply, nil
}

func (c *Client) roundTrip(ctx context.Context, target, line string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", err
		}
	}

	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	reader := bufio.NewReaderSize(io.LimitReader(conn, maxReplyLength), 4096)
	reply, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && reply != "") {
		return "", fmt.Errorf("read: %w", err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

// breaker returns the circuit breaker for target, or nil when disabled.
func (c *Client) breaker(target string) *gobreaker.CircuitBreaker {
	if c.cfg.BreakerFailures == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[target]
	if !ok {
		failures := c.cfg.BreakerFailures
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        target,
			MaxRequests: 1,
			Timeout:     c.cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.WithFields(logrus.Fields{
					"target": name,
					"from":   from.String(),
					"to":     to.String(),
				}).Info("peer breaker state changed")
			},
		})
		c.breakers[target] = cb
	}
	return cb
}
