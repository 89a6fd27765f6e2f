package proxy

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-node/internal/bankerr"
	"github.com/example/bank-node/internal/logging"
	"github.com/example/bank-node/internal/metrics"
)

// startPeer runs a one-line-per-connection server that answers with reply(line).
func startPeer(t *testing.T, reply func(line string) string) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				out := reply(strings.TrimRight(line, "\r\n"))
				if out != "" {
					conn.Write([]byte(out))
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a port nothing is listening on.
func closedPort(t *testing.T) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestForwardRelaysReplyVerbatim(t *testing.T) {
	var got string
	port := startPeer(t, func(line string) string {
		got = line
		return "AB 42\r\n"
	})
	client := NewClient(Config{Timeout: time.Second}, logging.NewTestLogger(t))

	reply, err := client.Forward(context.Background(), "127.0.0.1", port, "ab 12345/127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "AB 42", reply)
	assert.Equal(t, "ab 12345/127.0.0.1", got, "line is forwarded unmodified")
}

func TestForwardAcceptsReplyWithoutTerminator(t *testing.T) {
	port := startPeer(t, func(string) string { return "ER Account does not exist." })
	client := NewClient(Config{Timeout: time.Second}, logging.NewTestLogger(t))

	reply, err := client.Forward(context.Background(), "127.0.0.1", port, "AB 12345/127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "ER Account does not exist.", reply)
}

func TestForwardConnectionRefused(t *testing.T) {
	client := NewClient(Config{Timeout: time.Second}, logging.NewTestLogger(t))
	before := testutil.ToFloat64(metrics.ProxyRequests.WithLabelValues(metrics.ResultUnavailable))

	_, err := client.Forward(context.Background(), "127.0.0.1", closedPort(t), "BA")
	require.Error(t, err)
	assert.Equal(t, bankerr.ProxyUnavailable, bankerr.KindOf(err))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProxyRequests.WithLabelValues(metrics.ResultUnavailable)))
}

func TestForwardTimesOutOnSilentPeer(t *testing.T) {
	port := startPeer(t, func(string) string {
		time.Sleep(2 * time.Second)
		return ""
	})
	client := NewClient(Config{Timeout: 100 * time.Millisecond}, logging.NewTestLogger(t))

	start := time.Now()
	_, err := client.Forward(context.Background(), "127.0.0.1", port, "BA")
	require.Error(t, err)
	assert.Equal(t, bankerr.ProxyUnavailable, bankerr.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestForwardPeerClosesWithoutReply(t *testing.T) {
	port := startPeer(t, func(string) string { return "" })
	client := NewClient(Config{Timeout: time.Second}, logging.NewTestLogger(t))

	_, err := client.Forward(context.Background(), "127.0.0.1", port, "BA")
	assert.Equal(t, bankerr.ProxyUnavailable, bankerr.KindOf(err))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client := NewClient(Config{
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	}, logging.NewTestLogger(t))
	port := closedPort(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.Forward(ctx, "127.0.0.1", port, "BA")
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}

	_, err := client.Forward(ctx, "127.0.0.1", port, "BA")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "got %v", err)
	assert.Equal(t, bankerr.ProxyUnavailable, bankerr.KindOf(err))
}

func TestBreakersArePerPeer(t *testing.T) {
	client := NewClient(Config{
		Timeout:         time.Second,
		BreakerFailures: 1,
		BreakerCooldown: time.Minute,
	}, logging.NewTestLogger(t))
	ctx := context.Background()

	_, err := client.Forward(ctx, "127.0.0.1", closedPort(t), "BA")
	require.Error(t, err)

	port := startPeer(t, func(string) string { return "BA 0\n" })
	reply, err := client.Forward(ctx, "127.0.0.1", port, "BA")
	require.NoError(t, err)
	assert.Equal(t, "BA 0", reply)
}
