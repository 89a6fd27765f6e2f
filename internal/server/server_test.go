package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-node/internal/logging"
	"github.com/example/bank-node/internal/metrics"
)

type recordingHandler struct {
	mu    sync.Mutex
	lines []string
	delay time.Duration
}

func (h *recordingHandler) Handle(_ context.Context, line string) string {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.lines = append(h.lines, line)
	h.mu.Unlock()
	return "OK " + strings.ToUpper(line)
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

func startServer(t *testing.T, h Handler, cfg Config) *Server {
	srv := New(h, cfg, logging.NewTestLogger(t))
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestRepliesInOrder(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, h, Config{IdleTimeout: time.Second})
	conn, r := dial(t, srv)

	_, err := io.WriteString(conn, "bc\r\n  ba  \nbn\n")
	require.NoError(t, err)

	assert.Equal(t, "OK BC\n", readLine(t, r))
	assert.Equal(t, "OK BA\n", readLine(t, r))
	assert.Equal(t, "OK BN\n", readLine(t, r))
	assert.Equal(t, []string{"bc", "ba", "bn"}, h.seen())
}

func TestBlankLinesAreIgnored(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, h, Config{IdleTimeout: time.Second})
	conn, r := dial(t, srv)

	_, err := io.WriteString(conn, "\n \r\n\t\nbc\n")
	require.NoError(t, err)

	assert.Equal(t, "OK BC\n", readLine(t, r))
	assert.Equal(t, []string{"bc"}, h.seen())
}

func TestIdleConnectionIsClosed(t *testing.T) {
	srv := startServer(t, &recordingHandler{}, Config{IdleTimeout: 100 * time.Millisecond})
	before := testutil.ToFloat64(metrics.ConnectionTimeouts)
	conn, r := dial(t, srv)

	_, err := io.WriteString(conn, "bc\n")
	require.NoError(t, err)
	assert.Equal(t, "OK BC\n", readLine(t, r))

	_, err = r.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ConnectionTimeouts) >= before+1
	}, time.Second, 10*time.Millisecond)
}

func TestOverlongLineClosesConnection(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, h, Config{IdleTimeout: time.Second})
	conn, r := dial(t, srv)

	go io.WriteString(conn, strings.Repeat("a", MaxLineLength+10)+"\n")

	_, err := r.ReadString('\n')
	assert.Error(t, err)
	assert.Empty(t, h.seen())
}

func TestConnectionsAreIndependent(t *testing.T) {
	h := &recordingHandler{delay: 10 * time.Millisecond}
	srv := startServer(t, h, Config{IdleTimeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		conn, r := dial(t, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				if _, err := io.WriteString(conn, "bn\n"); err != nil {
					return
				}
				line, err := r.ReadString('\n')
				assert.NoError(t, err)
				assert.Equal(t, "OK BN\n", line)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, h.seen(), 15)
}

func TestThrottledConnectionStillAnswers(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, h, Config{IdleTimeout: time.Second, CommandRate: 20, CommandBurst: 1})
	conn, r := dial(t, srv)

	start := time.Now()
	_, err := io.WriteString(conn, "a\nb\nc\n")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		readLine(t, r)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestCloseDropsLiveConnections(t *testing.T) {
	srv := New(&recordingHandler{}, Config{IdleTimeout: time.Minute}, logging.NewTestLogger(t))
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	addr := srv.Addr().String()
	conn, r := dial(t, srv)

	_, err := io.WriteString(conn, "bc\n")
	require.NoError(t, err)
	readLine(t, r)

	require.NoError(t, srv.Close())
	_, err = r.ReadString('\n')
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
	assert.NoError(t, srv.Close(), "second close is a no-op")
}
