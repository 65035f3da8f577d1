package relay

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
	"github.com/pion/transport/v3/vnet"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/metrics"
)

// logBuffer is a goroutine-safe sink for pion loggers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLoggerFactory(w *logBuffer) logging.LoggerFactory {
	return &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: logging.LogLevelTrace,
		ScopeLevels:     map[string]logging.LogLevel{},
	}
}

type testEngine struct {
	*Engine
	logs    *logBuffer
	metrics *metrics.Metrics
}

func newTestEngine(t *testing.T, n Net, mutate ...func(*Config)) *testEngine {
	t.Helper()

	logs := &logBuffer{}
	m := metrics.New()
	cfg := DefaultConfig()
	cfg.Net = n
	cfg.LoggerFactory = newTestLoggerFactory(logs)
	cfg.Metrics = m
	for _, f := range mutate {
		f(&cfg)
	}

	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return &testEngine{Engine: e, logs: logs, metrics: m}
}

func newStdNet(t *testing.T) Net {
	t.Helper()
	n, err := stdnet.NewNet()
	require.NoError(t, err)
	return n
}

func newVNet(t *testing.T) *vnet.Net {
	t.Helper()
	n, err := vnet.NewNet(&vnet.NetConfig{})
	require.NoError(t, err)
	return n
}

// listenLoopback binds a plain socket on an ephemeral IPv4 loopback port.
func listenLoopback(t *testing.T) (*net.UDPConn, Endpoint) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	ep, ok := EndpointFromUDPAddr(conn.LocalAddr().(*net.UDPAddr))
	require.True(t, ok)
	return conn, ep
}

func readWithin(t *testing.T, conn transport.UDPConn, d time.Duration) ([]byte, Endpoint) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 64*1024)
	n, from, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	ep, ok := endpointFromAddr(from)
	require.True(t, ok)
	return buf[:n], ep
}

// expectSilence asserts nothing arrives on conn for d.
func expectSilence(t *testing.T, conn transport.UDPConn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 64*1024)
	n, from, err := conn.ReadFrom(buf)
	require.Error(t, err, "unexpected %d bytes from %v", n, from)
	require.True(t, IsTimeout(err), "unexpected error: %v", err)
}

// sendUntil resends payload from conn to target every interval until done is
// closed. It bridges the gap between starting a receiver and it binding.
func sendUntil(conn transport.UDPConn, target Endpoint, payload []byte, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, _ = conn.WriteToUDP(payload, target.UDPAddr())
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// failingNet refuses to open sockets.
type failingNet struct {
	err error
}

func (n failingNet) ListenUDP(string, *net.UDPAddr) (transport.UDPConn, error) {
	return nil, n.err
}

// wrappingNet delegates to base and lets a test replace the returned conns.
type wrappingNet struct {
	base Net

	mu    sync.Mutex
	calls int
	wrap  func(call int, conn transport.UDPConn) transport.UDPConn
}

func (n *wrappingNet) ListenUDP(network string, laddr *net.UDPAddr) (transport.UDPConn, error) {
	conn, err := n.base.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	call := n.calls
	n.calls++
	n.mu.Unlock()
	return n.wrap(call, conn), nil
}

// scriptedConn returns queued errors from ReadFrom before delegating to the
// embedded conn.
type scriptedConn struct {
	transport.UDPConn

	mu       sync.Mutex
	readErrs []error
}

func (c *scriptedConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.mu.Lock()
	if len(c.readErrs) > 0 {
		err := c.readErrs[0]
		c.readErrs = c.readErrs[1:]
		c.mu.Unlock()
		return 0, nil, err
	}
	c.mu.Unlock()
	return c.UDPConn.ReadFrom(b)
}

// stuckConn ignores Close while a read is parked, simulating a socket whose
// blocking call cannot be interrupted.
type stuckConn struct {
	transport.UDPConn
	unblock chan struct{}
}

func (c *stuckConn) ReadFrom([]byte) (int, net.Addr, error) {
	<-c.unblock
	return 0, nil, net.ErrClosed
}

// holdingConn blocks reads and Close until unblock is closed, simulating a
// socket that stays bound after the engine gave up waiting for it.
type holdingConn struct {
	transport.UDPConn
	unblock chan struct{}
}

func (c *holdingConn) ReadFrom([]byte) (int, net.Addr, error) {
	<-c.unblock
	return 0, nil, net.ErrClosed
}

func (c *holdingConn) Close() error {
	<-c.unblock
	return c.UDPConn.Close()
}
