package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/pion/transport/v3/test"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/metrics"
)

func TestSendReceive_VirtualNet(t *testing.T) {
	defer test.CheckRoutines(t)()

	vn := newVNet(t)
	e := newTestEngine(t, vn)
	defer e.Close()

	listen := MustParseEndpoint("127.0.0.1:9002")
	done := make(chan struct{})
	sent := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			if err := e.Send(listen, []byte("hello")); err != nil {
				sent <- err
				return
			}
			select {
			case <-done:
				sent <- nil
				return
			case <-ticker.C:
			}
		}
	}()

	got, err := e.Receive(context.Background(), listen, 2*time.Second, nil)
	close(done)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	require.NoError(t, <-sent)
	require.NotZero(t, e.metrics.Get(metrics.OneShotSends))
	require.Equal(t, uint64(1), e.metrics.Get(metrics.OneShotReceives))
}

func TestReceive_TimeoutReturnsEmpty(t *testing.T) {
	for _, tc := range []struct {
		name   string
		newNet func(t *testing.T) Net
	}{
		{"stdnet", newStdNet},
		{"vnet", func(t *testing.T) Net { return newVNet(t) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, tc.newNet(t))
			defer e.Close()

			start := time.Now()
			got, err := e.Receive(context.Background(), MustParseEndpoint("127.0.0.1:0"), 100*time.Millisecond, nil)
			elapsed := time.Since(start)

			require.NoError(t, err)
			require.NotNil(t, got)
			require.Empty(t, got)
			require.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
			require.Less(t, elapsed, 2*time.Second)
			require.Equal(t, uint64(1), e.metrics.Get(metrics.OneShotReceiveTimeouts))
		})
	}
}

func TestReceive_FilterDiscardsOtherSenders(t *testing.T) {
	vn := newVNet(t)
	e := newTestEngine(t, vn)
	defer e.Close()

	wrong, err := vn.ListenUDP("udp4", MustParseEndpoint("127.0.0.1:7001").UDPAddr())
	require.NoError(t, err)
	defer wrong.Close()
	right, err := vn.ListenUDP("udp4", MustParseEndpoint("127.0.0.1:7002").UDPAddr())
	require.NoError(t, err)
	defer right.Close()

	listen := MustParseEndpoint("127.0.0.1:9003")
	done := make(chan struct{})
	defer close(done)
	go sendUntil(wrong, listen, []byte("wrong"), 5*time.Millisecond, done)

	want := MustParseEndpoint("127.0.0.1:7002")
	got, err := e.Receive(context.Background(), listen, 150*time.Millisecond, &want)
	require.NoError(t, err)
	require.Empty(t, got, "datagram from a filtered sender leaked through")
	require.NotZero(t, e.metrics.Get(metrics.OneShotReceiveFiltered))

	go sendUntil(right, listen, []byte("right"), 5*time.Millisecond, done)
	got, err = e.Receive(context.Background(), listen, 2*time.Second, &want)
	require.NoError(t, err)
	require.Equal(t, "right", string(got))
}

func TestReceive_ReturnsCopyOfPayload(t *testing.T) {
	vn := newVNet(t)
	e := newTestEngine(t, vn)
	defer e.Close()

	sender, err := vn.ListenUDP("udp4", MustParseEndpoint("127.0.0.1:7003").UDPAddr())
	require.NoError(t, err)
	defer sender.Close()

	listen := MustParseEndpoint("127.0.0.1:9004")
	done := make(chan struct{})
	defer close(done)
	go sendUntil(sender, listen, []byte("first"), 5*time.Millisecond, done)

	first, err := e.Receive(context.Background(), listen, 2*time.Second, nil)
	require.NoError(t, err)
	second, err := e.Receive(context.Background(), listen, 2*time.Second, nil)
	require.NoError(t, err)

	first[0] = 'X'
	require.Equal(t, "first", string(second))
}

func TestReceive_ContextCancelAborts(t *testing.T) {
	defer test.CheckRoutines(t)()

	e := newTestEngine(t, newStdNet(t))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := e.Receive(ctx, MustParseEndpoint("127.0.0.1:0"), 0, nil)
	require.ErrorIs(t, err, ErrCanceled)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestReceive_CloseAbortsPendingReceive(t *testing.T) {
	e := newTestEngine(t, newStdNet(t))

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Receive(context.Background(), MustParseEndpoint("127.0.0.1:0"), 0, nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after Close")
	}
}

func TestReceive_BindConflictFails(t *testing.T) {
	busy, busyEP := listenLoopback(t)
	defer busy.Close()

	e := newTestEngine(t, newStdNet(t))
	defer e.Close()

	_, err := e.Receive(context.Background(), busyEP, 10*time.Millisecond, nil)
	require.Error(t, err)
	require.Contains(t, e.logs.String(), "socket error receiving")
}

func TestReceive_NegativeTimeout(t *testing.T) {
	e := newTestEngine(t, newVNet(t))
	defer e.Close()

	_, err := e.Receive(context.Background(), MustParseEndpoint("127.0.0.1:9005"), -time.Second, nil)
	require.Error(t, err)
}

func TestSend_ToClosedPortReturnsNil(t *testing.T) {
	conn, target := listenLoopback(t)
	require.NoError(t, conn.Close())

	e := newTestEngine(t, newStdNet(t))
	defer e.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Send(target, []byte("nobody home")))
	}
}

func TestSend_DeliversToRealSocket(t *testing.T) {
	server, target := listenLoopback(t)
	defer server.Close()

	e := newTestEngine(t, newStdNet(t), func(c *Config) { c.SendTimeout = time.Second })
	defer e.Close()

	require.NoError(t, e.Send(target, []byte("direct")))
	payload, _ := readWithin(t, server, 2*time.Second)
	require.Equal(t, "direct", string(payload))
}

func TestSend_InvalidEndpoint(t *testing.T) {
	e := newTestEngine(t, newStdNet(t))
	defer e.Close()

	require.ErrorIs(t, e.Send(Endpoint{Port: 9002}, []byte("x")), ErrInvalidEndpoint)
}

func TestSend_SocketFailureIsReturned(t *testing.T) {
	injected := &net.OpError{Op: "listen", Net: "udp4", Err: errors.New("no buffer space available")}
	e := newTestEngine(t, failingNet{err: injected})
	defer e.Close()

	err := e.Send(MustParseEndpoint("127.0.0.1:9002"), []byte("x"))
	require.Error(t, err)
	require.ErrorIs(t, err, injected)
	require.Equal(t, uint64(1), e.metrics.Get(metrics.OneShotSendErrors))
	require.Contains(t, e.logs.String(), "socket error sending")
}

func TestSend_AddressFamilyMismatchFails(t *testing.T) {
	e := newTestEngine(t, newVNet(t))
	defer e.Close()

	// vnet only speaks IPv4, so binding the IPv6 wildcard fails.
	require.Error(t, e.Send(MustParseEndpoint("[::1]:9002"), []byte("x")))
}
