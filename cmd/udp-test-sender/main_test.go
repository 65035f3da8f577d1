package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/relay"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions("127.0.0.1:5002", "127.0.0.1:5001", 250, 3, 10)
	require.NoError(t, err)
	require.Equal(t, relay.MustParseEndpoint("127.0.0.1:5002"), opts.listen)
	require.Equal(t, relay.MustParseEndpoint("127.0.0.1:5001"), opts.send)
	require.Equal(t, 250*time.Millisecond, opts.timeout)

	for _, tc := range []struct {
		name           string
		listen, send   string
		timeoutMS, cnt int
	}{
		{"bad listen", "nope", "127.0.0.1:5001", 0, 1},
		{"bad send", "127.0.0.1:5002", "127.0.0.1", 0, 1},
		{"negative timeout", "127.0.0.1:5002", "127.0.0.1:5001", -1, 1},
		{"zero count", "127.0.0.1:5002", "127.0.0.1:5001", 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseOptions(tc.listen, tc.send, tc.timeoutMS, tc.cnt, 0)
			require.Error(t, err)
		})
	}
}

// echoPeer reads datagrams on addr and keeps re-sending the latest one to
// replyTo until stopped, so an echo lands even if the sender binds late.
func echoPeer(t *testing.T, n *vnet.Net, addr, replyTo relay.Endpoint) (stop func()) {
	t.Helper()

	conn, err := n.ListenUDP("udp4", addr.UDPAddr())
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 1500)
		var last []byte
		for {
			select {
			case <-done:
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
			if n, _, err := conn.ReadFrom(buf); err == nil {
				last = append([]byte{}, buf[:n]...)
			}
			if last != nil {
				_, _ = conn.WriteTo(last, replyTo.UDPAddr())
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		_ = conn.Close()
	}
}

func TestSendLoop_CountsEchoes(t *testing.T) {
	n, err := vnet.NewNet(&vnet.NetConfig{})
	require.NoError(t, err)

	listen := relay.MustParseEndpoint("127.0.0.1:6002")
	send := relay.MustParseEndpoint("127.0.0.1:6001")
	stop := echoPeer(t, n, send, listen)
	defer stop()

	engine, err := relay.NewEngine(relay.Config{
		Net:           n,
		LoggerFactory: &logging.DefaultLoggerFactory{Writer: io.Discard},
	})
	require.NoError(t, err)
	defer engine.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := options{listen: listen, send: send, timeout: 2 * time.Second, count: 3, rate: 1000}

	received, err := sendLoop(context.Background(), engine, logger, opts, ratelimit.RealClock{})
	require.NoError(t, err)
	require.Equal(t, 3, received)
}

func TestSendLoop_TimeoutCountsAsLost(t *testing.T) {
	n, err := vnet.NewNet(&vnet.NetConfig{})
	require.NoError(t, err)

	engine, err := relay.NewEngine(relay.Config{
		Net:           n,
		LoggerFactory: &logging.DefaultLoggerFactory{Writer: io.Discard},
	})
	require.NoError(t, err)
	defer engine.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := options{
		listen:  relay.MustParseEndpoint("127.0.0.1:6012"),
		send:    relay.MustParseEndpoint("127.0.0.1:6011"),
		timeout: 20 * time.Millisecond,
		count:   2,
	}

	received, err := sendLoop(context.Background(), engine, logger, opts, ratelimit.RealClock{})
	require.NoError(t, err)
	require.Zero(t, received)
}

func TestSendLoop_StopsOnCancel(t *testing.T) {
	n, err := vnet.NewNet(&vnet.NetConfig{})
	require.NoError(t, err)

	engine, err := relay.NewEngine(relay.Config{
		Net:           n,
		LoggerFactory: &logging.DefaultLoggerFactory{Writer: io.Discard},
	})
	require.NoError(t, err)
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := options{
		listen: relay.MustParseEndpoint("127.0.0.1:6022"),
		send:   relay.MustParseEndpoint("127.0.0.1:6021"),
		count:  5,
	}

	_, err = sendLoop(ctx, engine, logger, opts, ratelimit.RealClock{})
	require.ErrorIs(t, err, context.Canceled)
}

