package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/relay"
)

func TestEchoLoop_EchoesPayloadBack(t *testing.T) {
	n, err := vnet.NewNet(&vnet.NetConfig{})
	require.NoError(t, err)

	listen := relay.MustParseEndpoint("127.0.0.1:6101")
	reply := relay.MustParseEndpoint("127.0.0.1:6102")

	peer, err := n.ListenUDP("udp4", reply.UDPAddr())
	require.NoError(t, err)
	defer peer.Close()

	engine, err := relay.NewEngine(relay.Config{
		Net:           n,
		LoggerFactory: &logging.DefaultLoggerFactory{Writer: io.Discard},
	})
	require.NoError(t, err)
	defer engine.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := options{listen: listen, send: reply, timeout: 2 * time.Second, count: 1}

	type result struct {
		echoed int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		echoed, err := echoLoop(context.Background(), engine, logger, opts)
		done <- result{echoed, err}
	}()

	// Keep sending until the echo arrives: Receive binds asynchronously.
	buf := make([]byte, 1500)
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no echo received")
		_, err := peer.WriteTo([]byte("A7"), listen.UDPAddr())
		require.NoError(t, err)
		require.NoError(t, peer.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
		nRead, _, err := peer.ReadFrom(buf)
		if err != nil {
			continue
		}
		require.Equal(t, "A7", string(buf[:nRead]))
		break
	}

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, 1, r.echoed)
	case <-time.After(3 * time.Second):
		t.Fatalf("echo loop did not finish")
	}
}

func TestEchoLoop_SkipsTimeouts(t *testing.T) {
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
		listen:  relay.MustParseEndpoint("127.0.0.1:6111"),
		send:    relay.MustParseEndpoint("127.0.0.1:6112"),
		timeout: 10 * time.Millisecond,
		count:   3,
	}

	echoed, err := echoLoop(context.Background(), engine, logger, opts)
	require.NoError(t, err)
	require.Zero(t, echoed)
}

func TestParseOptions_RejectsInvalid(t *testing.T) {
	_, err := parseOptions("127.0.0.1:6111", "127.0.0.1:6112", 0, 0)
	require.Error(t, err)
	_, err = parseOptions("127.0.0.1:6111", "bad", 0, 1)
	require.Error(t, err)

	opts, err := parseOptions("127.0.0.1:6111", "127.0.0.1:6112", 0, 5)
	require.NoError(t, err)
	require.Zero(t, opts.timeout)
	require.Equal(t, 5, opts.count)
}
