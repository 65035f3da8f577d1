// Command udp-test-sender sends numbered datagrams ("A0", "A1", ...) to a
// relay and waits for each echo. Pair it with udp-test-receiver.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/applog"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/relay"
)

type options struct {
	listen  relay.Endpoint
	send    relay.Endpoint
	timeout time.Duration
	count   int
	rate    int64
	wait    bool
}

func main() {
	fs := flag.NewFlagSet("udp-test-sender", flag.ContinueOnError)
	var (
		listen    = fs.String("listen", "127.0.0.1:5002", "Endpoint echoes arrive on (ip:port)")
		send      = fs.String("send", "127.0.0.1:5001", "Endpoint datagrams are sent to (ip:port)")
		timeoutMS = fs.Int("timeout-ms", 1000, "Receive timeout in milliseconds (0 = wait forever)")
		count     = fs.Int("count", 100, "Number of datagrams to send")
		rate      = fs.Int64("rate", 10, "Datagrams per second (0 = unthrottled)")
		wait      = fs.Bool("wait", true, "Wait for Enter before sending")
		logLevel  = fs.String("log-level", "debug", "Log level: trace, debug, info, warn, error")
		logFile   = fs.String("log-file", "", "Append logs to this file as well as stdout")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	opts, err := parseOptions(*listen, *send, *timeoutMS, *count, *rate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	opts.wait = *wait

	level, err := applog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, closer, err := config.NewLogger(config.Config{LogFormat: config.LogFormatText, LogLevel: level, LogFile: *logFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := relay.NewEngine(relay.Config{LoggerFactory: applog.NewLoggerFactory(logger), SendTimeout: opts.timeout})
	if err != nil {
		logger.Error("create relay", "err", err)
		os.Exit(1)
	}
	defer engine.Close()

	if opts.wait {
		fmt.Println("Press Enter to start sending")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}

	received, err := sendLoop(ctx, engine, logger, opts, ratelimit.RealClock{})
	logger.Info("sending loop finished", "sent", opts.count, "received", received)
	if err != nil {
		logger.Error("sending loop failed", "err", err)
		os.Exit(1)
	}
}

func parseOptions(listen, send string, timeoutMS, count int, rate int64) (options, error) {
	l, err := relay.ParseEndpoint(listen)
	if err != nil {
		return options{}, fmt.Errorf("-listen: %w", err)
	}
	s, err := relay.ParseEndpoint(send)
	if err != nil {
		return options{}, fmt.Errorf("-send: %w", err)
	}
	if timeoutMS < 0 {
		return options{}, fmt.Errorf("-timeout-ms must be >= 0, got %d", timeoutMS)
	}
	if count <= 0 {
		return options{}, fmt.Errorf("-count must be > 0, got %d", count)
	}
	return options{
		listen:  l,
		send:    s,
		timeout: time.Duration(timeoutMS) * time.Millisecond,
		count:   count,
		rate:    rate,
	}, nil
}

// sendLoop sends opts.count numbered datagrams and waits for an echo after
// each one. It returns how many non-empty echoes arrived; a timed out receive
// counts as a lost datagram, not an error.
func sendLoop(ctx context.Context, engine *relay.Engine, logger *slog.Logger, opts options, clock ratelimit.Clock) (int, error) {
	pacer := ratelimit.NewPacer(clock, opts.rate, 1)
	received := 0
	for i := 0; i < opts.count; i++ {
		if err := pacer.Wait(ctx); err != nil {
			return received, err
		}

		msg := fmt.Sprintf("A%d", i)
		if err := engine.Send(opts.send, []byte(msg)); err != nil {
			return received, err
		}
		logger.Info("data sent", "message", msg, "to", opts.send.String())

		data, err := engine.Receive(ctx, opts.listen, opts.timeout, nil)
		if err != nil {
			if errors.Is(err, relay.ErrCanceled) {
				return received, ctx.Err()
			}
			return received, err
		}
		if len(data) == 0 {
			logger.Warn("no echo before timeout", "message", msg, "listen", opts.listen.String())
			continue
		}
		received++
		logger.Info("received", "message", string(data), "on", opts.listen.String())
	}
	return received, nil
}
