// Command udp-test-receiver waits for datagrams from a relay and echoes each
// one back. Pair it with udp-test-sender.
package main

import (
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
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/relay"
)

type options struct {
	listen  relay.Endpoint
	send    relay.Endpoint
	timeout time.Duration
	count   int
}

func main() {
	fs := flag.NewFlagSet("udp-test-receiver", flag.ContinueOnError)
	var (
		listen    = fs.String("listen", "127.0.0.1:5004", "Endpoint datagrams arrive on (ip:port)")
		send      = fs.String("send", "127.0.0.1:5003", "Endpoint echoes are sent to (ip:port)")
		timeoutMS = fs.Int("timeout-ms", 0, "Receive timeout in milliseconds (0 = wait forever)")
		count     = fs.Int("count", 100, "Number of datagrams to echo")
		logLevel  = fs.String("log-level", "debug", "Log level: trace, debug, info, warn, error")
		logFile   = fs.String("log-file", "", "Append logs to this file as well as stdout")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	opts, err := parseOptions(*listen, *send, *timeoutMS, *count)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

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

	logger.Info("waiting to receive data", "listen", opts.listen.String())
	echoed, err := echoLoop(ctx, engine, logger, opts)
	logger.Info("receiving loop finished", "echoed", echoed)
	if err != nil {
		logger.Error("receiving loop failed", "err", err)
		os.Exit(1)
	}
}

func parseOptions(listen, send string, timeoutMS, count int) (options, error) {
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
	return options{listen: l, send: s, timeout: time.Duration(timeoutMS) * time.Millisecond, count: count}, nil
}

// echoLoop receives opts.count datagrams and sends each payload back to
// opts.send. Timed out receives are skipped and still count toward opts.count.
func echoLoop(ctx context.Context, engine *relay.Engine, logger *slog.Logger, opts options) (int, error) {
	echoed := 0
	for i := 0; i < opts.count; i++ {
		data, err := engine.Receive(ctx, opts.listen, opts.timeout, nil)
		if err != nil {
			if errors.Is(err, relay.ErrCanceled) {
				return echoed, ctx.Err()
			}
			return echoed, err
		}
		if len(data) == 0 {
			logger.Warn("nothing received before timeout", "listen", opts.listen.String())
			continue
		}
		logger.Info("received", "message", string(data), "on", opts.listen.String())

		if err := engine.Send(opts.send, data); err != nil {
			return echoed, err
		}
		echoed++
		logger.Info("data sent", "message", string(data), "to", opts.send.String())
	}
	return echoed, nil
}
