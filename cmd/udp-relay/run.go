package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/go-faster/errors"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/applog"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/relay"
)

type hostOptions struct {
	stdin  io.Reader
	stdout io.Writer
	// net overrides the relay socket factory. Nil uses real sockets.
	net relay.Net
	// onReady is called once every direction is bound and the admin server
	// (if any) is listening.
	onReady func(bound []relay.Endpoint, admin net.Addr)
}

func defaultHostOptions() hostOptions {
	return hostOptions{stdin: os.Stdin, stdout: os.Stdout}
}

// run starts every configured direction and the admin server, then blocks
// until ctx is done, the admin server fails, or (in interactive mode) a line
// is read from stdin. It stops the relay before returning.
func run(ctx context.Context, cfg config.Config, opts hostOptions) error {
	logs := applog.NewBroadcaster()
	logsHandler, err := config.NewLogHandler(logs, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, logCloser, err := config.NewLoggerTo(opts.stdout, cfg, logsHandler)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.Info("udp relay started",
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"timeout", cfg.Timeout,
		"stop_timeout", cfg.StopTimeout,
		"admin_listen_addr", cfg.AdminListenAddr,
	)

	m := metrics.New()
	engine, err := relay.NewEngine(relay.Config{
		Net:           opts.net,
		LoggerFactory: applog.NewLoggerFactory(logger),
		Metrics:       m,
		SendTimeout:   cfg.Timeout,
		StopTimeout:   cfg.StopTimeout,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	var bound []relay.Endpoint
	for _, d := range cfg.Directions() {
		ep, err := engine.StartRelaying(d.Listen, d.Target)
		if err != nil {
			if stopErr := engine.StopRelaying(); stopErr != nil {
				logger.Error("failed to stop relay after start failure", "err", stopErr)
			}
			return errors.Wrapf(err, "start %s", d)
		}
		logger.Debug("direction bound", "listen", ep.String(), "target", d.Target.String())
		bound = append(bound, ep)
	}
	logger.Info("relaying of UDP packets started", "directions", len(bound))

	var (
		srv     *httpserver.Server
		srvErr  = make(chan error, 1)
		adminLn net.Addr
	)
	if cfg.AdminListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.AdminListenAddr)
		if err != nil {
			_ = engine.StopRelaying()
			return errors.Wrap(err, "admin listen")
		}
		adminLn = ln.Addr()

		commit, built := resolveBuildInfo(buildCommit, buildTime)
		srv = httpserver.New(cfg.AdminListenAddr, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Deps{
			Relay:   engine,
			Metrics: m,
			Logs:    logs,
		})
		go func() {
			srvErr <- srv.Serve(ln)
		}()
	}

	stopRequested := make(chan struct{})
	if cfg.Interactive {
		fmt.Fprintln(opts.stdout, "Press Enter to stop relaying")
		go func() {
			_, _ = bufio.NewReader(opts.stdin).ReadString('\n')
			close(stopRequested)
		}()
	}

	if opts.onReady != nil {
		opts.onReady(bound, adminLn)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-stopRequested:
		logger.Info("stop requested from console")
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			runErr = err
		}
		srv = nil
	}

	if err := engine.StopRelaying(); err != nil {
		logger.Error("relay did not stop cleanly", "err", err)
		if runErr == nil {
			runErr = err
		}
	} else {
		logger.Info("relaying of UDP packets stopped")
	}
	if err := engine.Close(); err != nil {
		logger.Error("relay dispose failed", "err", err)
	}
	logger.Debug("relay disposed")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
		}
		if err := <-srvErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited after shutdown", "err", err)
		}
	}

	return runErr
}
