//go:build windows

package main

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"golang.org/x/sys/windows/svc"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/config"
)

// runAsService hands the process to the service control manager when it was
// launched as a Windows service. It reports false for console launches.
func runAsService(cfg config.Config) (bool, error) {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false, errors.Wrap(err, "detect windows service")
	}
	if !isService {
		return false, nil
	}

	// There is no console to read from under the SCM.
	cfg.Interactive = false
	opts := defaultHostOptions()
	opts.stdin = eofReader{}

	if err := svc.Run(cfg.ServiceName, &relayService{cfg: cfg, opts: opts}); err != nil {
		return true, errors.Wrapf(err, "run service %s", cfg.ServiceName)
	}
	return true, nil
}

type relayService struct {
	cfg  config.Config
	opts hostOptions
}

func (s *relayService) Execute(_ []string, requests <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown

	status <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, s.cfg, s.opts)
	}()

	status <- svc.Status{State: svc.Running, Accepts: accepted}

	for {
		select {
		case err := <-done:
			status <- svc.Status{State: svc.StopPending}
			return exitCode(err)
		case req := <-requests:
			switch req.Cmd {
			case svc.Interrogate:
				status <- req.CurrentStatus
			case svc.Stop, svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				cancel()
				return exitCode(<-done)
			}
		}
	}
}

// exitCode maps run's result to a service-specific exit code.
func exitCode(err error) (bool, uint32) {
	if err != nil {
		return true, 1
	}
	return false, 0
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
