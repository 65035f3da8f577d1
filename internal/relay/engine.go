package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/pion/logging"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/metrics"
)

var errStopRequested = errors.New("stop requested")

// Engine runs any number of independent forwarding directions and offers
// one-shot Send and Receive helpers.
//
// StartRelaying and StopRelaying may be called from any goroutine. Every loop
// started since the last stop shares one cancellation scope; StopRelaying
// fires it and waits for all of them to exit before the engine accepts new
// directions again.
type Engine struct {
	cfg Config
	log logging.LeveledLogger

	// life is canceled by Close and aborts in-flight one-shot operations.
	life       context.Context
	lifeCancel context.CancelFunc

	// stopMu serializes StopRelaying and Close.
	stopMu sync.Mutex

	mu       sync.Mutex
	loops    []*forwardingLoop
	ctx      context.Context
	cancel   context.CancelCauseFunc
	stopping bool
	closed   bool
}

func NewEngine(cfg Config) (*Engine, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, errors.Wrap(err, "relay config")
	}
	life, lifeCancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		log:        cfg.LoggerFactory.NewLogger("relay"),
		life:       life,
		lifeCancel: lifeCancel,
	}, nil
}

// IsRunning reports whether at least one direction has been started and not
// yet stopped.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops) > 0
}

// IsStopping reports whether a StopRelaying call is in progress.
func (e *Engine) IsStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

// StartRelaying binds listen and starts forwarding everything it receives to
// target. It returns the bound endpoint, which differs from listen when listen
// asks for port 0.
//
// Directions are independent: a failure in one does not affect the others.
func (e *Engine) StartRelaying(listen, target Endpoint) (Endpoint, error) {
	if !target.IsValid() {
		return Endpoint{}, errors.Wrapf(ErrInvalidEndpoint, "target %s", target)
	}
	id, err := newDirectionID()
	if err != nil {
		return Endpoint{}, errors.Wrap(err, "direction id")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return Endpoint{}, ErrClosed
	case e.stopping:
		return Endpoint{}, ErrStopping
	}

	sock, err := openSocket(e.cfg.Net, listen, e.cfg.ReadBufferBytes, !e.cfg.DisableBroadcast)
	if err != nil {
		e.log.Errorf("failed to start relay %s -> %s: %v", listen, target, err)
		return Endpoint{}, err
	}

	if e.ctx == nil {
		e.ctx, e.cancel = context.WithCancelCause(context.Background())
	}
	loop := newForwardingLoop(id, sock, target, e.cfg.LoggerFactory.NewLogger("relay-loop"), e.cfg.Metrics)
	e.loops = append(e.loops, loop)
	e.cfg.Metrics.Inc(metrics.RelayLoopsStarted)
	go loop.run(e.ctx)

	e.log.Infof("relay task started: %s (id=%s)", loop.name(), id)
	return sock.LocalEndpoint(), nil
}

// StopRelaying cancels every running direction and waits for them to exit.
//
// When Config.StopTimeout is set and a loop fails to exit in time, the stuck
// directions are logged and ErrStopTimeout is returned. The engine is reset
// either way so new directions can be started. A stuck direction is no longer
// tracked but keeps its socket until its loop actually exits, so starting a
// direction on the same listen endpoint fails until then.
func (e *Engine) StopRelaying() error {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()

	e.mu.Lock()
	loops := e.loops
	cancel := e.cancel
	if len(loops) == 0 && cancel == nil {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	e.mu.Unlock()

	e.log.Debugf("stopping %d relay task(s)", len(loops))
	if cancel != nil {
		cancel(errStopRequested)
	}
	err := e.join(loops)

	e.mu.Lock()
	e.loops = nil
	e.ctx = nil
	e.cancel = nil
	e.stopping = false
	e.mu.Unlock()

	if err == nil {
		e.log.Debugf("relay stopped")
	}
	return err
}

func (e *Engine) join(loops []*forwardingLoop) error {
	var timeout <-chan time.Time
	if e.cfg.StopTimeout > 0 {
		t := time.NewTimer(e.cfg.StopTimeout)
		defer t.Stop()
		timeout = t.C
	}

	for _, l := range loops {
		select {
		case <-l.done:
		case <-timeout:
			var stuck []string
			for _, l := range loops {
				if !l.exited() {
					stuck = append(stuck, l.name()+" ("+l.State().String()+")")
				}
			}
			e.cfg.Metrics.Inc(metrics.RelayStopTimeouts)
			e.log.Errorf("relay tasks did not exit within %s: %s", e.cfg.StopTimeout, strings.Join(stuck, ", "))
			return errors.Wrapf(ErrStopTimeout, "%d task(s) still running", len(stuck))
		}
	}
	return nil
}

// Directions returns a status snapshot of every direction started since the
// last stop, in start order.
func (e *Engine) Directions() []DirectionStatus {
	e.mu.Lock()
	loops := append([]*forwardingLoop(nil), e.loops...)
	e.mu.Unlock()

	out := make([]DirectionStatus, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.status())
	}
	return out
}

// Close stops all directions, aborts pending one-shot operations and releases
// the engine. It is safe to call more than once; later calls return nil.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.log.Tracef("disposing relay")
	e.lifeCancel()
	err := e.StopRelaying()
	e.log.Tracef("relay disposed")
	return err
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
