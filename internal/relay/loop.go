package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/pion/logging"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/metrics"
)

// LoopState is the lifecycle state of one forwarding direction.
type LoopState int32

const (
	LoopCreated LoopState = iota
	LoopListening
	LoopReceiving
	LoopForwarding
	LoopStopped
	LoopFailed
)

func (s LoopState) String() string {
	switch s {
	case LoopCreated:
		return "created"
	case LoopListening:
		return "listening"
	case LoopReceiving:
		return "receiving"
	case LoopForwarding:
		return "forwarding"
	case LoopStopped:
		return "stopped"
	case LoopFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// forwardingLoop moves every datagram arriving on its socket to a fixed target.
// Replies go out through the same socket, so the peer sees the relay's listen
// endpoint as the source.
type forwardingLoop struct {
	id        string
	sock      *datagramSocket
	target    Endpoint
	log       logging.LeveledLogger
	metrics   *metrics.Metrics
	startedAt time.Time

	state     atomic.Int32
	received  atomic.Uint64
	forwarded atomic.Uint64
	bytes     atomic.Uint64

	errMu   sync.Mutex
	lastErr error

	done chan struct{}
}

func newForwardingLoop(id string, sock *datagramSocket, target Endpoint, log logging.LeveledLogger, m *metrics.Metrics) *forwardingLoop {
	return &forwardingLoop{
		id:        id,
		sock:      sock,
		target:    target,
		log:       log,
		metrics:   m,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (l *forwardingLoop) name() string {
	return l.sock.LocalEndpoint().String() + " -> " + l.target.String()
}

func (l *forwardingLoop) State() LoopState {
	return LoopState(l.state.Load())
}

func (l *forwardingLoop) setState(s LoopState) {
	l.state.Store(int32(s))
}

func (l *forwardingLoop) err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.lastErr
}

func (l *forwardingLoop) exited() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *forwardingLoop) run(ctx context.Context) {
	defer close(l.done)
	defer l.sock.release()

	name := l.name()
	l.setState(LoopListening)
	l.log.Debugf("relay task listening: %s", name)

	err := l.forward(ctx)
	if err == nil || errors.Is(err, ErrCanceled) {
		l.setState(LoopStopped)
		l.metrics.Inc(metrics.RelayLoopsStopped)
		l.log.Tracef("relay task canceled: %s", name)
		return
	}

	l.errMu.Lock()
	l.lastErr = err
	l.errMu.Unlock()
	l.setState(LoopFailed)
	l.metrics.Inc(metrics.RelayLoopsFailed)
	l.log.Errorf("relay task %s failed: %v", name, err)
}

func (l *forwardingLoop) forward(ctx context.Context) error {
	for {
		l.setState(LoopReceiving)
		dg, err := l.sock.receive(ctx)
		if err != nil {
			if ctx.Err() == nil && IsPeerUnreachable(err) {
				// A previous forward bounced; the socket itself is still usable.
				l.metrics.Inc(metrics.RelayPeerUnreachable)
				l.log.Tracef("peer unreachable on %s: %v", l.sock.LocalEndpoint(), err)
				continue
			}
			return err
		}
		l.received.Add(1)
		l.metrics.Inc(metrics.RelayDatagramsReceived)
		l.log.Debugf("received %d bytes on %s from %s", len(dg.payload), l.sock.LocalEndpoint(), dg.from)

		l.setState(LoopForwarding)
		if err := l.sock.send(ctx, dg.payload, l.target); err != nil {
			if ctx.Err() == nil && IsPeerUnreachable(err) {
				l.metrics.Inc(metrics.RelayPeerUnreachable)
				l.log.Tracef("peer unreachable sending to %s: %v", l.target, err)
				continue
			}
			return err
		}
		l.forwarded.Add(1)
		l.bytes.Add(uint64(len(dg.payload)))
		l.metrics.Inc(metrics.RelayDatagramsForwarded)
		l.metrics.Add(metrics.RelayBytesForwarded, uint64(len(dg.payload)))
		l.log.Debugf("forwarded %d bytes to %s", len(dg.payload), l.target)
	}
}

// DirectionStatus is a point-in-time view of one forwarding direction.
type DirectionStatus struct {
	ID                 string    `json:"id"`
	Listen             string    `json:"listen"`
	Target             string    `json:"target"`
	State              string    `json:"state"`
	StartedAt          time.Time `json:"startedAt"`
	DatagramsReceived  uint64    `json:"datagramsReceived"`
	DatagramsForwarded uint64    `json:"datagramsForwarded"`
	BytesForwarded     uint64    `json:"bytesForwarded"`
	LastError          string    `json:"lastError,omitempty"`
}

func (l *forwardingLoop) status() DirectionStatus {
	st := DirectionStatus{
		ID:                 l.id,
		Listen:             l.sock.LocalEndpoint().String(),
		Target:             l.target.String(),
		State:              l.State().String(),
		StartedAt:          l.startedAt,
		DatagramsReceived:  l.received.Load(),
		DatagramsForwarded: l.forwarded.Load(),
		BytesForwarded:     l.bytes.Load(),
	}
	if err := l.err(); err != nil {
		st.LastError = err.Error()
	}
	return st
}
