package relay

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/metrics"
)

// Send transmits a single datagram to target from an ephemeral socket of the
// target's address family.
//
// An ICMP port-unreachable or a send timeout is not an error: UDP gives no
// delivery guarantee, so Send returns nil. Any other socket failure is
// returned.
func (e *Engine) Send(target Endpoint, data []byte) error {
	if e.isClosed() {
		return ErrClosed
	}
	if !target.IsValid() {
		return errors.Wrapf(ErrInvalidEndpoint, "target %s", target)
	}

	sock, err := openSocket(e.cfg.Net, target.wildcard(), 0, !e.cfg.DisableBroadcast)
	if err != nil {
		e.cfg.Metrics.Inc(metrics.OneShotSendErrors)
		e.log.Errorf("socket error sending to %s: %v", target, err)
		return err
	}
	defer sock.release()

	if e.cfg.SendTimeout > 0 {
		if err := sock.setWriteDeadline(time.Now().Add(e.cfg.SendTimeout)); err != nil {
			e.cfg.Metrics.Inc(metrics.OneShotSendErrors)
			return errors.Wrap(err, "set write deadline")
		}
	}

	err = sock.send(e.life, data, target)
	switch {
	case err == nil:
		e.cfg.Metrics.Inc(metrics.OneShotSends)
		e.log.Debugf("sent %d bytes to %s", len(data), target)
		return nil
	case IsPeerUnreachable(err):
		e.log.Tracef("peer unreachable when sending to %s", target)
		return nil
	case IsTimeout(err):
		e.log.Tracef("timeout when sending to %s", target)
		return nil
	default:
		e.cfg.Metrics.Inc(metrics.OneShotSendErrors)
		e.log.Errorf("socket error sending to %s: %v", target, err)
		return err
	}
}

// Receive binds listen and returns the payload of the first datagram that
// passes filter.
//
// A zero timeout waits until a datagram arrives or ctx is done. When the
// timeout expires first, Receive returns an empty, non-nil slice and a nil
// error. Datagrams rejected by filter are discarded and do not extend the
// deadline. A nil filter accepts any sender.
func (e *Engine) Receive(ctx context.Context, listen Endpoint, timeout time.Duration, filter *Endpoint) ([]byte, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if timeout < 0 {
		return nil, errors.Errorf("negative receive timeout %s", timeout)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.life, cancel)
	defer stop()

	sock, err := openSocket(e.cfg.Net, listen, e.cfg.ReadBufferBytes, !e.cfg.DisableBroadcast)
	if err != nil {
		e.log.Errorf("socket error receiving on %s: %v", listen, err)
		return nil, err
	}
	defer sock.release()

	if timeout > 0 {
		if err := sock.setReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, errors.Wrap(err, "set read deadline")
		}
	}

	var want *Endpoint
	if filter != nil {
		f := NewEndpoint(filter.Addr, filter.Port)
		want = &f
	}

	for {
		dg, err := sock.receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrCanceled):
			return nil, err
		case IsTimeout(err):
			e.cfg.Metrics.Inc(metrics.OneShotReceiveTimeouts)
			e.log.Tracef("timeout when receiving on %s", sock.LocalEndpoint())
			return []byte{}, nil
		case IsPeerUnreachable(err):
			e.log.Tracef("peer unreachable while receiving on %s", sock.LocalEndpoint())
			continue
		default:
			e.log.Errorf("socket error receiving on %s: %v", sock.LocalEndpoint(), err)
			return nil, err
		}

		if want != nil && dg.from != *want {
			e.cfg.Metrics.Inc(metrics.OneShotReceiveFiltered)
			e.log.Tracef("discarding %d bytes from %s on %s", len(dg.payload), dg.from, sock.LocalEndpoint())
			continue
		}

		e.cfg.Metrics.Inc(metrics.OneShotReceives)
		e.log.Debugf("received %d bytes on %s from %s", len(dg.payload), sock.LocalEndpoint(), dg.from)
		return append([]byte{}, dg.payload...), nil
	}
}
