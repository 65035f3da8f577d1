package relay

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/pion/transport/v3"
)

// datagramSocket owns one bound UDP socket.
//
// receive and send block; both accept a context and are aborted by closing
// the socket when the context is done. A closed socket cannot be reused.
type datagramSocket struct {
	conn  transport.UDPConn
	local Endpoint
	buf   []byte

	closeOnce sync.Once
	closeErr  error
}

func openSocket(n Net, bind Endpoint, readBufferBytes int, broadcast bool) (*datagramSocket, error) {
	if !bind.IsValid() {
		return nil, errors.Wrapf(ErrInvalidEndpoint, "bind %s", bind)
	}
	conn, err := n.ListenUDP(bind.network(), bind.UDPAddr())
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", bind)
	}

	if broadcast {
		if sc, ok := conn.(syscall.Conn); ok {
			rc, err := sc.SyscallConn()
			if err == nil {
				err = setBroadcast(rc)
			}
			if err != nil {
				_ = conn.Close()
				return nil, errors.Wrapf(err, "enable broadcast on %s", bind)
			}
		}
	}

	local := bind
	if ep, ok := endpointFromAddr(conn.LocalAddr()); ok {
		local = ep
	}

	return &datagramSocket{
		conn:  conn,
		local: local,
		buf:   make([]byte, readBufferBytes),
	}, nil
}

func (s *datagramSocket) LocalEndpoint() Endpoint {
	return s.local
}

func (s *datagramSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *datagramSocket) release() {
	_ = s.Close()
}

func (s *datagramSocket) setReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *datagramSocket) setWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

type datagram struct {
	payload []byte
	from    Endpoint
}

// receive blocks for the next datagram. The returned payload aliases the
// socket's read buffer and is only valid until the next receive.
func (s *datagramSocket) receive(ctx context.Context) (datagram, error) {
	return withCancellation(ctx, s.release, func() (datagram, error) {
		// ReadFrom rather than ReadFromUDP: vnet's ReadFromUDP converts the
		// nil address of a failed read into ErrNotUDPAddress, hiding timeouts.
		n, addr, err := s.conn.ReadFrom(s.buf)
		if err != nil {
			return datagram{}, errors.Wrapf(err, "read on %s", s.local)
		}
		from, _ := endpointFromAddr(addr)
		return datagram{payload: s.buf[:n], from: from}, nil
	})
}

// send writes payload to target and verifies the whole datagram went out.
func (s *datagramSocket) send(ctx context.Context, payload []byte, target Endpoint) error {
	_, err := withCancellation(ctx, s.release, func() (struct{}, error) {
		n, err := s.conn.WriteToUDP(payload, target.UDPAddr())
		if err != nil {
			return struct{}{}, errors.Wrapf(err, "write %s -> %s", s.local, target)
		}
		if n != len(payload) {
			return struct{}{}, errors.Wrapf(ErrLengthMismatch, "write %s -> %s: sent %d of %d bytes", s.local, target, n, len(payload))
		}
		return struct{}{}, nil
	})
	return err
}
