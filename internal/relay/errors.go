package relay

import (
	"net"
	"os"

	"github.com/go-faster/errors"
)

var (
	// ErrCanceled is returned by operations aborted because the engine's
	// cancellation signal fired. Loops treat it as a clean exit.
	ErrCanceled = errors.New("relay canceled")
	// ErrLengthMismatch signals that the OS reported fewer bytes sent than the
	// payload length. UDP sends are all-or-nothing, so this indicates a
	// transport bug rather than a network condition.
	ErrLengthMismatch = errors.New("sent length does not match payload length")
	ErrStopping       = errors.New("relay is stopping")
	ErrClosed         = errors.New("relay closed")
	// ErrStopTimeout is returned by StopRelaying when at least one loop did not
	// exit within Config.StopTimeout.
	ErrStopTimeout     = errors.New("timed out waiting for relay loops to exit")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// IsPeerUnreachable reports whether err is the socket error surfaced when an
// ICMP port-unreachable comes back for a previous datagram. For UDP this is an
// expected outcome rather than a failure.
func IsPeerUnreachable(err error) bool {
	return err != nil && isPortUnreachable(err)
}

// IsTimeout reports whether err is a socket deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
