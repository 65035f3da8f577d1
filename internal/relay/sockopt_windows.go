//go:build windows

package relay

import (
	"syscall"

	"github.com/go-faster/errors"
	"golang.org/x/sys/windows"
)

func setBroadcast(rc syscall.RawConn) error {
	var sockErr error
	if err := rc.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Windows reports an ICMP port-unreachable on the next receive as
// WSAECONNRESET; connected sockets may also see WSAECONNREFUSED.
func isPortUnreachable(err error) bool {
	return errors.Is(err, windows.WSAECONNRESET) || errors.Is(err, windows.WSAECONNREFUSED)
}
