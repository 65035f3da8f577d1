//go:build unix

package relay

import (
	"syscall"

	"github.com/go-faster/errors"
	"golang.org/x/sys/unix"
)

func setBroadcast(rc syscall.RawConn) error {
	var sockErr error
	if err := rc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

func isPortUnreachable(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED)
}
