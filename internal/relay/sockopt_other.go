//go:build !unix && !windows

package relay

import "syscall"

func setBroadcast(syscall.RawConn) error { return nil }

func isPortUnreachable(error) bool { return false }
