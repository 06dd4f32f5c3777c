//go:build linux

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl marks the listening socket SO_REUSEPORT before bind so
// multiple gateway processes can share one port for zero-downtime restarts.
func reusePortControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
