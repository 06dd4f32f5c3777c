//go:build !linux

package server

import (
	"errors"
	"syscall"
)

// reusePortControl is a stub on non-Linux platforms.
func reusePortControl(network, address string, c syscall.RawConn) error {
	return errors.New("reuse_port not supported on this platform")
}
