//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocket enables SO_REUSEADDR and (where the kernel supports it)
// SO_REUSEPORT so a netsiod restart can rebind its UDP port immediately
// instead of waiting out TIME_WAIT.
func tuneSocket(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockErr = e
			return
		}
		// SO_REUSEPORT is best-effort; older kernels may reject it.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
