//go:build !linux

package transport

import "net"

// tuneSocket is a no-op on platforms without SO_REUSEPORT semantics worth
// relying on.
func tuneSocket(*net.UDPConn) error { return nil }
