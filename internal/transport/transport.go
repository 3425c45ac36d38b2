// Package transport implements the two NetSIO wire mediums (UDP datagram
// and Altirra-framed TCP stream) behind one capability interface, so the
// connection manager and bridge never need to know which is in use.
package transport

import (
	"errors"
	"net"
	"time"

	"github.com/fujinet/netsio-bridge/internal/netsio"
)

// ErrWouldBlock is returned by Receive when no message is currently ready.
var ErrWouldBlock = errors.New("transport: would block")

// ErrTimeout is returned by RecvWithDeadline when the deadline elapses
// before a message arrives.
var ErrTimeout = errors.New("transport: timeout")

// ErrClosed is returned by the async wrapper's Send once Close has been
// called, and by Stream reads once the peer has closed the connection. UDP
// reports a closed socket as a wrapped net error instead.
var ErrClosed = errors.New("transport: closed")

// ErrNoPeer is returned by Send when no peer is configured or learned yet.
var ErrNoPeer = errors.New("transport: no peer")

// errDeadlineExceeded is an internal sentinel used by mediums to signal a
// deadline elapsed on a read; callers translate it to ErrWouldBlock or
// ErrTimeout depending on whether the deadline was "now" or caller-supplied.
var errDeadlineExceeded = errors.New("transport: deadline exceeded")

// Transport is the capability every medium implements: send a message to a
// peer, check for readiness without blocking, and receive with either a
// non-blocking or a deadline-bounded read.
type Transport interface {
	// Send transmits m to peer. peer may be nil on stream mode, where the
	// connection has exactly one endpoint (the dialed/accepted conn).
	Send(m netsio.Message, peer net.Addr) error

	// Poll reports whether a Receive call is likely to return data
	// immediately, without consuming it.
	Poll() bool

	// Receive returns the next available message without blocking,
	// returning ErrWouldBlock if none is ready.
	Receive() (netsio.Message, net.Addr, error)

	// RecvWithDeadline blocks until a message arrives or the deadline
	// passes, returning ErrTimeout in the latter case.
	RecvWithDeadline(deadline time.Time) (netsio.Message, net.Addr, error)

	// Close releases the underlying socket.
	Close() error
}
