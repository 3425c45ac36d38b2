package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/fujinet/netsio-bridge/internal/metrics"
	"github.com/fujinet/netsio-bridge/internal/netsio"
)

// defaultDatagramBuf is sized well above MaxPayload + header so a single
// ReadFromUDP never truncates a legal message.
const defaultDatagramBuf = netsio.MaxPayload + 64

// pending holds one already-read-off-the-wire message, used so Poll can
// report readiness without discarding the datagram it peeked at.
type pending struct {
	msg  netsio.Message
	from net.Addr
}

// UDP implements Transport over a single UDP socket. One NetSIO message per
// datagram. If preconfigured is nil, the peer is learned from the first
// incoming datagram; subsequent address changes are logged rather than
// rejected, since NAT rebinding and emulator restarts both look the same
// on the wire.
type UDP struct {
	conn          *net.UDPConn
	codec         netsio.Codec
	preconfigured net.Addr
	learnedPeer   net.Addr
	logger        logFunc
	queued        []pending
}

// logFunc decouples this package from a concrete logger type in tests; the
// production constructor wires it to logging.L().
type logFunc func(msg string, args ...any)

// NewUDP opens a UDP socket bound to localAddr. If peer is non-nil, Send
// uses it whenever its own peer argument is nil, and the transport never
// relearns from incoming traffic.
func NewUDP(localAddr string, peer net.Addr, logger logFunc) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	if err := tuneSocket(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tune udp socket: %w", err)
	}
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &UDP{conn: conn, preconfigured: peer, logger: logger}, nil
}

func (u *UDP) Send(m netsio.Message, peer net.Addr) error {
	if peer == nil {
		peer = u.effectivePeer()
	}
	if peer == nil {
		return fmt.Errorf("udp send: %w", ErrNoPeer)
	}
	buf, err := u.codec.EncodeDatagram(m)
	if err != nil {
		return fmt.Errorf("udp send: %w", err)
	}
	udpAddr, ok := peer.(*net.UDPAddr)
	if !ok {
		resolved, rerr := net.ResolveUDPAddr("udp", peer.String())
		if rerr != nil {
			return fmt.Errorf("udp send: resolve peer: %w", rerr)
		}
		udpAddr = resolved
	}
	if _, err := u.conn.WriteToUDP(buf, udpAddr); err != nil {
		return fmt.Errorf("udp send: %w", err)
	}
	metrics.IncUDPTx()
	return nil
}

func (u *UDP) effectivePeer() net.Addr {
	if u.preconfigured != nil {
		return u.preconfigured
	}
	return u.learnedPeer
}

// Poll opportunistically drains the socket into the queue and reports
// whether at least one message is now waiting, without ever discarding one.
func (u *UDP) Poll() bool {
	if len(u.queued) > 0 {
		return true
	}
	m, from, err := u.readOne(time.Now())
	if err != nil {
		return false
	}
	u.queued = append(u.queued, pending{msg: m, from: from})
	return true
}

func (u *UDP) Receive() (netsio.Message, net.Addr, error) {
	if len(u.queued) > 0 {
		p := u.queued[0]
		u.queued = u.queued[1:]
		return p.msg, p.from, nil
	}
	m, from, err := u.readOne(time.Now())
	if err != nil {
		if err == errDeadlineExceeded {
			return netsio.Message{}, nil, ErrWouldBlock
		}
		return netsio.Message{}, nil, err
	}
	return m, from, nil
}

func (u *UDP) RecvWithDeadline(deadline time.Time) (netsio.Message, net.Addr, error) {
	if len(u.queued) > 0 {
		p := u.queued[0]
		u.queued = u.queued[1:]
		return p.msg, p.from, nil
	}
	m, from, err := u.readOne(deadline)
	if err != nil {
		if err == errDeadlineExceeded {
			return netsio.Message{}, nil, ErrTimeout
		}
		return netsio.Message{}, nil, err
	}
	return m, from, nil
}

// readOne performs exactly one decoded read with the given deadline,
// returning errDeadlineExceeded (not wrapped) so callers can translate it
// to either ErrWouldBlock or ErrTimeout depending on call context.
func (u *UDP) readOne(deadline time.Time) (netsio.Message, net.Addr, error) {
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return netsio.Message{}, nil, fmt.Errorf("udp recv: %w", err)
	}
	buf := make([]byte, defaultDatagramBuf)
	n, from, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return netsio.Message{}, nil, errDeadlineExceeded
		}
		return netsio.Message{}, nil, fmt.Errorf("udp recv: %w", err)
	}
	m, err := u.codec.DecodeDatagram(buf[:n])
	if err != nil {
		metrics.IncMalformed()
		return netsio.Message{}, nil, fmt.Errorf("udp recv: %w", err)
	}
	metrics.IncUDPRx()
	u.notePeer(from)
	return m, from, nil
}

func (u *UDP) notePeer(from net.Addr) {
	if u.preconfigured != nil {
		return
	}
	if u.learnedPeer == nil {
		u.learnedPeer = from
		u.logger("udp_peer_learned", "peer", from.String())
		return
	}
	if u.learnedPeer.String() != from.String() {
		u.logger("udp_peer_changed", "old", u.learnedPeer.String(), "new", from.String())
		u.learnedPeer = from
	}
}

func (u *UDP) Close() error { return u.conn.Close() }
