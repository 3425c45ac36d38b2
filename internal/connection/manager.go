// Package connection implements the Connection Manager: the handshake and
// keepalive state machine that sits beside the SIO Bridge, reacting to the
// housekeeping NetSIO opcodes (ping/alive/credit/connect) the bridge itself
// does not handle.
package connection

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fujinet/netsio-bridge/internal/logging"
	"github.com/fujinet/netsio-bridge/internal/metrics"
	"github.com/fujinet/netsio-bridge/internal/netsio"
	"github.com/fujinet/netsio-bridge/internal/session"
	"github.com/fujinet/netsio-bridge/internal/transport"
)

const (
	defaultAliveInterval   = 3 * time.Second
	defaultDeadAfter       = 10 * time.Second
	defaultReconnectCooldown = 5 * time.Second
	creditGrant            = 200
)

// Option configures a Manager at construction.
type Option func(*Manager)

func WithAliveInterval(d time.Duration) Option  { return func(m *Manager) { m.aliveInterval = d } }
func WithDeadAfter(d time.Duration) Option      { return func(m *Manager) { m.deadAfter = d } }
func WithReconnectCooldown(d time.Duration) Option {
	return func(m *Manager) { m.reconnectCooldown = d }
}
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// Dialer reconnects a stream-mode transport; nil for UDP deployments, which
// have no connection to redial.
type Dialer func(ctx context.Context) (transport.Transport, error)

// Manager owns the handshake dispatch table and keepalive ticking. It
// shares a ConnectionState with the Bridge rather than duplicating
// peer/credit bookkeeping.
type Manager struct {
	mu sync.Mutex

	state  *session.ConnectionState
	tx     transport.Transport
	dialer Dialer
	logger *slog.Logger

	aliveInterval     time.Duration
	deadAfter         time.Duration
	reconnectCooldown time.Duration
	lastReconnectAt   time.Time

	onDisconnect func()
	onReconnect  func(transport.Transport)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Manager. tx is replaced by reconnectIfNeeded when a
// stream-mode redial swaps the underlying connection.
func New(state *session.ConnectionState, tx transport.Transport, opts ...Option) *Manager {
	m := &Manager{
		state:             state,
		tx:                tx,
		aliveInterval:     defaultAliveInterval,
		deadAfter:         defaultDeadAfter,
		reconnectCooldown: defaultReconnectCooldown,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.L()
	}
	return m
}

// SetDialer installs the stream-mode reconnect hook; UDP deployments never
// call this, leaving dialer nil so reconnectIfNeeded is a no-op.
func (m *Manager) SetDialer(d Dialer) { m.dialer = d }

// SetOnDisconnect installs a callback invoked once when a peer is declared
// dead, so the bridge can cancel any outstanding rendezvous.
func (m *Manager) SetOnDisconnect(f func()) { m.onDisconnect = f }

// SetOnReconnect installs a callback invoked with the new transport each
// time reconnectIfNeeded redials successfully, so the bridge (which holds
// its own transport reference for sending) can be kept in sync.
func (m *Manager) SetOnReconnect(f func(transport.Transport)) { m.onReconnect = f }

// Transport returns the manager's current transport, which may change after
// a stream reconnect.
func (m *Manager) Transport() transport.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx
}

func (m *Manager) setTransport(tx transport.Transport) {
	m.mu.Lock()
	m.tx = tx
	m.mu.Unlock()
}

// Start launches the keepalive tick loop; it returns immediately and stops
// when ctx is canceled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(m.aliveInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.Tick(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// OnIncoming dispatches a NetSIO message through the handshake table.
// Opcodes the bridge owns (sync/data/line-state) are ignored here.
func (m *Manager) OnIncoming(msg netsio.Message, from net.Addr) {
	now := time.Now()
	switch msg.Kind {
	case netsio.OpPingRequest:
		m.state.SetPeer(from)
		m.state.SetConnected(true)
		m.state.Touch(now)
		m.send(netsio.PingResponse(), from)
		m.send(netsio.CreditUpdate(creditGrant), from)
		m.state.SetCredits(creditGrant)

	case netsio.OpPingResponse:
		m.state.Touch(now)

	case netsio.OpDeviceConnect:
		m.state.SetConnected(true)
		m.state.Touch(now)
		m.logger.Info("peer_connected", "peer", addrString(from), "conn_tag", netsio.CorrelationTag(from))

	case netsio.OpDeviceDisconnect:
		// Soft signal: the hub has no device work for now, but the
		// connection itself stays up until the keepalive's deadAfter
		// threshold actually elapses with nothing heard from the peer.
		m.state.SetCredits(0)

	case netsio.OpAliveRequest:
		m.send(netsio.AliveResponse(), from)
		m.state.Touch(now)

	case netsio.OpAliveResponse:
		m.state.Touch(now)
		m.state.SetConnected(true)

	case netsio.OpCreditStatus:
		m.send(netsio.CreditUpdate(creditGrant), from)
		m.state.AddCredits(creditGrant)

	case netsio.OpCreditUpdate:
		if len(msg.Payload) >= 2 {
			n := int(msg.Payload[0]) | int(msg.Payload[1])<<8
			m.state.SetCredits(n)
			metrics.SetSendCredits(n)
		}
	}
}

func (m *Manager) send(msg netsio.Message, to net.Addr) {
	tx := m.Transport()
	if tx == nil {
		return
	}
	if err := tx.Send(msg, to); err != nil {
		m.logger.Warn("connection_send_failed", "kind", msg.Kind.String(), "err", err)
		metrics.IncError("connection_send")
	}
}

// Tick runs one keepalive cycle: emit an AliveRequest and tear the peer
// down if nothing has been heard from it in deadAfter.
func (m *Manager) Tick(now time.Time) {
	if !m.state.Connected() {
		m.reconnectIfNeeded(now)
		return
	}
	last := m.state.LastSeen()
	if !last.IsZero() && now.Sub(last) > m.deadAfter {
		m.logger.Warn("peer_timed_out", "last_seen", last, "dead_after", m.deadAfter)
		m.declareDead()
		return
	}
	m.send(netsio.AliveRequest(), m.state.Peer())
}

func (m *Manager) declareDead() {
	m.state.SetConnected(false)
	m.state.ClearPendingSync()
	m.state.SetCredits(0)
	metrics.IncReconnect()
	if m.onDisconnect != nil {
		m.onDisconnect()
	}
}

// reconnectIfNeeded redials a stream-mode transport after a cooldown; a nil
// dialer (UDP mode, or a caller that never opted in) makes this a no-op.
func (m *Manager) reconnectIfNeeded(now time.Time) {
	if m.dialer == nil {
		return
	}
	m.mu.Lock()
	if now.Sub(m.lastReconnectAt) < m.reconnectCooldown {
		m.mu.Unlock()
		return
	}
	m.lastReconnectAt = now
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.reconnectCooldown)
	defer cancel()
	tx, err := m.dialer(ctx)
	if err != nil {
		m.logger.Warn("reconnect_failed", "err", err)
		return
	}
	m.setTransport(tx)
	if m.onReconnect != nil {
		m.onReconnect(tx)
	}
	m.logger.Info("reconnected")
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
