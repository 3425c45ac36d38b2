// Package bridge implements the SIO Bridge: it translates SIO command
// frames from the Bus Front-End into NetSIO message sequences, and routes
// incoming NetSIO data/sync/line-state messages back into a per-command
// response buffer the front-end drains.
package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fujinet/netsio-bridge/internal/events"
	"github.com/fujinet/netsio-bridge/internal/logging"
	"github.com/fujinet/netsio-bridge/internal/metrics"
	"github.com/fujinet/netsio-bridge/internal/netsio"
	"github.com/fujinet/netsio-bridge/internal/session"
	"github.com/fujinet/netsio-bridge/internal/transport"
)

// phase tracks where the current command sits in the sync rendezvous.
type phase int

const (
	phaseIdle phase = iota
	phaseWaitSync
	phaseWaitData
	phaseDone
	phaseAborted // rendezvous cancelled by a disconnect; next poll reports a timeout
)

// PollStatus is the tri-state result of PollResponse.
type PollStatus int

const (
	StatusPending PollStatus = iota
	StatusReady
	StatusTimeout
)

const (
	defaultSyncTimeout     = 2000 * time.Millisecond
	defaultReadPhaseTimeout = 500 * time.Millisecond
)

// Callbacks are outbound hooks the bridge invokes for line-state and reset
// events, supplied at construction rather than calling back into the
// emulator's SIO module directly, avoiding an import cycle between the two
// packages.
type Callbacks struct {
	OnSpeedChange func(baud uint32)
	OnMotor       func(on bool)
	OnProceed     func(on bool)
	OnInterrupt   func(on bool)
	OnWarmReset   func()
	OnColdReset   func()
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

// WithEvents attaches an events.Hub that every line-state/reset/speed-change
// message is also published to, for observers beyond the front-end itself
// (e.g. a diagnostics subscriber watching line state).
func WithEvents(h *events.Hub) Option { return func(b *Bridge) { b.events = h } }

// WithCallbacks sets the front-end's outbound callback set.
func WithCallbacks(cb Callbacks) Option { return func(b *Bridge) { b.cb = cb } }

// WithLogger overrides the logger; defaults to logging.L().
func WithLogger(l *slog.Logger) Option { return func(b *Bridge) { b.logger = l } }

// WithSyncTimeout overrides the default 2000ms sync-wait deadline.
func WithSyncTimeout(d time.Duration) Option { return func(b *Bridge) { b.syncTimeout = d } }

// WithReadPhaseTimeout overrides the default 500ms post-ack data deadline.
func WithReadPhaseTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.readPhaseTimeout = d }
}

// Bridge owns the ResponseBuffer and the sync rendezvous exclusively.
// ConnectionState is shared with the Connection Manager under its own
// lock; the buffer and phase are guarded by this type's own mutex since
// they belong to the bridge alone.
type Bridge struct {
	mu sync.Mutex

	state *session.ConnectionState
	tx    transport.Transport

	events *events.Hub
	cb     Callbacks
	logger *slog.Logger

	syncTimeout      time.Duration
	readPhaseTimeout time.Duration

	buf          responseBuffer
	phase        phase
	syncVal      byte
	syncDeadline time.Time
	dataDeadline time.Time

	ready chan struct{} // closed once per command when data is first known
}

// New constructs a Bridge driving tx and sharing state with the connection
// manager.
func New(state *session.ConnectionState, tx transport.Transport, opts ...Option) *Bridge {
	b := &Bridge{
		state:            state,
		tx:               tx,
		syncTimeout:      defaultSyncTimeout,
		readPhaseTimeout: defaultReadPhaseTimeout,
		ready:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.L()
	}
	return b
}

// BeginCommand starts a new SIO transaction: it clears the response buffer,
// allocates a sync counter, and emits CommandOn/DataBlock(frame)/
// [DataBlock(payload)]/CommandOffSync(s) in order. Returns the allocated
// sync value on success.
func (b *Bridge) BeginCommand(deviceID, cmd, aux1, aux2 byte, outputPayload []byte) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == phaseWaitSync || b.phase == phaseWaitData {
		return 0, ErrSyncInFlight
	}
	if !b.state.Connected() {
		return 0, ErrNotConnected
	}
	if b.state.Credits() <= 0 {
		metrics.IncError(errorMetricLabel(ErrBackpressure))
		return 0, ErrBackpressure
	}

	b.buf.reset()
	s := b.state.NextSync()

	msgs := []netsio.Message{
		netsio.CommandOn(deviceID),
		netsio.DataBlock([]byte{cmd, aux1, aux2}),
	}
	if len(outputPayload) > 0 {
		msgs = append(msgs, netsio.DataBlock(outputPayload))
	}
	msgs = append(msgs, netsio.CommandOffSync(s))

	peer := b.state.Peer()
	for _, m := range msgs {
		if !b.state.TryConsumeCredit() {
			metrics.IncError(errorMetricLabel(ErrBackpressure))
			return 0, ErrBackpressure
		}
		if err := b.tx.Send(m, peer); err != nil {
			return 0, fmt.Errorf("bridge begin_command: %w", err)
		}
	}

	b.syncVal = s
	b.state.SetPendingSync(s)
	now := time.Now()
	b.syncDeadline = now.Add(b.syncTimeout)
	b.phase = phaseWaitSync
	b.ready = make(chan struct{})
	metrics.SetSendCredits(b.state.Credits())
	return s, nil
}

// OnIncoming dispatches one received NetSIO message into the response
// buffer or an outbound line-state callback. Handshake and credit opcodes
// are the Connection Manager's concern and are not handled here.
func (b *Bridge) OnIncoming(m netsio.Message) {
	switch m.Kind {
	case netsio.OpSyncResponse:
		b.onSyncResponse(m)
	case netsio.OpDataByte:
		b.onDataByte(m.Parameter)
	case netsio.OpDataBlock:
		b.onDataBlock(m.Payload)
	case netsio.OpSpeedChange:
		b.onSpeedChange(m.Payload)
	case netsio.OpMotorOn:
		b.onLine(events.KindMotor, true, b.cb.OnMotor)
	case netsio.OpMotorOff:
		b.onLine(events.KindMotor, false, b.cb.OnMotor)
	case netsio.OpProceedOn:
		b.onLine(events.KindProceed, true, b.cb.OnProceed)
	case netsio.OpProceedOff:
		b.onLine(events.KindProceed, false, b.cb.OnProceed)
	case netsio.OpInterruptOn:
		b.onLine(events.KindInterrupt, true, b.cb.OnInterrupt)
	case netsio.OpInterruptOff:
		b.onLine(events.KindInterrupt, false, b.cb.OnInterrupt)
	case netsio.OpWarmReset:
		b.onReset(events.KindWarmReset, b.cb.OnWarmReset)
	case netsio.OpColdReset:
		b.onReset(events.KindColdReset, b.cb.OnColdReset)
	}
}

func (b *Bridge) onSyncResponse(m netsio.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != phaseWaitSync || m.Parameter != b.syncVal {
		b.logger.Warn("sync_response_dropped", "sync", m.Parameter, "expected_phase", b.phase == phaseWaitSync)
		metrics.IncError(errorMetricLabel(ErrProtocol))
		return
	}
	if len(m.Payload) < 4 {
		b.logger.Warn("sync_response_short_payload", "len", len(m.Payload))
		return
	}
	ackType, ackByte := m.Payload[0], m.Payload[1]
	writeSize := binary.LittleEndian.Uint16(m.Payload[2:4])

	b.buf.armAck(ackType, ackByte, writeSize)
	b.state.ClearPendingSync()
	b.phase = phaseWaitData
	b.dataDeadline = time.Now().Add(b.readPhaseTimeout)
	close(b.ready)
}

func (b *Bridge) onDataByte(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != phaseWaitData {
		b.logger.Warn("data_byte_with_no_pending_response")
		return
	}
	b.buf.append(v)
	b.dataDeadline = time.Now().Add(b.readPhaseTimeout)
}

func (b *Bridge) onDataBlock(bs []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != phaseWaitData {
		b.logger.Warn("data_block_with_no_pending_response")
		return
	}
	b.buf.append(bs...)
	b.dataDeadline = time.Now().Add(b.readPhaseTimeout)
}

func (b *Bridge) onSpeedChange(payload []byte) {
	if len(payload) != 4 {
		b.logger.Warn("speed_change_bad_length", "len", len(payload))
		return
	}
	baud := binary.LittleEndian.Uint32(payload)
	if b.cb.OnSpeedChange != nil {
		b.cb.OnSpeedChange(baud)
	}
	if b.events != nil {
		b.events.Publish(events.Event{Kind: events.KindSpeedChange, Value: baud})
	}
}

func (b *Bridge) onLine(kind events.Kind, on bool, cb func(bool)) {
	if cb != nil {
		cb(on)
	}
	if b.events != nil {
		b.events.Publish(events.Event{Kind: kind, On: on})
	}
}

func (b *Bridge) onReset(kind events.Kind, cb func()) {
	b.mu.Lock()
	b.phase = phaseIdle
	b.state.ClearPendingSync()
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
	if b.events != nil {
		b.events.Publish(events.Event{Kind: kind})
	}
}

// WaitReady blocks until the sync response for the in-flight command
// arrives, the sync timeout elapses, or ctx is canceled. This is a
// one-shot-channel rendezvous synchronous callers can use instead of
// looping on PollResponse themselves.
func (b *Bridge) WaitReady(ctx context.Context) error {
	b.mu.Lock()
	ch := b.ready
	deadline := b.syncDeadline
	active := b.phase == phaseWaitSync
	b.mu.Unlock()
	if !active {
		return nil
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return ErrSyncTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleDisconnect clears any outstanding rendezvous, surfacing it as SIO
// Error to the front-end's next PollResponse call.
func (b *Bridge) HandleDisconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == phaseWaitSync || b.phase == phaseWaitData {
		b.state.ClearPendingSync()
		b.phase = phaseAborted
		metrics.IncError(errorMetricLabel(ErrDisconnected))
	}
}

// PollResponse is called from the front-end's get_byte path. It returns the
// next response byte (if any), whether more bytes will follow, and a
// status distinguishing "nothing yet" from "byte ready" from "timed out".
func (b *Bridge) PollResponse(now time.Time) (value byte, more bool, status PollStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case phaseWaitSync:
		if now.After(b.syncDeadline) {
			b.state.ClearPendingSync()
			b.phase = phaseIdle
			metrics.IncError(errorMetricLabel(ErrSyncTimeout))
			return 0, false, StatusTimeout
		}
		return 0, false, StatusPending

	case phaseWaitData:
		if b.buf.readyToFinalize() {
			b.buf.finalize()
			b.phase = phaseDone
		} else if now.After(b.dataDeadline) {
			b.finalizeOnQuiescence()
			b.phase = phaseDone
		}
		return b.drainLocked()

	case phaseDone:
		return b.drainLocked()

	case phaseAborted:
		b.phase = phaseIdle
		return 0, false, StatusTimeout

	default: // phaseIdle
		return 0, false, StatusPending
	}
}

// finalizeOnQuiescence applies the read-phase-timeout end-of-response rule:
// quiescence after at least the ack byte, or after a NAK/error ack that
// never expects data, finalizes with the originally mapped completion byte.
// Quiescence with zero data bytes after a "complete" ack (one genuinely
// expecting data) is instead a real timeout, downgraded to AckError.
func (b *Bridge) finalizeOnQuiescence() {
	if b.buf.completion == AckComplete && b.buf.dataReceived() == 0 {
		b.buf.completion = AckError
		metrics.IncError(errorMetricLabel(ErrSyncTimeout))
	}
	b.buf.finalize()
}

func (b *Bridge) drainLocked() (byte, bool, PollStatus) {
	v, more, ok := b.buf.next()
	if !ok {
		if b.buf.drained() || b.phase == phaseDone {
			b.phase = phaseIdle
		}
		return 0, false, StatusPending
	}
	if b.buf.drained() {
		b.phase = phaseIdle
	}
	return v, more, StatusReady
}

// Peer reports the currently known hub endpoint, if any.
func (b *Bridge) Peer() net.Addr { return b.state.Peer() }

// SetTransport swaps the transport the bridge sends on, for use after a
// stream-mode reconnect redials the hub under a fresh connection. Safe to
// call concurrently with BeginCommand/OnIncoming.
func (b *Bridge) SetTransport(tx transport.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tx = tx
}
