package sio

import (
	"time"

	"github.com/fujinet/netsio-bridge/internal/bridge"
	"github.com/fujinet/netsio-bridge/internal/logging"
	"github.com/fujinet/netsio-bridge/internal/metrics"
)

// Completion/ack bytes re-exported here so callers of this package never
// need to import internal/bridge directly just to compare a get_byte result.
const (
	AckAcknowledge = bridge.AckAcknowledge
	AckComplete    = bridge.AckComplete
	AckNotAck      = bridge.AckNotAck
	AckError       = bridge.AckError
)

// Registers mirrors the convention the emulator's interrupt vector reads at
// end of command.
type Registers struct {
	Y        byte
	Carry    bool
	Negative bool
}

func registersFor(status byte) Registers {
	switch status {
	case AckAcknowledge, AckComplete:
		return Registers{Y: 1, Carry: true, Negative: false}
	case AckNotAck:
		return Registers{Y: 139, Negative: true}
	case AckError:
		return Registers{Y: 144, Negative: true}
	default:
		return Registers{Y: 146, Negative: true}
	}
}

const (
	defaultSerinInterval  = 60 * time.Microsecond
	defaultShortInterval  = 20 * time.Microsecond
)

// Hooks are the abstract collaborators this package carves out: IRQ
// scheduling and register delivery live in the emulator's CPU/POKEY
// subsystem, reached only through these function hooks.
type Hooks struct {
	// ScheduleIRQ requests a serial-input IRQ `in` time hence.
	ScheduleIRQ func(in time.Duration)
	// DeliverRegisters is called once per completed command with the
	// register convention the interrupt vector should observe.
	DeliverRegisters func(Registers)
	// There is no CPU-stall hook: the emulator polls FrontEnd.CPUStalled()
	// between instruction fetches instead.
}

// DeviceFilter lets a deployment intercept a command frame before it
// reaches the bridge, so cassette-passthrough or other locally-handled
// devices never cross the network. Returning false means "handled
// locally, do not forward".
type DeviceFilter func(frame CommandFrame) bool

// Option configures a FrontEnd at construction.
type Option func(*FrontEnd)

// WithDeviceFilter installs a pre-filter hook run before BeginCommand.
func WithDeviceFilter(f DeviceFilter) Option { return func(fe *FrontEnd) { fe.filter = f } }

// WithBaudDivisor sets the initial short-interval IRQ spacing.
func WithBaudDivisor(short time.Duration) Option {
	return func(fe *FrontEnd) { fe.shortInterval = short }
}

// FrontEnd is the SIO Bus Front-End state machine.
type FrontEnd struct {
	br     *bridge.Bridge
	hooks  Hooks
	filter DeviceFilter

	state State
	frame CommandFrame
	nIn   int // bytes accumulated into frame so far

	firstInterval time.Duration
	shortInterval time.Duration
	firstByte     bool

	pendingOutput []byte // host-to-device bytes staged for the next BeginCommand
}

// New constructs a FrontEnd driving br.
func New(br *bridge.Bridge, opts ...Option) *FrontEnd {
	fe := &FrontEnd{
		br:            br,
		state:         Idle,
		firstInterval: defaultSerinInterval,
		shortInterval: defaultShortInterval,
	}
	for _, opt := range opts {
		opt(fe)
	}
	return fe
}

// SetHooks installs the IRQ/register delivery hooks.
func (fe *FrontEnd) SetHooks(h Hooks) { fe.hooks = h }

// SetBaudDivisor reprograms the shortened inter-byte IRQ interval, called
// when the bridge surfaces a SpeedChange event.
func (fe *FrontEnd) SetBaudDivisor(short time.Duration) { fe.shortInterval = short }

// State reports the current BusFrontEndState, mainly for tests/diagnostics.
func (fe *FrontEnd) State() State { return fe.state }

// StageOutput queues host-to-device payload bytes (e.g. a disk write's data
// phase) to be forwarded as the optional DataBlock in the next PutByte's
// completed command frame.
func (fe *FrontEnd) StageOutput(b []byte) { fe.pendingOutput = append(fe.pendingOutput[:0], b...) }

// Reset returns the front-end to Idle unconditionally (any state on reset).
func (fe *FrontEnd) Reset() {
	fe.state = Idle
	fe.nIn = 0
}

// PutByte accepts one byte from the emulator's serial port write path.
func (fe *FrontEnd) PutByte(b byte) {
	switch fe.state {
	case Idle, CommandFrameState:
		fe.accumulate(b)
	default:
		// A write mid-command (host-to-device data phase) is staged for
		// forwarding rather than reinterpreted as a new command frame.
		fe.pendingOutput = append(fe.pendingOutput, b)
	}
}

func (fe *FrontEnd) accumulate(b byte) {
	switch fe.nIn {
	case 0:
		fe.frame.DeviceID = b
	case 1:
		fe.frame.Command = b
	case 2:
		fe.frame.Aux1 = b
	case 3:
		fe.frame.Aux2 = b
	case 4:
		fe.frame.Checksum = b
	}
	fe.nIn++
	if fe.nIn == 1 {
		fe.state = CommandFrameState
	}
	if fe.nIn < frameLen {
		return
	}
	fe.completeFrame()
}

func (fe *FrontEnd) completeFrame() {
	fe.nIn = 0
	want := checksum(fe.frame.DeviceID, fe.frame.Command, fe.frame.Aux1, fe.frame.Aux2)
	if want != fe.frame.Checksum {
		logging.L().Warn("sio_checksum_mismatch", "device", fe.frame.DeviceID, "got", fe.frame.Checksum, "want", want)
		metrics.IncError(metrics.ErrFrontEndWrite)
		fe.state = Idle
		return
	}
	if !recognizedDevice(fe.frame.DeviceID) {
		fe.state = Idle
		return
	}
	if fe.filter != nil && !fe.filter(fe.frame) {
		fe.state = Idle
		return
	}

	output := fe.pendingOutput
	fe.pendingOutput = nil

	_, err := fe.br.BeginCommand(fe.frame.DeviceID, fe.frame.Command, fe.frame.Aux1, fe.frame.Aux2, output)
	if err != nil {
		fe.completeWithStatus(bridge.AckNotAck)
		return
	}
	metrics.IncFrontEndRx()
	fe.state = WaitAck
	if fe.hooks.ScheduleIRQ != nil {
		fe.hooks.ScheduleIRQ(fe.firstInterval)
	}
}

// GetByte is called by the emulator's serial-read path. It returns the next
// byte the front-end has to offer and whether value holds a byte at all;
// valid is also true for the final completion byte, after which the
// front-end is back in Idle.
func (fe *FrontEnd) GetByte(now time.Time) (value byte, valid bool) {
	switch fe.state {
	case WaitAck, DataToHost:
		v, more, status := fe.br.PollResponse(now)
		switch status {
		case bridge.StatusPending:
			return 0, false
		case bridge.StatusTimeout:
			metrics.IncError(metrics.ErrFrontEndRead)
			fe.completeWithStatus(bridge.AckError)
			return bridge.AckError, true
		case bridge.StatusReady:
			fe.state = DataToHost
			if fe.hooks.ScheduleIRQ != nil {
				interval := fe.shortInterval
				if !fe.firstByte {
					interval = fe.firstInterval
				}
				fe.hooks.ScheduleIRQ(interval)
			}
			fe.firstByte = true
			if !more {
				// v is already the completion byte ResponseBuffer.finalize
				// produced ('C'/'N'/'E'); deliver it and stop, rather than
				// also synthesizing a second byte behind it.
				fe.state = Idle
				fe.firstByte = false
				metrics.IncFrontEndTx()
				if fe.hooks.DeliverRegisters != nil {
					fe.hooks.DeliverRegisters(registersFor(v))
				}
			}
			return v, true
		}
	}
	return 0, false
}

// completeWithStatus short-circuits straight to delivering a final status
// byte when the command never reaches the bridge (e.g. Backpressure,
// NotConnected) or times out.
func (fe *FrontEnd) completeWithStatus(status byte) {
	fe.state = FinalStatus
	if fe.hooks.DeliverRegisters != nil {
		fe.hooks.DeliverRegisters(registersFor(status))
	}
	fe.state = Idle
}

// CPUStalled reports the cpu-stall flag: the emulator polls this between
// instruction fetches while a sync rendezvous is outstanding and no
// response byte has been delivered yet.
func (fe *FrontEnd) CPUStalled() bool {
	return fe.state == WaitAck
}
