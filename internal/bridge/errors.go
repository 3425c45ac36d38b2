package bridge

import "errors"

// Sentinel errors returned by Bridge operations, classified by the caller
// (the SIO Bus Front-End) into its own completion codes.
var (
	// ErrNotConnected is returned by BeginCommand when the connection
	// manager has not completed a handshake yet.
	ErrNotConnected = errors.New("bridge: not connected")

	// ErrBackpressure is returned by BeginCommand when send_credits == 0.
	ErrBackpressure = errors.New("bridge: no send credits")

	// ErrSyncInFlight is a programming error: BeginCommand called while a
	// sync rendezvous is already pending.
	ErrSyncInFlight = errors.New("bridge: sync already pending")

	// ErrSyncTimeout is returned by WaitReady when the sync deadline
	// elapses with no resolution, and labels the error metric when
	// PollResponse reports StatusTimeout or a read phase ends with no data.
	ErrSyncTimeout = errors.New("bridge: sync timeout")

	// ErrDisconnected labels the error metric when HandleDisconnect cancels
	// an outstanding rendezvous; no Bridge method returns it.
	ErrDisconnected = errors.New("bridge: disconnected")

	// ErrProtocol marks an opcode received in a state that doesn't expect
	// it (e.g. a SyncResponse with no pending sync). Logged and dropped,
	// never surfaced to the front-end.
	ErrProtocol = errors.New("bridge: protocol error")
)

// errorMetricLabel classifies err for the error-by-subsystem Prometheus
// counter.
func errorMetricLabel(err error) string {
	switch {
	case errors.Is(err, ErrSyncTimeout):
		return "sync_timeout"
	case errors.Is(err, ErrBackpressure):
		return "backpressure"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		return "bridge_other"
	}
}
