package bridge

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fujinet/netsio-bridge/internal/netsio"
	"github.com/fujinet/netsio-bridge/internal/session"
)

type fakeAddr string

func (fakeAddr) Network() string  { return "fake" }
func (a fakeAddr) String() string { return string(a) }

// fakeTransport records every sent message; Send never fails.
type fakeTransport struct {
	mu   sync.Mutex
	sent []netsio.Message
}

func (f *fakeTransport) Send(m netsio.Message, _ net.Addr) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Poll() bool { return false }
func (f *fakeTransport) Receive() (netsio.Message, net.Addr, error) {
	return netsio.Message{}, nil, nil
}
func (f *fakeTransport) RecvWithDeadline(time.Time) (netsio.Message, net.Addr, error) {
	return netsio.Message{}, nil, nil
}
func (f *fakeTransport) Close() error { return nil }

func newTestBridge(t *testing.T) (*Bridge, *fakeTransport, *session.ConnectionState) {
	t.Helper()
	st := session.New()
	st.SetConnected(true)
	st.SetCredits(200)
	st.SetPeer(fakeAddr("hub:9997"))
	tx := &fakeTransport{}
	br := New(st, tx, WithReadPhaseTimeout(30*time.Millisecond), WithSyncTimeout(100*time.Millisecond))
	return br, tx, st
}

func drainAll(t *testing.T, br *Bridge, deadline time.Time) []byte {
	t.Helper()
	var out []byte
	for i := 0; i < 1000; i++ {
		v, more, status := br.PollResponse(time.Now())
		switch status {
		case StatusReady:
			out = append(out, v)
			if !more {
				return out
			}
		case StatusTimeout:
			t.Fatalf("unexpected timeout while draining: %v", out)
		case StatusPending:
			if time.Now().After(deadline) {
				t.Fatalf("drain deadline exceeded, got so far: %v", out)
			}
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatalf("drain did not terminate, got so far: %v", out)
	return nil
}

// TestStatusQueryRoundTrip checks a status command end to end: CommandOn,
// DataBlock, CommandOffSync go out on the wire, then an ack byte, four data
// bytes, and a synthesized completion byte come back through get_byte.
func TestStatusQueryRoundTrip(t *testing.T) {
	br, tx, _ := newTestBridge(t)

	s, err := br.BeginCommand(0x31, 0x53, 0x00, 0x00, nil)
	if err != nil {
		t.Fatalf("begin_command: %v", err)
	}
	if s != 0 {
		t.Fatalf("expected first sync value 0, got %d", s)
	}

	if len(tx.sent) != 3 {
		t.Fatalf("expected 3 wire messages, got %d: %v", len(tx.sent), tx.sent)
	}
	if tx.sent[0].Kind != netsio.OpCommandOn || tx.sent[0].Parameter != 0x31 {
		t.Fatalf("unexpected first message: %v", tx.sent[0])
	}
	if tx.sent[1].Kind != netsio.OpDataBlock {
		t.Fatalf("unexpected second message: %v", tx.sent[1])
	}
	if tx.sent[2].Kind != netsio.OpCommandOffSync || tx.sent[2].Parameter != s {
		t.Fatalf("unexpected third message: %v", tx.sent[2])
	}

	br.OnIncoming(netsio.SyncResponse(s, 0x00, 'A', 0))
	br.OnIncoming(netsio.DataByte(0x10))
	br.OnIncoming(netsio.DataByte(0x00))
	br.OnIncoming(netsio.DataByte(0x01))
	br.OnIncoming(netsio.DataByte(0x00))

	got := drainAll(t, br, time.Now().Add(time.Second))
	want := []byte{'A', 0x10, 0x00, 0x01, 0x00, AckComplete}
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

// TestUnrecognizedAckTypeBecomesError checks that an ack_type outside
// {0x00,0x01} maps to AckError rather than being passed through.
func TestUnrecognizedAckTypeBecomesError(t *testing.T) {
	br, _, _ := newTestBridge(t)

	s, err := br.BeginCommand(0x31, 0x4E, 0x00, 0x00, nil)
	if err != nil {
		t.Fatalf("begin_command: %v", err)
	}
	br.OnIncoming(netsio.SyncResponse(s, 0x4E, 0x4E, 0))

	got := drainAll(t, br, time.Now().Add(time.Second))
	if len(got) != 2 || got[0] != 0x4E || got[1] != AckError {
		t.Fatalf("got %v, want [0x4E, AckError]", got)
	}
}

// TestSilentHubYieldsTimeout checks that a silent hub yields a Timeout
// status and clears pending_sync so the next BeginCommand can succeed.
func TestSilentHubYieldsTimeout(t *testing.T) {
	br, _, st := newTestBridge(t)

	if _, err := br.BeginCommand(0x31, 0x53, 0, 0, nil); err != nil {
		t.Fatalf("begin_command: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		_, _, status := br.PollResponse(time.Now())
		if status == StatusTimeout {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected timeout status")
		}
		time.Sleep(time.Millisecond)
	}
	if st.CPUStalled() {
		t.Fatalf("expected pending_sync cleared after timeout")
	}
	if _, err := br.BeginCommand(0x31, 0x53, 0, 0, nil); err != nil {
		t.Fatalf("expected next begin_command to succeed, got %v", err)
	}
}

// TestCreditExhaustionBlocksCommand checks that once credits hit zero,
// BeginCommand returns an error; a CreditUpdate restores it.
func TestCreditExhaustionBlocksCommand(t *testing.T) {
	br, _, st := newTestBridge(t)
	st.SetCredits(3) // exactly enough for one 3-message command

	if _, err := br.BeginCommand(0x31, 0x53, 0, 0, nil); err != nil {
		t.Fatalf("first command: %v", err)
	}
	// Resolve it so the bridge returns to Idle for the next attempt.
	s := byte(0)
	br.OnIncoming(netsio.SyncResponse(s, 0x01, 'N', 0))
	drainAll(t, br, time.Now().Add(time.Second))

	if _, err := br.BeginCommand(0x32, 0x53, 0, 0, nil); err == nil {
		t.Fatalf("expected backpressure with zero credits")
	}

	st.SetCredits(200)
	if _, err := br.BeginCommand(0x32, 0x53, 0, 0, nil); err != nil {
		t.Fatalf("expected command to succeed after credit refill: %v", err)
	}
}

// TestSyncResponseIgnoredWhenNotPending checks that a SyncResponse whose
// counter doesn't match pending_sync leaves the buffer untouched.
func TestSyncResponseIgnoredWhenNotPending(t *testing.T) {
	br, _, _ := newTestBridge(t)
	br.OnIncoming(netsio.SyncResponse(5, 0x00, 'A', 0))
	_, _, status := br.PollResponse(time.Now())
	if status != StatusPending {
		t.Fatalf("expected no response buffered, got status %v", status)
	}
}
