package sio

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fujinet/netsio-bridge/internal/bridge"
	"github.com/fujinet/netsio-bridge/internal/netsio"
	"github.com/fujinet/netsio-bridge/internal/session"
)

type fakeAddr string

func (fakeAddr) Network() string  { return "fake" }
func (a fakeAddr) String() string { return string(a) }

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

func newTestFrontEnd(t *testing.T) (*FrontEnd, *bridge.Bridge, *session.ConnectionState) {
	t.Helper()
	st := session.New()
	st.SetConnected(true)
	st.SetCredits(200)
	st.SetPeer(fakeAddr("hub:9997"))
	br := bridge.New(st, &fakeTransport{}, bridge.WithReadPhaseTimeout(30*time.Millisecond))
	fe := New(br)
	return fe, br, st
}

func pokeFrame(fe *FrontEnd, deviceID, cmd, aux1, aux2 byte) {
	sum := uint16(deviceID) + uint16(cmd) + uint16(aux1) + uint16(aux2)
	sum = (sum & 0xFF) + (sum >> 8)
	sum = (sum & 0xFF) + (sum >> 8)
	fe.PutByte(deviceID)
	fe.PutByte(cmd)
	fe.PutByte(aux1)
	fe.PutByte(aux2)
	fe.PutByte(byte(sum))
}

func TestPutByteBadChecksumStaysIdle(t *testing.T) {
	fe, _, _ := newTestFrontEnd(t)
	fe.PutByte(0x31)
	fe.PutByte(0x53)
	fe.PutByte(0x00)
	fe.PutByte(0x00)
	fe.PutByte(0xFF) // wrong checksum
	if fe.State() != Idle {
		t.Fatalf("expected Idle after bad checksum, got %v", fe.State())
	}
}

func TestPutByteUnrecognizedDeviceStaysIdle(t *testing.T) {
	fe, _, _ := newTestFrontEnd(t)
	pokeFrame(fe, 0x01, 0x53, 0x00, 0x00)
	if fe.State() != Idle {
		t.Fatalf("expected Idle for unrecognized device, got %v", fe.State())
	}
}

func TestPutByteValidFrameEntersWaitAck(t *testing.T) {
	fe, br, _ := newTestFrontEnd(t)
	pokeFrame(fe, 0x31, 0x53, 0x00, 0x00)
	if fe.State() != WaitAck {
		t.Fatalf("expected WaitAck, got %v", fe.State())
	}
	if !fe.CPUStalled() {
		t.Fatalf("expected CPU stalled while waiting for sync response")
	}

	br.OnIncoming(netsio.SyncResponse(0, 0x00, 'A', 0))
	br.OnIncoming(netsio.DataByte(0x10))

	deadline := time.Now().Add(time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		v, ok := fe.GetByte(time.Now())
		if ok {
			got = append(got, v)
			if fe.State() == Idle {
				break
			}
			continue
		}
		time.Sleep(time.Millisecond)
	}
	want := []byte{'A', 0x10, AckComplete}
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if fe.State() != Idle {
		t.Fatalf("expected Idle after completion, got %v", fe.State())
	}
}

func TestDeviceFilterInterceptsBeforeBridge(t *testing.T) {
	fe, _, _ := newTestFrontEnd(t)
	var seen CommandFrame
	fe.filter = func(f CommandFrame) bool {
		seen = f
		return false
	}
	pokeFrame(fe, 0x60, 0x52, 0x00, 0x00)
	if fe.State() != Idle {
		t.Fatalf("expected filtered frame to leave front-end Idle, got %v", fe.State())
	}
	if seen.DeviceID != 0x60 {
		t.Fatalf("expected filter to observe device 0x60, got %#x", seen.DeviceID)
	}
}

func TestGetByteTimeoutDeliversRegisters(t *testing.T) {
	fe, _, _ := newTestFrontEnd(t)
	var regs Registers
	fe.SetHooks(Hooks{DeliverRegisters: func(r Registers) { regs = r }})
	pokeFrame(fe, 0x31, 0x53, 0x00, 0x00)

	// Never satisfy the sync response; instead of waiting out the default
	// 2s sync timeout, call get_byte with a time already past the deadline.
	v, ok := fe.GetByte(time.Now().Add(3 * time.Second))
	if !ok || v != bridge.AckError {
		t.Fatalf("expected AckError from get_byte on timeout, got %#x ok=%v", v, ok)
	}
	if regs.Y != 144 || !regs.Negative {
		t.Fatalf("expected error registers, got %+v", regs)
	}
	if fe.State() != Idle {
		t.Fatalf("expected Idle after timeout, got %v", fe.State())
	}
}
