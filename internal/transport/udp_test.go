package transport

import (
	"testing"
	"time"

	"github.com/fujinet/netsio-bridge/internal/netsio"
)

func TestUDPRoundTrip(t *testing.T) {
	a, err := NewUDP("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatalf("new udp a: %v", err)
	}
	defer a.Close()
	b, err := NewUDP("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatalf("new udp b: %v", err)
	}
	defer b.Close()

	msg := netsio.DataBlock([]byte{1, 2, 3, 4})
	if err := a.Send(msg, b.conn.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, _, err := b.RecvWithDeadline(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !got.Equal(msg) {
		t.Fatalf("got %v want %v", got, msg)
	}
}

func TestUDPPollDoesNotDiscardMessage(t *testing.T) {
	a, err := NewUDP("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatalf("new udp a: %v", err)
	}
	defer a.Close()
	b, err := NewUDP("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatalf("new udp b: %v", err)
	}
	defer b.Close()

	msg := netsio.DataBlock([]byte{9, 8, 7, 6, 5})
	if err := a.Send(msg, b.conn.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !b.Poll() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !b.Poll() {
		t.Fatalf("expected Poll to report readiness")
	}

	got, _, err := b.Receive()
	if err != nil {
		t.Fatalf("receive after poll: %v", err)
	}
	if !got.Equal(msg) {
		t.Fatalf("poll truncated the message: got %v want %v", got, msg)
	}
}

func TestUDPSendWithoutPeerFails(t *testing.T) {
	a, err := NewUDP("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatalf("new udp: %v", err)
	}
	defer a.Close()
	if err := a.Send(netsio.PingRequest(), nil); err == nil {
		t.Fatalf("expected error sending with no configured or learned peer")
	}
}
