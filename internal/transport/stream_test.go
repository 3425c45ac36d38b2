package transport

import (
	"net"
	"testing"
	"time"

	"github.com/fujinet/netsio-bridge/internal/netsio"
)

func TestStreamRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := NewStream(client, 0)
	b := NewStream(server, 0)

	msg := netsio.DataBlock([]byte{0xAA, 0xBB, 0xCC})
	errCh := make(chan error, 1)
	go func() { errCh <- a.Send(msg, nil) }()

	got, _, err := b.RecvWithDeadline(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if sendErr := <-errCh; sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	if !got.Equal(msg) {
		t.Fatalf("got %v want %v", got, msg)
	}
}

func TestStreamRecvTimesOut(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	b := NewStream(server, 0)
	_, _, err := b.RecvWithDeadline(time.Now().Add(20 * time.Millisecond))
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}
