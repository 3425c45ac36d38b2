package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fujinet/netsio-bridge/internal/netsio"
)

func TestAsyncTxDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})

	a := NewAsyncTx(context.Background(), 4, func(m netsio.Message) error {
		mu.Lock()
		got = append(got, m.Parameter)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	}, Hooks{})
	defer a.Close()

	for i := byte(0); i < 3; i++ {
		if err := a.SendMessage(netsio.Message{Kind: netsio.OpDataByte, Parameter: i}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		if p != byte(i) {
			t.Fatalf("out of order delivery: got %v", got)
		}
	}
}

func TestAsyncTxDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	a := NewAsyncTx(context.Background(), 1, func(m netsio.Message) error {
		<-block
		return nil
	}, Hooks{
		OnDrop: func() error { return errors.New("full") },
	})
	defer func() {
		close(block)
		a.Close()
	}()

	// First send starts the blocking worker; second fills the one-slot
	// buffer; third must be dropped.
	if err := a.SendMessage(netsio.Message{Kind: netsio.OpDataByte}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := a.SendMessage(netsio.Message{Kind: netsio.OpDataByte}); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if err := a.SendMessage(netsio.Message{Kind: netsio.OpDataByte}); err == nil {
		t.Fatalf("expected drop error on full buffer")
	}
}

func TestAsyncTxRejectsAfterClose(t *testing.T) {
	a := NewAsyncTx(context.Background(), 1, func(netsio.Message) error { return nil }, Hooks{})
	a.Close()
	if err := a.SendMessage(netsio.Message{Kind: netsio.OpPingRequest}); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("expected ErrAsyncTxClosed, got %v", err)
	}
}
