package transport

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/fujinet/netsio-bridge/internal/metrics"
	"github.com/fujinet/netsio-bridge/internal/netsio"
)

// asyncTransport wraps a Transport so outbound Send calls are queued and
// flushed by a single worker goroutine instead of blocking the caller
// (BeginCommand, keepalive ticks) on a slow or wedged peer. The receive
// side passes through unchanged; only the write path is buffered. It is
// built directly on AsyncTx, instantiated with a queued payload so the
// destination address travels alongside the message.
type asyncTransport struct {
	inner Transport
	tx    *AsyncTx[queued]
}

type queued struct {
	msg  netsio.Message
	peer net.Addr
}

// NewAsync wraps inner with an async send queue of depth buf. A buf of zero
// or less returns inner unchanged, making the wrapper a no-op for callers
// that don't want the extra goroutine (tests, single-shot CLIs).
func NewAsync(ctx context.Context, inner Transport, buf int, l *slog.Logger) Transport {
	if buf <= 0 {
		return inner
	}
	a := &asyncTransport{inner: inner}
	a.tx = NewAsyncTx(ctx, buf, func(q queued) error {
		return inner.Send(q.msg, q.peer)
	}, Hooks{
		OnError: func(err error) {
			l.Warn("async_send_failed", "err", err)
			metrics.IncError("async_send")
		},
		OnDrop: func() error {
			l.Warn("async_send_queue_full")
			metrics.IncError("async_send_drop")
			return nil
		},
	})
	return a
}

// Send enqueues m for asynchronous transmission. It never blocks: if the
// queue is full the message is dropped and counted, rather than stalling
// whichever of the bridge or connection manager called Send.
func (a *asyncTransport) Send(m netsio.Message, peer net.Addr) error {
	if err := a.tx.SendMessage(queued{msg: m, peer: peer}); err == ErrAsyncTxClosed {
		return ErrClosed
	}
	return nil
}

func (a *asyncTransport) Poll() bool { return a.inner.Poll() }

func (a *asyncTransport) Receive() (netsio.Message, net.Addr, error) {
	return a.inner.Receive()
}

func (a *asyncTransport) RecvWithDeadline(deadline time.Time) (netsio.Message, net.Addr, error) {
	return a.inner.RecvWithDeadline(deadline)
}

func (a *asyncTransport) Close() error {
	a.tx.Close()
	return a.inner.Close()
}
