// Package events fans out SIO line-state and control events — motor,
// proceed, interrupt, reset, speed-change — to subscribers. These are
// outbound callbacks the bridge publishes, not back-calls into the
// emulator, so subscribers can observe bus state without the bridge
// holding a reference back to them.
package events

import (
	"sync"

	"github.com/fujinet/netsio-bridge/internal/logging"
	"github.com/fujinet/netsio-bridge/internal/metrics"
)

// Kind identifies the sort of line-state event being broadcast.
type Kind int

const (
	KindMotor Kind = iota
	KindProceed
	KindInterrupt
	KindSpeedChange
	KindWarmReset
	KindColdReset
)

func (k Kind) String() string {
	switch k {
	case KindMotor:
		return "motor"
	case KindProceed:
		return "proceed"
	case KindInterrupt:
		return "interrupt"
	case KindSpeedChange:
		return "speed_change"
	case KindWarmReset:
		return "warm_reset"
	case KindColdReset:
		return "cold_reset"
	default:
		return "unknown"
	}
}

// Event is one line-state transition or control signal surfaced by the
// bridge to anything watching: the front-end's own callbacks, plus any
// subscriber observing for diagnostics.
type Event struct {
	Kind  Kind
	On    bool   // line assertion state; meaningless for resets
	Value uint32 // SpeedChange baud rate; zero otherwise
}

// BackpressurePolicy controls what happens when a subscriber's queue is full.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Subscriber is a registered event sink.
type Subscriber struct {
	Out       chan Event
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the subscriber is closed (idempotent).
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.Closed)
	})
}

// Hub broadcasts Events to every subscribed Subscriber, honoring a
// configurable backpressure policy for slow subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	OutBufSize  int
	Policy      BackpressurePolicy
}

// New creates an empty Hub with default settings.
func New() *Hub { return &Hub{subscribers: make(map[*Subscriber]struct{})} }

// Subscribe registers and returns a new Subscriber with a buffered channel
// of size h.OutBufSize (or 16 if unset).
func (h *Hub) Subscribe() *Subscriber {
	buf := h.OutBufSize
	if buf <= 0 {
		buf = 16
	}
	sub := &Subscriber{Out: make(chan Event, buf), Closed: make(chan struct{})}
	h.mu.Lock()
	prev := len(h.subscribers)
	h.subscribers[sub] = struct{}{}
	cur := len(h.subscribers)
	h.mu.Unlock()
	metrics.SetEventSubscribers(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("event_subscribers_first_connected")
	}
	return sub
}

// Unsubscribe removes a subscriber; safe to call multiple times.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, existed := h.subscribers[sub]
	if existed {
		delete(h.subscribers, sub)
	}
	cur := len(h.subscribers)
	h.mu.Unlock()
	select {
	case <-sub.Closed:
	default:
		sub.Close()
	}
	metrics.SetEventSubscribers(cur)
	if existed && cur == 0 {
		logging.L().Info("event_subscribers_last_disconnected")
	}
}

// Publish broadcasts ev to every subscriber, honoring the configured
// backpressure policy when a subscriber's queue is full.
func (h *Hub) Publish(ev Event) {
	subs := h.snapshot()
	for _, sub := range subs {
		select {
		case sub.Out <- ev:
		default:
			if h.Policy == PolicyKick {
				metrics.IncEventKick()
				sub.Close()
			} else {
				metrics.IncEventDrop()
			}
		}
	}
}

func (h *Hub) snapshot() []*Subscriber {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	return subs
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	n := len(h.subscribers)
	h.mu.RUnlock()
	return n
}
