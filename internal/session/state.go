// Package session holds the ConnectionState shared by the connection
// manager and the SIO bridge. The bridge owns the record logically, but the
// connection manager needs to mutate it directly during handshake and
// keepalive processing; rather than fake that split with back-calls, both
// components hold a reference to the same mutex-guarded struct.
package session

import (
	"net"
	"sync"
	"time"
)

// ConnectionState is the single source of truth for peer identity,
// handshake status, credit accounting, and the in-flight sync rendezvous.
type ConnectionState struct {
	mu sync.Mutex

	peer        net.Addr
	connected   bool
	sendCredits int
	syncCounter byte
	pendingSync *byte
	lastSeenAt  time.Time
}

// New returns a ConnectionState with no peer and zero credits.
func New() *ConnectionState { return &ConnectionState{} }

func (s *ConnectionState) Peer() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *ConnectionState) SetPeer(p net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = p
}

func (s *ConnectionState) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *ConnectionState) SetConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

// Credits returns the current send-credit balance.
func (s *ConnectionState) Credits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCredits
}

// SetCredits replaces the balance outright, the way a CreditUpdate message
// is applied.
func (s *ConnectionState) SetCredits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCredits = n
}

// AddCredits increments the balance, the way a CreditStatus request is
// answered with a top-up grant.
func (s *ConnectionState) AddCredits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCredits += n
}

// TryConsumeCredit decrements the balance by one and returns true, or
// returns false without modifying state if the balance is already zero.
// This is the single enforcement point keeping credit-consuming sends from
// going out while the balance is exhausted.
func (s *ConnectionState) TryConsumeCredit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendCredits <= 0 {
		return false
	}
	s.sendCredits--
	return true
}

// NextSync returns the current sync counter value then post-increments it,
// wrapping at 256. It lives here rather than on a standalone codec value so
// it shares the ConnectionState lock instead of needing one of its own.
func (s *ConnectionState) NextSync() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.syncCounter
	s.syncCounter++
	return v
}

// PendingSync reports the sync counter value the bridge is blocked on, if
// any.
func (s *ConnectionState) PendingSync() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingSync == nil {
		return 0, false
	}
	return *s.pendingSync, true
}

// SetPendingSync arms the sync rendezvous. Callers must have already
// verified no slot is active; this is a plain setter, not a CAS.
func (s *ConnectionState) SetPendingSync(v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSync = &v
}

// ClearPendingSync disarms the rendezvous unconditionally (used on
// resolution, timeout, and disconnect alike).
func (s *ConnectionState) ClearPendingSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSync = nil
}

// CPUStalled reports the flag the emulator polls between instruction
// fetches: true iff a sync rendezvous is outstanding.
func (s *ConnectionState) CPUStalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingSync != nil
}

func (s *ConnectionState) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeenAt = now
}

func (s *ConnectionState) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenAt
}
