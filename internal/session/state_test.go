package session

import "testing"

func TestCreditConsumption(t *testing.T) {
	s := New()
	s.SetCredits(2)
	if !s.TryConsumeCredit() {
		t.Fatalf("expected first consume to succeed")
	}
	if !s.TryConsumeCredit() {
		t.Fatalf("expected second consume to succeed")
	}
	if s.TryConsumeCredit() {
		t.Fatalf("expected third consume to fail at zero credits")
	}
	if s.Credits() != 0 {
		t.Fatalf("expected credits to be non-negative zero, got %d", s.Credits())
	}
}

func TestCreditUpdateReplaces(t *testing.T) {
	s := New()
	s.SetCredits(5)
	s.AddCredits(3)
	if s.Credits() != 8 {
		t.Fatalf("expected AddCredits to accumulate, got %d", s.Credits())
	}
	s.SetCredits(200)
	if s.Credits() != 200 {
		t.Fatalf("expected SetCredits to replace, got %d", s.Credits())
	}
}

func TestPendingSyncDrivesCPUStall(t *testing.T) {
	s := New()
	if s.CPUStalled() {
		t.Fatalf("expected no stall before any sync is armed")
	}
	s.SetPendingSync(7)
	if !s.CPUStalled() {
		t.Fatalf("expected stall while pending_sync is set")
	}
	v, ok := s.PendingSync()
	if !ok || v != 7 {
		t.Fatalf("expected pending sync 7, got %d ok=%v", v, ok)
	}
	s.ClearPendingSync()
	if s.CPUStalled() {
		t.Fatalf("expected stall cleared after ClearPendingSync")
	}
}

func TestNextSyncWraps(t *testing.T) {
	s := New()
	for i := 0; i < 256; i++ {
		if got := s.NextSync(); got != byte(i) {
			t.Fatalf("at i=%d: got %d", i, got)
		}
	}
	if got := s.NextSync(); got != 0 {
		t.Fatalf("expected wrap to 0, got %d", got)
	}
}
