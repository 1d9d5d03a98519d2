package models

import (
	"sync"
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession()
	if s.ID == "" {
		t.Fatal("new session must have an id")
	}
	if s.Status != SessionPending {
		t.Errorf("status = %s, want pending", s.Status)
	}

	s.Start()
	if s.Status != SessionRunning {
		t.Errorf("status = %s, want running", s.Status)
	}

	s.Complete(120)
	if s.Status != SessionCompleted {
		t.Errorf("status = %s, want completed", s.Status)
	}
	if s.Collected != 120 {
		t.Errorf("collected = %d, want 120", s.Collected)
	}
	if s.CompletedAt == nil {
		t.Error("completed session must carry a completion time")
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	s := NewSession()
	s.Start()
	s.Fail(5)

	// No later transition may rewrite a terminal outcome.
	s.Complete(999)
	s.Start()
	if s.Status != SessionFailed {
		t.Errorf("status = %s, terminal state must be final", s.Status)
	}
	if s.Collected != 5 {
		t.Errorf("collected = %d, want the count at failure time", s.Collected)
	}
}

func TestRecordErrorOrdering(t *testing.T) {
	s := NewSession()
	s.RecordError("auth", "login_failed", "bad password")
	s.RecordError("scrape", "rate_limited", "429")

	if len(s.Errors) != 2 {
		t.Fatalf("errors = %d, want 2", len(s.Errors))
	}
	if s.Errors[0].Stage != "auth" || s.Errors[1].Stage != "scrape" {
		t.Error("errors must be kept in the order they were recorded")
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := NewSession()
	s.Start()
	s.RecordError("scrape", "network", "reset")

	snap := s.Snapshot()
	s.RecordError("scrape", "network", "reset again")
	s.Complete(10)

	if len(snap.Errors) != 1 {
		t.Errorf("snapshot errors = %d, must not see later mutations", len(snap.Errors))
	}
	if snap.Status != SessionRunning {
		t.Errorf("snapshot status = %s, must not see later transitions", snap.Status)
	}
}

func TestSessionConcurrentRecordError(t *testing.T) {
	s := NewSession()
	s.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordError("scrape", "network", "reset")
			_ = s.Snapshot()
		}()
	}
	wg.Wait()

	if len(s.Snapshot().Errors) != 20 {
		t.Errorf("errors = %d, want 20", len(s.Snapshot().Errors))
	}
}
