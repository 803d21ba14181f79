package approval

import (
	"context"
	"testing"
	"time"

	"github.com/cortexhq/cortex/internal/domain"
)

func TestRequestThenResolveApproved(t *testing.T) {
	s := New(time.Minute)

	a, err := s.Request(context.Background(), 0, domain.ToolName("web_search"), map[string]any{"q": "x"})
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if a.State != domain.ApprovalPending {
		t.Fatalf("expected pending state, got %s", a.State)
	}

	resolved, err := s.Resolve(a.ApprovalID, true, "looks fine")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if resolved.State != domain.ApprovalApproved {
		t.Fatalf("expected approved, got %s", resolved.State)
	}

	got, ok := s.Get(a.ApprovalID)
	if !ok {
		t.Fatal("expected Get to find the approval")
	}
	if got.State != domain.ApprovalApproved {
		t.Fatalf("expected persisted state approved, got %s", got.State)
	}
}

func TestResolveUnknownApprovalErrors(t *testing.T) {
	s := New(time.Minute)
	if _, err := s.Resolve(999, true, ""); err == nil {
		t.Fatal("expected an error resolving an unknown approval id")
	}
}

func TestResolveAlreadyResolvedErrors(t *testing.T) {
	s := New(time.Minute)
	a, _ := s.Request(context.Background(), 0, domain.ToolName("table_query"), nil)
	if _, err := s.Resolve(a.ApprovalID, true, ""); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if _, err := s.Resolve(a.ApprovalID, false, ""); err == nil {
		t.Fatal("expected resolving an already-resolved approval to error")
	}
}

func TestWaitUnblocksOnResolve(t *testing.T) {
	s := New(time.Minute)
	a, _ := s.Request(context.Background(), 0, domain.ToolName("math_eval"), nil)

	done := make(chan domain.Approval, 1)
	go func() {
		resolved, err := s.Wait(context.Background(), a.ApprovalID)
		if err != nil {
			t.Errorf("Wait returned error: %v", err)
		}
		done <- resolved
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := s.Resolve(a.ApprovalID, true, "ok"); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	select {
	case resolved := <-done:
		if resolved.State != domain.ApprovalApproved {
			t.Fatalf("expected approved, got %s", resolved.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Resolve")
	}
}

func TestWaitReturnsImmediatelyIfAlreadyResolved(t *testing.T) {
	s := New(time.Minute)
	a, _ := s.Request(context.Background(), 0, domain.ToolName("web_fetch"), nil)
	if _, err := s.Resolve(a.ApprovalID, false, "denied"); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	resolved, err := s.Wait(context.Background(), a.ApprovalID)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if resolved.State != domain.ApprovalDenied {
		t.Fatalf("expected denied, got %s", resolved.State)
	}
}

func TestSweepOnceExpiresStaleApprovals(t *testing.T) {
	s := New(time.Minute)
	a, _ := s.Request(context.Background(), 0, domain.ToolName("web_search"), nil)

	s.mu.Lock()
	s.byID[a.ApprovalID].CreatedAt = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	s.sweepOnce()

	got, ok := s.Get(a.ApprovalID)
	if !ok {
		t.Fatal("expected the approval to still exist after expiry")
	}
	if got.State != domain.ApprovalExpired {
		t.Fatalf("expected expired, got %s", got.State)
	}
}

func TestRunSweeperStopsCleanly(t *testing.T) {
	s := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not stop after Stop()")
	}
}
