package killswitch

import (
	"sync"
	"testing"
)

func TestEngageReleaseLifecycle(t *testing.T) {
	s := New()
	if s.Engaged() {
		t.Fatalf("new switch must start released")
	}

	state := s.Engage("ops-alice", "incident 4821")
	if !state.Engaged || state.Reason != "incident 4821" {
		t.Fatalf("unexpected state after engage: %+v", state)
	}

	// Second engage keeps the first actor and reason.
	state = s.Engage("ops-bob", "other")
	if state.ActorID != "ops-alice" {
		t.Fatalf("engage must be idempotent, actor = %q", state.ActorID)
	}

	state = s.Release("ops-bob")
	if state.Engaged || s.Engaged() {
		t.Fatalf("switch still engaged after release")
	}
}

func TestConcurrentReadsDuringEngage(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Engaged()
			s.Engage("ops", "drill")
			s.Current()
		}()
	}
	wg.Wait()
	if !s.Engaged() {
		t.Fatalf("switch should be engaged")
	}
}

func TestKnownPendingBehaviors(t *testing.T) {
	for _, b := range []PendingBehavior{PendingHold, PendingExpire, PendingReject} {
		if !IsKnownPendingBehavior(b) {
			t.Fatalf("%q should be known", b)
		}
	}
	if IsKnownPendingBehavior("explode") {
		t.Fatalf("unknown behavior accepted")
	}
}
