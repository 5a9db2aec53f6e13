// Package killswitch holds the process-wide flag that stops new stage
// invocations. Engaging it never aborts in-flight approval requests and
// never touches ledger state; it only denies the next invocation.
package killswitch

import (
	"sync"
	"time"
)

// PendingBehavior decides what happens to approval requests that are
// already pending when the switch engages.
type PendingBehavior string

const (
	// PendingHold leaves pending requests open until resolved manually.
	PendingHold PendingBehavior = "hold"
	// PendingExpire expires all pending requests immediately.
	PendingExpire PendingBehavior = "expire"
	// PendingReject rejects all pending requests with the engage reason.
	PendingReject PendingBehavior = "reject"
)

// IsKnownPendingBehavior reports whether b is a configurable value.
func IsKnownPendingBehavior(b PendingBehavior) bool {
	switch b {
	case PendingHold, PendingExpire, PendingReject:
		return true
	default:
		return false
	}
}

// State is a snapshot of the switch.
type State struct {
	Engaged   bool      `json:"engaged"`
	ActorID   string    `json:"actor_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitzero"`
}

// Switch is a concurrency-safe engage/release flag.
type Switch struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

// New returns a released switch.
func New() *Switch {
	return &Switch{now: time.Now}
}

// Engage flips the switch on. Idempotent; the first engagement's actor
// and reason stick until release.
func (s *Switch) Engage(actorID, reason string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Engaged {
		s.state = State{Engaged: true, ActorID: actorID, Reason: reason, ChangedAt: s.now().UTC()}
	}
	return s.state
}

// Release flips the switch off.
func (s *Switch) Release(actorID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Engaged: false, ActorID: actorID, ChangedAt: s.now().UTC()}
	return s.state
}

// Engaged reports whether new stage invocations are denied.
func (s *Switch) Engaged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Engaged
}

// Current returns a snapshot of the switch state.
func (s *Switch) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
