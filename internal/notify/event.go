// Package notify carries human-facing governance events to the supervisor:
// webhook destinations and in-process subscribers.
package notify

import (
	"time"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

// EventType names what happened.
type EventType string

const (
	ApprovalRequested EventType = "approval_requested"
	ApprovalResolved  EventType = "approval_resolved"
	ActionBlocked     EventType = "action_blocked"
	StateChanged      EventType = "state_changed"
	StorageFault      EventType = "storage_fault"
	Summary           EventType = "summary"
)

// EventTypes lists every event type.
var EventTypes = []EventType{
	ApprovalRequested, ApprovalResolved, ActionBlocked, StateChanged, StorageFault, Summary,
}

// Event is the payload delivered to every sink.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RecordID  string         `json:"record_id,omitempty"`
	PendingID string         `json:"pending_id,omitempty"`
	Tier      model.RiskTier `json:"tier,omitempty"`
	Decision  model.Decision `json:"decision,omitempty"`
	What      string         `json:"what,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	State     string         `json:"state,omitempty"`
	Deadline  *time.Time     `json:"deadline,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

// Notifier accepts events. Implementations must not block the caller on
// delivery.
type Notifier interface {
	Notify(Event)
}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Notify(ev Event) { f(ev) }

// Nop discards events.
type Nop struct{}

func (Nop) Notify(Event) {}

// Multi fans an event out to every non-nil notifier.
type Multi []Notifier

func (m Multi) Notify(ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ev)
		}
	}
}

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop{}
	}
	return n
}
