package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedAction marks a proposal the caller built incorrectly.
// It is returned before anything is written to the audit store.
var ErrMalformedAction = errors.New("malformed action")

// RiskTier is the declared severity of a proposed action.
type RiskTier string

const (
	TierLow      RiskTier = "LOW"
	TierMedium   RiskTier = "MEDIUM"
	TierHigh     RiskTier = "HIGH"
	TierCritical RiskTier = "CRITICAL"
)

// Tiers lists every risk tier from least to most restricted.
var Tiers = []RiskTier{TierLow, TierMedium, TierHigh, TierCritical}

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (RiskTier, error) {
	t := RiskTier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown risk tier %q", ErrMalformedAction, s)
	}
	return t, nil
}

// Valid reports whether t is one of the four known tiers.
func (t RiskTier) Valid() bool {
	switch t {
	case TierLow, TierMedium, TierHigh, TierCritical:
		return true
	}
	return false
}

// Rank maps the tier to a comparable integer. Higher = more restricted.
func (t RiskTier) Rank() int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	case TierCritical:
		return 3
	default:
		return -1
	}
}

// RequiresApproval reports whether the tier opens a pending approval.
func (t RiskTier) RequiresApproval() bool {
	return t == TierHigh || t == TierCritical
}

// Decision is the terminal gate outcome stored on every record.
type Decision string

const (
	DecisionProceed       Decision = "PROCEED"
	DecisionTimedApproval Decision = "TIMED_APPROVAL"
	DecisionVetoed        Decision = "VETOED"
	DecisionDenied        Decision = "DENIED"
	DecisionBlocked       Decision = "BLOCKED"
)

// Decisions lists every decision value.
var Decisions = []Decision{
	DecisionProceed, DecisionTimedApproval, DecisionVetoed, DecisionDenied, DecisionBlocked,
}

// ParseDecision accepts a decision name in any case.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Decisions {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// Authorizes reports whether the action may be executed.
func (d Decision) Authorizes() bool {
	return d == DecisionProceed || d == DecisionTimedApproval
}

// CategoryEmergency is the category of every operational state transition record.
const CategoryEmergency = "emergency"

// ActionDraft carries every ActionRecord field a caller supplies.
type ActionDraft struct {
	What         string   `json:"what"`
	Why          string   `json:"why"`
	Tier         RiskTier `json:"risk_tier"`
	Category     string   `json:"category,omitempty"`
	Cost         Cost     `json:"cost"`
	RollbackPlan string   `json:"rollback_plan,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	Outcome      string   `json:"outcome,omitempty"`
}

// MaxTextBytes bounds every free-text field of a record.
const MaxTextBytes = 64 << 10

// CheckText rejects a free-text field longer than MaxTextBytes.
func CheckText(field, s string) error {
	if len(s) > MaxTextBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrMalformedAction, field, len(s), MaxTextBytes)
	}
	return nil
}

// Validate checks the draft before any audit slot is consumed.
func (d *ActionDraft) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"what", d.What}, {"why", d.Why}, {"category", d.Category},
		{"rollback_plan", d.RollbackPlan}, {"session_id", d.SessionID}, {"outcome", d.Outcome},
	} {
		if err := CheckText(f.name, f.value); err != nil {
			return err
		}
	}
	if strings.TrimSpace(d.What) == "" {
		return fmt.Errorf("%w: what is required", ErrMalformedAction)
	}
	if strings.TrimSpace(d.Why) == "" {
		return fmt.Errorf("%w: why is required", ErrMalformedAction)
	}
	if !d.Tier.Valid() {
		return fmt.Errorf("%w: unknown risk tier %q", ErrMalformedAction, d.Tier)
	}
	if d.Tier.RequiresApproval() && strings.TrimSpace(d.RollbackPlan) == "" {
		return fmt.Errorf("%w: rollback_plan is required for %s actions", ErrMalformedAction, d.Tier)
	}
	cost, err := d.Cost.Normalize()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	d.Cost = cost
	return nil
}

// ActionRecord is one immutable entry in the audit store.
type ActionRecord struct {
	ID           string    `json:"id"`
	OccurredAt   time.Time `json:"occurred_at"`
	What         string    `json:"what"`
	Why          string    `json:"why"`
	Tier         RiskTier  `json:"risk_tier"`
	Category     string    `json:"category"`
	Cost         Cost      `json:"cost"`
	Outcome      string    `json:"outcome,omitempty"`
	RollbackPlan string    `json:"rollback_plan,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	Decision     Decision  `json:"decision"`
	Reason       string    `json:"reason,omitempty"`
	PendingID    string    `json:"pending_id,omitempty"`
	Corrects     string    `json:"corrects,omitempty"`
	Flagged      bool      `json:"flagged,omitempty"`
}

// NewRecord builds an uncommitted record from a draft. ID and OccurredAt
// are assigned by the audit store on append.
func NewRecord(d ActionDraft, decision Decision, reason string) ActionRecord {
	return ActionRecord{
		What:         d.What,
		Why:          d.Why,
		Tier:         d.Tier,
		Category:     d.Category,
		Cost:         d.Cost,
		Outcome:      d.Outcome,
		RollbackPlan: d.RollbackPlan,
		SessionID:    d.SessionID,
		Decision:     decision,
		Reason:       reason,
	}
}

// Draft returns the caller-supplied portion of the record.
func (r ActionRecord) Draft() ActionDraft {
	return ActionDraft{
		What:         r.What,
		Why:          r.Why,
		Tier:         r.Tier,
		Category:     r.Category,
		Cost:         r.Cost,
		RollbackPlan: r.RollbackPlan,
		SessionID:    r.SessionID,
		Outcome:      r.Outcome,
	}
}
