package audit

import (
	"strings"
	"time"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

// Filter selects records. Zero-valued fields match everything.
// From is inclusive, To is exclusive.
type Filter struct {
	From        time.Time
	To          time.Time
	Tier        model.RiskTier
	Category    string
	Decision    model.Decision
	SessionID   string
	Text        string
	FlaggedOnly bool
	Limit       int
	Reverse     bool
}

// Match reports whether r passes every predicate of f. Limit and Reverse
// are ordering concerns and are not consulted here.
func (f Filter) Match(r model.ActionRecord) bool {
	if !f.From.IsZero() && r.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.OccurredAt.Before(f.To) {
		return false
	}
	if f.Tier != "" && r.Tier != f.Tier {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Decision != "" && r.Decision != f.Decision {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.FlaggedOnly && !r.Flagged {
		return false
	}
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(r.What), needle) &&
			!strings.Contains(strings.ToLower(r.Why), needle) &&
			!strings.Contains(strings.ToLower(r.Outcome), needle) {
			return false
		}
	}
	return true
}
