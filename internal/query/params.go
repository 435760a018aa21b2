package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

// Params is the transport form of a Filter: every field is a string or
// scalar so it can travel over JSON, gRPC structs and CLI flags.
type Params struct {
	From     string `json:"from,omitempty"     jsonschema:"inclusive lower bound, RFC3339 or YYYY-MM-DD"`
	To       string `json:"to,omitempty"       jsonschema:"exclusive upper bound, RFC3339 or YYYY-MM-DD"`
	Tier     string `json:"risk_tier,omitempty" jsonschema:"LOW, MEDIUM, HIGH or CRITICAL"`
	Category string `json:"category,omitempty"`
	Decision string `json:"decision,omitempty" jsonschema:"PROCEED, TIMED_APPROVAL, VETOED, DENIED or BLOCKED"`
	Session  string `json:"session_id,omitempty"`
	Text     string `json:"text,omitempty"     jsonschema:"case-insensitive substring over what, why and outcome"`
	Flagged  bool   `json:"flagged,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Reverse  bool   `json:"reverse,omitempty"`
}

// Filter converts p, validating every field.
func (p Params) Filter() (Filter, error) {
	var (
		f   Filter
		err error
	)
	if f.From, err = parseTime(p.From); err != nil {
		return Filter{}, fmt.Errorf("query: from: %w", err)
	}
	if f.To, err = parseTime(p.To); err != nil {
		return Filter{}, fmt.Errorf("query: to: %w", err)
	}
	if p.Tier != "" {
		if f.Tier, err = model.ParseTier(p.Tier); err != nil {
			return Filter{}, fmt.Errorf("query: %w", err)
		}
	}
	if p.Decision != "" {
		if f.Decision, err = model.ParseDecision(p.Decision); err != nil {
			return Filter{}, fmt.Errorf("query: %w", err)
		}
	}
	if p.Limit < 0 {
		return Filter{}, fmt.Errorf("query: limit must not be negative")
	}
	f.Category = p.Category
	f.SessionID = p.Session
	f.Text = p.Text
	f.FlaggedOnly = p.Flagged
	f.Limit = p.Limit
	f.Reverse = p.Reverse
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
