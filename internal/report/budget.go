package report

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

// Budget markers attached to a summary.
const (
	MarkerExceeded = "budget_exceeded"
	MarkerWarning  = "budget_warning"
)

// defaultWarnRatio applies when no warn threshold is configured.
var defaultWarnRatio = big.NewRat(3, 5)

// BudgetConfig is a daily spend limit in one currency.
// An empty Daily means unlimited.
type BudgetConfig struct {
	Daily    string `yaml:"daily_budget"`
	WarnAt   string `yaml:"warn_at"`
	Currency string `yaml:"currency"`
}

// HasLimits returns true if a daily limit is configured.
func (b BudgetConfig) HasLimits() bool {
	return strings.TrimSpace(b.Daily) != ""
}

// Validate checks that amounts parse as non-negative decimals and the warn
// threshold does not exceed the limit.
func (b BudgetConfig) Validate() error {
	if !b.HasLimits() {
		return nil
	}
	limit, err := model.Cost{Amount: b.Daily, Currency: b.Currency}.Normalize()
	if err != nil {
		return fmt.Errorf("report: daily budget: %w", err)
	}
	if strings.TrimSpace(b.WarnAt) == "" {
		return nil
	}
	warn, err := model.Cost{Amount: b.WarnAt, Currency: b.Currency}.Normalize()
	if err != nil {
		return fmt.Errorf("report: warn_at: %w", err)
	}
	if warn.Rat().Cmp(limit.Rat()) > 0 {
		return fmt.Errorf("report: warn_at %s is above the daily budget %s", warn.Amount, limit.Amount)
	}
	return nil
}

// BudgetStatus is the outcome of a budget check.
type BudgetStatus struct {
	Day      string `json:"day"`
	Currency string `json:"currency"`
	Spent    string `json:"spent"`
	Limit    string `json:"limit"`
	WarnAt   string `json:"warn_at"`
	UsedPct  string `json:"used_pct"`
	Marker   string `json:"marker,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Check compares one day's spend against the budget. Spend at or above the
// limit is exceeded; at or above the warn threshold is a warning.
func Check(day string, spent *big.Rat, cfg BudgetConfig) BudgetStatus {
	limit, err := model.Cost{Amount: cfg.Daily, Currency: cfg.Currency}.Normalize()
	if err != nil {
		return BudgetStatus{}
	}
	warn := new(big.Rat).Mul(limit.Rat(), defaultWarnRatio)
	if strings.TrimSpace(cfg.WarnAt) != "" {
		if w, err := (model.Cost{Amount: cfg.WarnAt}).Normalize(); err == nil {
			warn = w.Rat()
		}
	}

	st := BudgetStatus{
		Day:      day,
		Currency: limit.Currency,
		Spent:    model.FormatDecimal(spent),
		Limit:    limit.Amount,
		WarnAt:   model.FormatDecimal(warn),
		UsedPct:  "0",
	}
	if limit.Rat().Sign() > 0 {
		pct := new(big.Rat).Quo(spent, limit.Rat())
		pct.Mul(pct, big.NewRat(100, 1))
		st.UsedPct = pct.FloatString(1)
	}

	switch {
	case spent.Cmp(limit.Rat()) >= 0:
		st.Marker = MarkerExceeded
		st.Reason = fmt.Sprintf("budget exceeded: %s %s >= %s daily_budget", st.Spent, st.Currency, st.Limit)
	case spent.Cmp(warn) >= 0:
		st.Marker = MarkerWarning
		st.Reason = fmt.Sprintf("budget warning: %s %s >= %s warn_at", st.Spent, st.Currency, st.WarnAt)
	}
	return st
}
