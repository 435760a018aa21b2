// Package report produces periodic summaries of governed activity from the
// audit query engine. Scheduling is left to the caller.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
	"github.com/Mutual-Roots/Ford-Perfect/internal/query"
)

// ErrInvalidWindow is returned for a window whose end precedes its start.
var ErrInvalidWindow = errors.New("report: invalid window")

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Day returns the UTC calendar day containing t.
func Day(t time.Time) Window {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Window{From: start, To: start.AddDate(0, 0, 1)}
}

// Last returns the window of length d ending at now.
func Last(now time.Time, d time.Duration) Window {
	now = now.UTC()
	return Window{From: now.Add(-d), To: now}
}

// SummaryWindow is a derived view over one window. It is recomputed on
// demand and never stored.
type SummaryWindow struct {
	From        time.Time              `json:"from"`
	To          time.Time              `json:"to"`
	Total       int                    `json:"total"`
	ByTier      map[model.RiskTier]int `json:"by_tier"`
	ByDecision  map[model.Decision]int `json:"by_decision"`
	Cost        map[string]string      `json:"cost"`
	Flagged     []model.ActionRecord   `json:"flagged"`
	Budget      *BudgetStatus          `json:"budget,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// Reporter builds summaries.
type Reporter struct {
	engine   *query.Engine
	budget   BudgetConfig
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

func WithBudget(b BudgetConfig) Option {
	return func(r *Reporter) { r.budget = b }
}

func WithNotifier(n notify.Notifier) Option {
	return func(r *Reporter) { r.notifier = notify.OrNop(n) }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// New creates a Reporter over engine.
func New(engine *query.Engine, opts ...Option) *Reporter {
	r := &Reporter{
		engine:   engine,
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GenerateSummary aggregates the records in w and emits a summary event.
// The budget, when configured, is checked against the spend of the UTC day
// in which the window ends.
func (r *Reporter) GenerateSummary(ctx context.Context, w Window) (SummaryWindow, error) {
	if err := ctx.Err(); err != nil {
		return SummaryWindow{}, err
	}
	if !w.To.IsZero() && w.To.Before(w.From) {
		return SummaryWindow{}, fmt.Errorf("%w: %s is before %s", ErrInvalidWindow, w.To.Format(time.RFC3339), w.From.Format(time.RFC3339))
	}

	agg := r.engine.Aggregate(query.Filter{From: w.From, To: w.To})
	sum := SummaryWindow{
		From:        w.From.UTC(),
		To:          w.To.UTC(),
		Total:       agg.Count,
		ByTier:      agg.ByTier,
		ByDecision:  agg.ByDecision,
		Cost:        agg.Cost.Strings(),
		Flagged:     agg.Flagged,
		GeneratedAt: r.now().UTC(),
	}

	if r.budget.HasLimits() {
		end := w.To
		if end.IsZero() {
			end = sum.GeneratedAt
		} else {
			end = end.Add(-time.Nanosecond)
		}
		st := r.checkBudget(Day(end))
		sum.Budget = &st
		if st.Marker != "" {
			r.logger.Warn("daily budget threshold reached",
				zap.String("marker", st.Marker),
				zap.String("spent", st.Spent),
				zap.String("limit", st.Limit),
				zap.String("currency", st.Currency))
		}
	}

	r.notifier.Notify(notify.Event{
		Type:      notify.Summary,
		Timestamp: sum.GeneratedAt,
		Reason:    budgetReason(sum.Budget),
		Detail:    Headline(sum),
	})
	return sum, nil
}

func (r *Reporter) checkBudget(day Window) BudgetStatus {
	totals := r.engine.Totals(query.Filter{From: day.From, To: day.To})
	cur, err := model.Cost{Amount: r.budget.Daily, Currency: r.budget.Currency}.Normalize()
	if err != nil {
		return BudgetStatus{}
	}
	spent := totals[cur.Currency]
	if spent == nil {
		spent = model.ZeroCost().Rat()
	}
	return Check(day.From.Format("2006-01-02"), spent, r.budget)
}

func budgetReason(st *BudgetStatus) string {
	if st == nil {
		return ""
	}
	return st.Reason
}
