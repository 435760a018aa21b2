package report

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
	"github.com/Mutual-Roots/Ford-Perfect/internal/query"
)

var day = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newEngine(t *testing.T, records ...model.ActionRecord) *query.Engine {
	t.Helper()
	tick := day
	s, err := audit.Open(context.Background(), t.TempDir(), audit.BackendJSONL,
		audit.WithClock(func() time.Time { tick = tick.Add(2 * time.Hour); return tick }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	for _, r := range records {
		_, err := s.Append(context.Background(), r)
		require.NoError(t, err)
	}
	return query.New(s)
}

func rec(tier model.RiskTier, decision model.Decision, amount string) model.ActionRecord {
	return model.ActionRecord{
		What: "act", Why: "because", Tier: tier, Category: "ops", Decision: decision,
		RollbackPlan: "undo", Flagged: tier == model.TierMedium,
		Cost: model.Cost{Amount: amount, Currency: "USD"},
	}
}

func TestGenerateSummaryCounts(t *testing.T) {
	engine := newEngine(t,
		rec(model.TierLow, model.DecisionProceed, "0.5"),
		rec(model.TierMedium, model.DecisionProceed, "0.25"),
		rec(model.TierHigh, model.DecisionVetoed, "0"),
		rec(model.TierHigh, model.DecisionTimedApproval, "1"),
		rec(model.TierCritical, model.DecisionDenied, "0"),
	)
	sink := &recorder{}
	r := New(engine, WithNotifier(sink), WithClock(func() time.Time { return day.Add(23 * time.Hour) }))

	sum, err := r.GenerateSummary(context.Background(), Day(day))
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 1, sum.ByTier[model.TierLow])
	assert.Equal(t, 2, sum.ByTier[model.TierHigh])
	assert.Equal(t, 2, sum.ByDecision[model.DecisionProceed])
	assert.Equal(t, 1, sum.ByDecision[model.DecisionDenied])
	assert.Equal(t, map[string]string{"USD": "1.75"}, sum.Cost)
	require.Len(t, sum.Flagged, 1)
	assert.Equal(t, model.TierMedium, sum.Flagged[0].Tier)
	assert.Nil(t, sum.Budget)

	require.Len(t, sink.events, 1)
	assert.Equal(t, notify.Summary, sink.events[0].Type)
	assert.Contains(t, sink.events[0].Detail, "5 actions")
	assert.Contains(t, sink.events[0].Detail, "1.75 USD")
}

func TestGenerateSummaryWindowBounds(t *testing.T) {
	// Records land at 02:00, 04:00 and 06:00.
	engine := newEngine(t,
		rec(model.TierLow, model.DecisionProceed, "1"),
		rec(model.TierLow, model.DecisionProceed, "1"),
		rec(model.TierLow, model.DecisionProceed, "1"),
	)
	r := New(engine)

	sum, err := r.GenerateSummary(context.Background(), Window{From: day.Add(3 * time.Hour), To: day.Add(6 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)

	sum, err = r.GenerateSummary(context.Background(), Day(day.AddDate(0, 0, 1)))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Total)
	assert.Empty(t, sum.Cost)
	assert.Empty(t, sum.Flagged)
}

func TestGenerateSummaryInvalidWindow(t *testing.T) {
	r := New(newEngine(t))
	_, err := r.GenerateSummary(context.Background(), Window{From: day, To: day.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.GenerateSummary(ctx, Day(day))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateSummaryBudgetMarkers(t *testing.T) {
	tests := []struct {
		name   string
		budget BudgetConfig
		want   string
	}{
		{"under", BudgetConfig{Daily: "10"}, ""},
		{"default warn at 60 percent", BudgetConfig{Daily: "3"}, MarkerWarning},
		{"explicit warn", BudgetConfig{Daily: "5", WarnAt: "1.5"}, MarkerWarning},
		{"exceeded at limit", BudgetConfig{Daily: "2"}, MarkerExceeded},
		{"other currency unspent", BudgetConfig{Daily: "1", Currency: "EUR"}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := newEngine(t,
				rec(model.TierLow, model.DecisionProceed, "1.5"),
				rec(model.TierLow, model.DecisionProceed, "0.5"),
			)
			sink := &recorder{}
			r := New(engine, WithBudget(tc.budget), WithNotifier(sink))

			sum, err := r.GenerateSummary(context.Background(), Day(day))
			require.NoError(t, err)
			require.NotNil(t, sum.Budget)
			assert.Equal(t, tc.want, sum.Budget.Marker)
			assert.Equal(t, "2026-05-04", sum.Budget.Day)
			if tc.want != "" {
				assert.Contains(t, sink.events[0].Reason, tc.want[len("budget_"):])
				assert.Contains(t, sink.events[0].Detail, tc.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	st := Check("2026-05-04", big.NewRat(3, 1), BudgetConfig{Daily: "5"})
	assert.Equal(t, MarkerWarning, st.Marker)
	assert.Equal(t, "60.0", st.UsedPct)
	assert.Equal(t, "3", st.WarnAt)
	assert.Equal(t, "USD", st.Currency)

	st = Check("2026-05-04", big.NewRat(29, 10), BudgetConfig{Daily: "5"})
	assert.Empty(t, st.Marker)
	assert.Equal(t, "2.9", st.Spent)
}

func TestBudgetValidate(t *testing.T) {
	assert.NoError(t, BudgetConfig{}.Validate())
	assert.NoError(t, BudgetConfig{Daily: "5", WarnAt: "3"}.Validate())
	assert.Error(t, BudgetConfig{Daily: "five"}.Validate())
	assert.Error(t, BudgetConfig{Daily: "5", WarnAt: "6"}.Validate())
	assert.Error(t, BudgetConfig{Daily: "5", Currency: "dollars"}.Validate())
}

func TestFormatSummary(t *testing.T) {
	sum := SummaryWindow{
		From:       day,
		To:         day.AddDate(0, 0, 1),
		Total:      2,
		ByTier:     map[model.RiskTier]int{model.TierLow: 1, model.TierMedium: 1},
		ByDecision: map[model.Decision]int{model.DecisionProceed: 2},
		Cost:       map[string]string{"USD": "1.5", "EUR": "2"},
		Flagged:    []model.ActionRecord{{What: "send newsletter", Category: "email", OccurredAt: day.Add(time.Hour)}},
		Budget:     &BudgetStatus{Day: "2026-05-04", Spent: "1.5", Limit: "2", Currency: "USD", UsedPct: "75.0", Marker: MarkerWarning},
	}
	out := FormatSummary(sum)
	assert.Contains(t, out, "Summary 2026-05-04T00:00:00Z .. 2026-05-05T00:00:00Z")
	assert.Contains(t, out, "send newsletter")
	assert.Contains(t, out, "budget_warning")
	assert.Less(t, strings.Index(out, "EUR"), strings.Index(out, "USD"))

	assert.Equal(t, "2 actions (LOW=1 MEDIUM=1 HIGH=0 CRITICAL=0), cost 2 EUR, 1.5 USD, 1 flagged, budget_warning", Headline(sum))
}
