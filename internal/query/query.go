// Package query is the read-only view over the audit store: filtering,
// text search, counting and cost aggregation.
package query

import (
	"iter"
	"slices"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

// Filter is the filter grammar shared with the audit store.
type Filter = audit.Filter

// Source provides a point-in-time view of committed records.
type Source interface {
	Snapshot() []model.ActionRecord
}

// Engine answers queries. It never writes.
type Engine struct {
	src Source
}

// New creates an Engine over src.
func New(src Source) *Engine {
	return &Engine{src: src}
}

// Query returns the matching records lazily, ordered by occurred_at
// (descending with f.Reverse). Each iteration works on a fresh snapshot, so
// the sequence can be ranged over again to observe newer records.
func (e *Engine) Query(f Filter) iter.Seq[model.ActionRecord] {
	return func(yield func(model.ActionRecord) bool) {
		records := e.src.Snapshot()
		n := 0
		emit := func(r model.ActionRecord) bool {
			if !f.Match(r) {
				return true
			}
			if !yield(r) {
				return false
			}
			n++
			return f.Limit <= 0 || n < f.Limit
		}
		if f.Reverse {
			for i := len(records) - 1; i >= 0; i-- {
				if !emit(records[i]) {
					return
				}
			}
			return
		}
		for _, r := range records {
			if !emit(r) {
				return
			}
		}
	}
}

// Collect materializes a sequence. It never returns nil.
func Collect(seq iter.Seq[model.ActionRecord]) []model.ActionRecord {
	out := slices.Collect(seq)
	if out == nil {
		return []model.ActionRecord{}
	}
	return out
}

// Count returns how many records match f, honoring f.Limit.
func (e *Engine) Count(f Filter) int {
	n := 0
	for range e.Query(f) {
		n++
	}
	return n
}

// SumCost totals the cost of matching records per currency, as decimal strings.
func (e *Engine) SumCost(f Filter) map[string]string {
	return e.Totals(f).Strings()
}

// Totals is SumCost with exact values.
func (e *Engine) Totals(f Filter) model.CostTotals {
	totals := model.CostTotals{}
	for r := range e.Query(f) {
		totals.Add(r.Cost)
	}
	return totals
}

// Aggregate is a one-pass breakdown of the records matching a filter.
type Aggregate struct {
	Count      int
	ByTier     map[model.RiskTier]int
	ByDecision map[model.Decision]int
	Cost       model.CostTotals
	Flagged    []model.ActionRecord
}

// Aggregate computes counts per tier and decision, cost per currency and
// the flagged MEDIUM records in one pass.
func (e *Engine) Aggregate(f Filter) Aggregate {
	agg := Aggregate{
		ByTier:     make(map[model.RiskTier]int),
		ByDecision: make(map[model.Decision]int),
		Cost:       model.CostTotals{},
		Flagged:    []model.ActionRecord{},
	}
	for r := range e.Query(f) {
		agg.Count++
		agg.ByTier[r.Tier]++
		agg.ByDecision[r.Decision]++
		agg.Cost.Add(r.Cost)
		if r.Flagged {
			agg.Flagged = append(agg.Flagged, r)
		}
	}
	return agg
}
