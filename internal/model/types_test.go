package model

import (
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestParseTierCaseInsensitive(t *testing.T) {
	for _, in := range []string{"low", "Medium", " HIGH ", "critical"} {
		if _, err := ParseTier(in); err != nil {
			t.Errorf("ParseTier(%q): %v", in, err)
		}
	}
	if _, err := ParseTier("extreme"); !errors.Is(err, ErrMalformedAction) {
		t.Fatalf("expected ErrMalformedAction, got %v", err)
	}
}

func TestTierRankOrdering(t *testing.T) {
	for i := 1; i < len(Tiers); i++ {
		if Tiers[i].Rank() <= Tiers[i-1].Rank() {
			t.Errorf("expected %s to rank above %s", Tiers[i], Tiers[i-1])
		}
	}
}

func TestValidateRequiresWhatAndWhy(t *testing.T) {
	cases := []struct {
		name  string
		draft ActionDraft
	}{
		{"missing what", ActionDraft{Why: "because", Tier: TierLow}},
		{"blank why", ActionDraft{What: "edit file", Why: "   ", Tier: TierLow}},
		{"unknown tier", ActionDraft{What: "x", Why: "y", Tier: "EXTREME"}},
		{"high without rollback", ActionDraft{What: "x", Why: "y", Tier: TierHigh}},
		{"critical without rollback", ActionDraft{What: "x", Why: "y", Tier: TierCritical}},
		{"negative cost", ActionDraft{What: "x", Why: "y", Tier: TierLow, Cost: Cost{Amount: "-1"}}},
		{"bad currency", ActionDraft{What: "x", Why: "y", Tier: TierLow, Cost: Cost{Amount: "1", Currency: "dollars"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.draft.Validate()
			if !errors.Is(err, ErrMalformedAction) {
				t.Fatalf("expected ErrMalformedAction, got %v", err)
			}
		})
	}
}

func TestValidateFillsCostDefaults(t *testing.T) {
	d := ActionDraft{What: "edit file", Why: "fix typo", Tier: TierLow}
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}
	if d.Cost != ZeroCost() {
		t.Fatalf("expected zero USD cost, got %+v", d.Cost)
	}

	d.Cost = Cost{Amount: "0.25", Currency: "eur"}
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}
	if d.Cost.Currency != "EUR" {
		t.Fatalf("expected upper-cased currency, got %q", d.Cost.Currency)
	}
}

func TestDecisionAuthorizes(t *testing.T) {
	want := map[Decision]bool{
		DecisionProceed:       true,
		DecisionTimedApproval: true,
		DecisionVetoed:        false,
		DecisionDenied:        false,
		DecisionBlocked:       false,
	}
	for d, ok := range want {
		if d.Authorizes() != ok {
			t.Errorf("%s.Authorizes() = %v, want %v", d, !ok, ok)
		}
	}
}

func TestCostTotalsExactSum(t *testing.T) {
	totals := CostTotals{}
	for i := 0; i < 10; i++ {
		totals.Add(Cost{Amount: "0.1", Currency: "USD"})
	}
	totals.Add(Cost{Amount: "2.5", Currency: "EUR"})

	got := totals.Strings()
	if got["USD"] != "1" {
		t.Errorf("expected USD total 1, got %s", got["USD"])
	}
	if got["EUR"] != "2.5" {
		t.Errorf("expected EUR total 2.5, got %s", got["EUR"])
	}
	if cur := totals.Currencies(); len(cur) != 2 || cur[0] != "EUR" {
		t.Errorf("expected sorted currencies [EUR USD], got %v", cur)
	}
}

func TestFormatDecimalTrimsZeros(t *testing.T) {
	if s := FormatDecimal(big.NewRat(3, 2)); s != "1.5" {
		t.Errorf("expected 1.5, got %s", s)
	}
	if s := FormatDecimal(big.NewRat(4, 1)); s != "4" {
		t.Errorf("expected 4, got %s", s)
	}
}

func TestCostTotalsKeepSubUnitPrecision(t *testing.T) {
	totals := CostTotals{}
	for i := 0; i < 9; i++ {
		totals.Add(Cost{Amount: "0.000000001", Currency: "USD"})
	}
	totals.Add(Cost{Amount: "0.0000000000000000000001", Currency: "EUR"})

	got := totals.Strings()
	if got["USD"] != "0.000000009" {
		t.Errorf("expected USD total 0.000000009, got %s", got["USD"])
	}
	if got["EUR"] != "0.0000000000000000000001" {
		t.Errorf("expected EUR total 0.0000000000000000000001, got %s", got["EUR"])
	}
	if s := FormatDecimal(big.NewRat(1, 3)); s != "0.333333333333333333" {
		t.Errorf("expected 18 digits for 1/3, got %s", s)
	}
}

func TestValidateBoundsTextFields(t *testing.T) {
	long := strings.Repeat("a", MaxTextBytes+1)
	drafts := []ActionDraft{
		{What: long, Why: "y", Tier: TierLow},
		{What: "x", Why: long, Tier: TierLow},
		{What: "x", Why: "y", Tier: TierHigh, RollbackPlan: long},
		{What: "x", Why: "y", Tier: TierLow, SessionID: long},
	}
	for i, d := range drafts {
		if err := d.Validate(); !errors.Is(err, ErrMalformedAction) {
			t.Errorf("draft %d: expected ErrMalformedAction, got %v", i, err)
		}
	}
	ok := ActionDraft{What: strings.Repeat("a", MaxTextBytes), Why: "y", Tier: TierLow}
	if err := ok.Validate(); err != nil {
		t.Errorf("expected draft at the limit to pass, got %v", err)
	}
}
