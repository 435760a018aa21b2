package report

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// Headline renders a summary as one line, for notification payloads.
func Headline(s SummaryWindow) string {
	var parts []string
	for _, t := range model.Tiers {
		parts = append(parts, fmt.Sprintf("%s=%d", t, s.ByTier[t]))
	}
	line := fmt.Sprintf("%d actions (%s)", s.Total, strings.Join(parts, " "))
	if cost := formatCost(s.Cost); cost != "" {
		line += ", cost " + cost
	}
	if n := len(s.Flagged); n > 0 {
		line += fmt.Sprintf(", %d flagged", n)
	}
	if s.Budget != nil && s.Budget.Marker != "" {
		line += ", " + s.Budget.Marker
	}
	return line
}

// FormatSummary renders a summary for the terminal.
func FormatSummary(s SummaryWindow) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Summary %s .. %s\n", formatBound(s.From), formatBound(s.To))
	b.WriteString(separator + "\n")

	fmt.Fprintf(&b, "%-16s %d\n", "Total", s.Total)
	for _, t := range model.Tiers {
		fmt.Fprintf(&b, "  %-14s %d\n", t, s.ByTier[t])
	}
	b.WriteString("\n")
	for _, d := range model.Decisions {
		fmt.Fprintf(&b, "  %-14s %d\n", d, s.ByDecision[d])
	}

	b.WriteString("\nCost\n")
	if len(s.Cost) == 0 {
		b.WriteString("  none\n")
	}
	for _, cur := range slices.Sorted(maps.Keys(s.Cost)) {
		fmt.Fprintf(&b, "  %-14s %s\n", cur, s.Cost[cur])
	}

	if s.Budget != nil {
		status := "ok"
		if s.Budget.Marker != "" {
			status = s.Budget.Marker
		}
		fmt.Fprintf(&b, "\nBudget %s: %s / %s %s (%s%%) %s\n",
			s.Budget.Day, s.Budget.Spent, s.Budget.Limit, s.Budget.Currency, s.Budget.UsedPct, status)
	}

	if len(s.Flagged) > 0 {
		b.WriteString("\nFlagged\n")
		for _, r := range s.Flagged {
			fmt.Fprintf(&b, "  %s  %s  %s\n", r.OccurredAt.UTC().Format("2006-01-02 15:04:05"), r.Category, r.What)
		}
	}

	b.WriteString(separator + "\n")
	return b.String()
}

func formatCost(cost map[string]string) string {
	var parts []string
	for _, cur := range slices.Sorted(maps.Keys(cost)) {
		parts = append(parts, cost[cur]+" "+cur)
	}
	return strings.Join(parts, ", ")
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.UTC().Format(time.RFC3339)
}
