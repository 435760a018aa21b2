package audit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders records as a human-readable text timeline.
func FormatTimeline(records []model.ActionRecord) string {
	if len(records) == 0 {
		return "No records found.\n"
	}

	var b strings.Builder

	first := records[0].OccurredAt.UTC()
	last := records[len(records)-1].OccurredAt.UTC()
	if last.Before(first) {
		first, last = last, first
	}
	b.WriteString(fmt.Sprintf("Records: %d | %s–%s UTC\n",
		len(records), first.Format("2006-01-02 15:04:05"), last.Format("15:04:05")))
	b.WriteString(separator + "\n")

	for _, r := range records {
		ts := r.OccurredAt.UTC().Format("15:04:05")
		tag := ""
		if r.Flagged {
			tag = "  [flagged]"
		}
		if r.Corrects != "" {
			tag += "  [corrects " + shortID(r.Corrects) + "]"
		}
		b.WriteString(fmt.Sprintf("%-10s %-9s %-15s %-10s %-40s%s\n",
			ts, r.Tier, r.Decision, truncate(r.Category, 10), truncate(r.What, 40), tag))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatCounts(records))

	return b.String()
}

// FormatJSON renders records as indented JSON.
func FormatJSON(records []model.ActionRecord) (string, error) {
	if records == nil {
		records = []model.ActionRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	return string(data), nil
}

func formatCounts(records []model.ActionRecord) string {
	counts := make(map[model.Decision]int)
	maxTier := model.TierLow
	for _, r := range records {
		counts[r.Decision]++
		if r.Tier.Rank() > maxTier.Rank() {
			maxTier = r.Tier
		}
	}
	parts := []string{}
	for _, d := range model.Decisions {
		if counts[d] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[d], strings.ToLower(string(d))))
		}
	}
	return fmt.Sprintf("Summary: %s | Max tier: %s\n", strings.Join(parts, ", "), maxTier)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
