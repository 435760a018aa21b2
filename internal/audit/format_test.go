package audit

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

func timelineRecords() []model.ActionRecord {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	low := testRecord(model.DecisionProceed)
	low.OccurredAt = base
	medium := testRecord(model.DecisionProceed)
	medium.Tier = model.TierMedium
	medium.Flagged = true
	medium.OccurredAt = base.Add(time.Minute)
	high := testRecord(model.DecisionVetoed)
	high.Tier = model.TierHigh
	high.What = "drop the production database and rebuild it from the nightly snapshot"
	high.OccurredAt = base.Add(2 * time.Minute)
	return []model.ActionRecord{low, medium, high}
}

func TestFormatTimelineHeaderAndSummary(t *testing.T) {
	out := FormatTimeline(timelineRecords())

	if !strings.HasPrefix(out, "Records: 3 | 2026-02-10 09:00:00–09:02:00 UTC\n") {
		t.Errorf("unexpected header: %q", strings.SplitN(out, "\n", 2)[0])
	}
	if !strings.Contains(out, "[flagged]") {
		t.Error("expected flagged marker for MEDIUM record")
	}
	if !strings.Contains(out, "drop the production database and rebu...") {
		t.Error("expected long what to be truncated")
	}
	if !strings.Contains(out, "Summary: 2 proceed, 1 vetoed | Max tier: HIGH") {
		t.Errorf("unexpected summary in:\n%s", out)
	}
}

func TestFormatTimelineEmpty(t *testing.T) {
	if out := FormatTimeline(nil); out != "No records found.\n" {
		t.Errorf("unexpected empty output %q", out)
	}
}

func TestFormatJSONIsArray(t *testing.T) {
	out, err := FormatJSON(nil)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []model.ActionRecord
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("expected JSON array, got %q: %v", out, err)
	}
	if len(decoded) != 0 {
		t.Errorf("expected empty array, got %d", len(decoded))
	}
}
