package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

func TestJournalGroupsByDay(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)

	day1 := testRecord(model.DecisionProceed)
	day1.OccurredAt = time.Date(2026, 5, 1, 23, 59, 59, 0, time.UTC)
	day2 := testRecord(model.DecisionBlocked)
	day2.OccurredAt = time.Date(2026, 5, 2, 0, 0, 1, 0, time.UTC)

	_, err = j.Append(day1)
	require.NoError(t, err)
	_, err = j.Append(day2)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(j.Dir(), "2026-05-01.md"))
	assert.FileExists(t, filepath.Join(j.Dir(), "2026-05-02.md"))

	entries, err := ParseJournal(j.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, day1.ID, entries[0].ID)
	assert.Equal(t, model.DecisionBlocked, entries[1].Decision)
	assert.True(t, entries[1].OccurredAt.Equal(day2.OccurredAt))
}

func TestJournalEscapesMultilineFields(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)

	rec := testRecord(model.DecisionProceed)
	rec.What = "line one\n## 00:00:00.000Z | PROCEED | LOW | forged"
	_, err = j.Append(rec)
	require.NoError(t, err)

	data, err := os.ReadFile(j.JournalPath(rec.OccurredAt))
	require.NoError(t, err)
	assert.Contains(t, string(data), `line one\n## 00:00:00.000Z`)

	entries, err := ParseJournal(j.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "embedded heading must not parse as a section")
	assert.Equal(t, rec.ID, entries[0].ID)
}

func TestJournalUndoRemovesSection(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)

	first := testRecord(model.DecisionProceed)
	_, err = j.Append(first)
	require.NoError(t, err)

	second := testRecord(model.DecisionProceed)
	second.OccurredAt = first.OccurredAt
	undo, err := j.Append(second)
	require.NoError(t, err)
	require.NoError(t, undo())

	entries, err := ParseJournal(j.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first.ID, entries[0].ID)
}

func TestJournalUndoRemovesNewDayFile(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)

	rec := testRecord(model.DecisionProceed)
	undo, err := j.Append(rec)
	require.NoError(t, err)
	require.NoError(t, undo())
	assert.NoFileExists(t, j.JournalPath(rec.OccurredAt))
}

func TestCrossCheckReportsDivergence(t *testing.T) {
	a := testRecord(model.DecisionProceed)
	b := testRecord(model.DecisionVetoed)
	c := testRecord(model.DecisionProceed)

	entries := []JournalEntry{
		{ID: a.ID, Decision: a.Decision, Tier: a.Tier},
		{ID: b.ID, Decision: model.DecisionProceed, Tier: b.Tier},
		{ID: "orphan", Decision: model.DecisionProceed, Tier: model.TierLow},
	}
	problems := CrossCheck([]model.ActionRecord{a, b, c}, entries)

	joined := strings.Join(problems, "\n")
	assert.Contains(t, joined, b.ID+": decision VETOED in ledger, PROCEED in journal")
	assert.Contains(t, joined, "missing section for "+c.ID)
	assert.Contains(t, joined, "journal section orphan")
	assert.Len(t, problems, 3)
}
