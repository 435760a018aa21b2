package audit

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, BackendJSONL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func draftRecord(what string, tier model.RiskTier, decision model.Decision) model.ActionRecord {
	return model.ActionRecord{
		What:     what,
		Why:      "test",
		Tier:     tier,
		Category: "test",
		Decision: decision,
	}
}

type failingMirror struct{ calls int }

func (m *failingMirror) Append(model.ActionRecord) (func() error, error) {
	m.calls++
	return nil, errors.New("disk full")
}

type undoCountingMirror struct {
	appended int
	undone   int
}

func (m *undoCountingMirror) Append(model.ActionRecord) (func() error, error) {
	m.appended++
	return func() error { m.undone++; return nil }, nil
}

type failingLedger struct {
	stageErr  error
	commitErr error
	rolled    int
}

func (l *failingLedger) Load(context.Context) ([]model.ActionRecord, error) { return nil, nil }
func (l *failingLedger) Close() error                                       { return nil }
func (l *failingLedger) Stage(context.Context, model.ActionRecord) (Txn, error) {
	if l.stageErr != nil {
		return nil, l.stageErr
	}
	return &failingTxn{l: l}, nil
}

type failingTxn struct{ l *failingLedger }

func (t *failingTxn) Commit() error   { return t.l.commitErr }
func (t *failingTxn) Rollback() error { t.l.rolled++; return nil }

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s, _ := newTestStore(t)

	id, err := s.Append(context.Background(), draftRecord("edit file", model.TierLow, model.DecisionProceed))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, "edit file", rec.What)
	assert.False(t, rec.OccurredAt.IsZero())
	assert.Equal(t, time.UTC, rec.OccurredAt.Location())
	assert.Equal(t, model.ZeroCost(), rec.Cost)
}

func TestConcurrentAppendsAreDistinctAndOrdered(t *testing.T) {
	s, dir := newTestStore(t)

	const n = 100
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Append(context.Background(), draftRecord("concurrent", model.TierLow, model.DecisionProceed))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	records := s.Snapshot()
	require.Len(t, records, n)
	for i := 1; i < len(records); i++ {
		assert.True(t, records[i].OccurredAt.After(records[i-1].OccurredAt),
			"record %d not after record %d", i, i-1)
	}

	result := Verify(LedgerPath(dir, BackendJSONL))
	assert.True(t, result.Valid, result.Error)
	assert.Equal(t, n, result.Lines)

	entries, err := ParseJournal(JournalDir(dir))
	require.NoError(t, err)
	assert.Empty(t, CrossCheck(records, entries))
}

func TestAppendIsIdempotentByID(t *testing.T) {
	s, dir := newTestStore(t)

	rec := draftRecord("retry me", model.TierMedium, model.DecisionProceed)
	rec.ID = "0192f000-0000-7000-8000-000000000001"

	id1, err := s.Append(context.Background(), rec)
	require.NoError(t, err)
	id2, err := s.Append(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, Verify(LedgerPath(dir, BackendJSONL)).Lines)
}

func TestMirrorFailureRollsBackLedger(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenLog(LedgerPath(dir, BackendJSONL))
	require.NoError(t, err)
	mirror := &failingMirror{}
	s, err := New(context.Background(), ledger, mirror)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(context.Background(), draftRecord("lost", model.TierLow, model.DecisionProceed))
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 1, mirror.calls)
	assert.Equal(t, 0, s.Len())

	info, err := os.Stat(LedgerPath(dir, BackendJSONL))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "staged ledger line must be rolled back")
}

func TestLedgerStageFailureSkipsMirror(t *testing.T) {
	mirror := &undoCountingMirror{}
	s, err := New(context.Background(), &failingLedger{stageErr: errors.New("io error")}, mirror)
	require.NoError(t, err)

	_, err = s.Append(context.Background(), draftRecord("x", model.TierLow, model.DecisionProceed))
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Zero(t, mirror.appended)
}

func TestLedgerCommitFailureUndoesMirror(t *testing.T) {
	mirror := &undoCountingMirror{}
	s, err := New(context.Background(), &failingLedger{commitErr: errors.New("commit failed")}, mirror)
	require.NoError(t, err)

	_, err = s.Append(context.Background(), draftRecord("x", model.TierLow, model.DecisionProceed))
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 1, mirror.undone)
	assert.Equal(t, 0, s.Len())
}

func TestReadUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Read("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFixedClockStillStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, WithClock(func() time.Time { return fixed }))

	for i := 0; i < 3; i++ {
		_, err := s.Append(context.Background(), draftRecord("tick", model.TierLow, model.DecisionProceed))
		require.NoError(t, err)
	}
	records := s.Snapshot()
	assert.Equal(t, fixed, records[0].OccurredAt)
	assert.Equal(t, fixed.Add(2*time.Nanosecond), records[2].OccurredAt)
}

func TestReopenRestoresIndexAndOrdering(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return fixed })

	s1, err := Open(context.Background(), dir, BackendJSONL, clock)
	require.NoError(t, err)
	first, err := s1.Append(context.Background(), draftRecord("before restart", model.TierHigh, model.DecisionTimedApproval))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(context.Background(), dir, BackendJSONL, clock)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.Read(first)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionTimedApproval, rec.Decision)

	second, err := s2.Append(context.Background(), draftRecord("after restart", model.TierLow, model.DecisionProceed))
	require.NoError(t, err)
	rec2, _ := s2.Read(second)
	assert.True(t, rec2.OccurredAt.After(rec.OccurredAt))

	assert.True(t, Verify(LedgerPath(dir, BackendJSONL)).Valid)
}

func TestSnapshotIsStableAcrossAppends(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Append(context.Background(), draftRecord("one", model.TierLow, model.DecisionProceed))
	require.NoError(t, err)

	before := s.Snapshot()
	_, err = s.Append(context.Background(), draftRecord("two", model.TierLow, model.DecisionProceed))
	require.NoError(t, err)

	assert.Len(t, before, 1)
	assert.Len(t, s.Snapshot(), 2)
}

func TestScanFilterLimitReverse(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, tier := range []model.RiskTier{model.TierLow, model.TierHigh, model.TierLow, model.TierHigh} {
		_, err := s.Append(ctx, draftRecord("scan "+string(tier), tier, model.DecisionProceed))
		require.NoError(t, err)
	}

	high := s.Scan(Filter{Tier: model.TierHigh})
	assert.Len(t, high, 2)

	last := s.Scan(Filter{Reverse: true, Limit: 1})
	require.Len(t, last, 1)
	assert.Equal(t, model.TierHigh, last[0].Tier)
	assert.Equal(t, s.Snapshot()[3].ID, last[0].ID)
}

func TestAppendAfterCloseFails(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())
	_, err := s.Append(context.Background(), draftRecord("late", model.TierLow, model.DecisionProceed))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), "csv")
	assert.Error(t, err)
}

func TestOversizedRecordIsRefusedBeforeWriting(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)
	_, err := s.Append(ctx, draftRecord("before", model.TierLow, model.DecisionProceed))
	require.NoError(t, err)

	for _, what := range []string{
		strings.Repeat("x", 5<<20),
		strings.Repeat("<", 1<<20), // escapes to six bytes per character
	} {
		_, err = s.Append(ctx, draftRecord(what, model.TierLow, model.DecisionProceed))
		require.ErrorIs(t, err, ErrRecordTooLarge)
		assert.ErrorIs(t, err, model.ErrMalformedAction)
		assert.NotErrorIs(t, err, ErrStorageUnavailable)
	}
	assert.Equal(t, 1, s.Len())

	big := draftRecord(strings.Repeat("y", 3<<20), model.TierLow, model.DecisionProceed)
	_, err = s.Append(ctx, big)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, dir, BackendJSONL)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Len())
	assert.True(t, Verify(LedgerPath(dir, BackendJSONL)).Valid)

	entries, err := ParseJournal(JournalDir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Empty(t, CrossCheck(reopened.Snapshot(), entries))
}
