package state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
)

func newTestStore(t *testing.T) *audit.Store {
	t.Helper()
	s, err := audit.Open(context.Background(), t.TempDir(), audit.BackendJSONL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// flakyStore fails every append while down is set.
type flakyStore struct {
	*audit.Store
	mu   sync.Mutex
	down bool
}

func (f *flakyStore) Append(ctx context.Context, rec model.ActionRecord) (string, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return "", audit.ErrStorageUnavailable
	}
	return f.Store.Append(ctx, rec)
}

func (f *flakyStore) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func driveTo(t *testing.T, c *Controller, m Mode) {
	t.Helper()
	ctx := context.Background()
	var err error
	switch m {
	case Running:
	case Paused:
		_, err = c.Pause(ctx, "sup", "")
	case Stopped:
		_, err = c.Stop(ctx, "sup", "disk full")
	case Frozen:
		_, err = c.Freeze(ctx, "sup", "incident")
	}
	require.NoError(t, err)
	require.Equal(t, m, c.Snapshot().Mode)
}

func TestSupervisorTransitionTable(t *testing.T) {
	modes := []Mode{Running, Paused, Stopped, Frozen}
	allowed := map[Command]map[Mode]Mode{
		CmdPause:  {Running: Paused},
		CmdResume: {Paused: Running, Stopped: Running},
		CmdStop:   {Running: Stopped, Paused: Stopped},
		CmdFreeze: {Running: Frozen, Paused: Frozen, Stopped: Frozen},
	}

	for cmd, table := range allowed {
		for _, from := range modes {
			t.Run(string(cmd)+"_from_"+string(from), func(t *testing.T) {
				c := NewController(newTestStore(t))
				driveTo(t, c, from)

				snap, err := c.Apply(context.Background(), cmd, OriginSupervisor, "sup", "because")
				want, ok := table[from]
				if !ok {
					require.ErrorIs(t, err, ErrInvalidTransition)
					assert.Equal(t, from, snap.Mode)
					assert.Equal(t, from, c.Snapshot().Mode)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, want, snap.Mode)
				assert.Equal(t, want, c.Snapshot().Mode)
			})
		}
	}
}

func TestResetOnlyLeavesFrozen(t *testing.T) {
	ctx := context.Background()
	c := NewController(newTestStore(t))

	_, err := c.Reset(ctx, "ops", "reviewed")
	require.ErrorIs(t, err, ErrInvalidTransition)

	driveTo(t, c, Frozen)
	_, err = c.Resume(ctx, "sup", "")
	require.ErrorIs(t, err, ErrInvalidTransition, "RESUME must not unfreeze")

	_, err = c.Apply(ctx, CmdReset, OriginSupervisor, "sup", "please")
	require.ErrorIs(t, err, ErrInvalidTransition, "RESET is not a normal command")

	_, err = c.Reset(ctx, "", "reviewed")
	require.ErrorIs(t, err, ErrReasonRequired)
	_, err = c.Reset(ctx, "ops", "")
	require.ErrorIs(t, err, ErrReasonRequired)

	snap, err := c.Reset(ctx, "ops", "reviewed incident 42")
	require.NoError(t, err)
	assert.Equal(t, Running, snap.Mode)
	assert.Equal(t, "operator:ops", snap.ChangedBy)
}

func TestSelfTriggersOnlyRestrict(t *testing.T) {
	ctx := context.Background()
	c := NewController(newTestStore(t))

	snap, err := c.SelfPause(ctx, "uncertainty above threshold")
	require.NoError(t, err)
	assert.Equal(t, Paused, snap.Mode)

	_, err = c.Apply(ctx, CmdResume, OriginAgent, "agent", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = c.SelfStop(ctx, "giving up")
	require.ErrorIs(t, err, ErrInvalidTransition, "self-stop only from RUNNING")

	_, err = c.Resume(ctx, "sup", "")
	require.NoError(t, err)
	driveTo(t, c, Frozen)
	_, err = c.Apply(ctx, CmdReset, OriginAgent, "agent", "let me out")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = c.Apply(ctx, CmdFreeze, OriginAgent, "agent", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStopRequiresReason(t *testing.T) {
	c := NewController(newTestStore(t))
	_, err := c.Stop(context.Background(), "sup", "  ")
	require.ErrorIs(t, err, ErrReasonRequired)
	_, err = c.SelfStop(context.Background(), "")
	require.ErrorIs(t, err, ErrReasonRequired)
	assert.Equal(t, Running, c.Snapshot().Mode)
}

func TestTransitionsAreRecorded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := NewController(store)

	_, err := c.Stop(ctx, "alice", "disk full")
	require.NoError(t, err)
	_, err = c.Resume(ctx, "alice", "disk cleaned")
	require.NoError(t, err)

	records := store.Scan(audit.Filter{Category: model.CategoryEmergency})
	require.Len(t, records, 2)

	stop := records[0]
	assert.Equal(t, model.TierCritical, stop.Tier)
	assert.Equal(t, model.DecisionProceed, stop.Decision)
	assert.Equal(t, "state transition RUNNING -> STOPPED", stop.What)
	assert.Equal(t, "disk full", stop.Why)
	assert.Equal(t, "STOPPED(disk full)", stop.Outcome)
	assert.NotEmpty(t, stop.RollbackPlan)

	assert.Equal(t, "state transition STOPPED -> RUNNING", records[1].What)
	assert.Equal(t, uint64(2), c.Snapshot().Version)
}

func TestRestoreResumesLastState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	c1 := NewController(store)
	_, err := c1.Pause(ctx, "sup", "")
	require.NoError(t, err)
	_, err = c1.Freeze(ctx, "sup", "incident")
	require.NoError(t, err)

	c2 := NewController(store)
	require.NoError(t, c2.Restore())
	snap := c2.Snapshot()
	assert.Equal(t, Frozen, snap.Mode)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, "supervisor:sup", snap.ChangedBy)
}

func TestRestoreIgnoresNonTransitionRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Append(ctx, model.ActionRecord{
		What:      "state transition RUNNING -> FROZEN",
		Why:       "forged",
		Tier:      model.TierCritical,
		Category:  model.CategoryEmergency,
		Outcome:   "FROZEN",
		PendingID: "p-1",
		Decision:  model.DecisionProceed,
	})
	require.NoError(t, err)

	c := NewController(store)
	require.NoError(t, c.Restore())
	assert.Equal(t, Running, c.Snapshot().Mode)
}

func TestRestoreIgnoresCorrectionsOfTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c1 := NewController(store)
	_, err := c1.Freeze(ctx, "sup", "incident")
	require.NoError(t, err)
	freeze := store.Scan(audit.Filter{Category: model.CategoryEmergency})[0]

	for _, outcome := range []string{"RUNNING", "done, rolled back"} {
		corr := freeze
		corr.ID = ""
		corr.Outcome = outcome
		corr.Corrects = freeze.ID
		_, err := store.Append(ctx, corr)
		require.NoError(t, err)
	}

	c2 := NewController(store)
	require.NoError(t, c2.Restore())
	assert.Equal(t, Frozen, c2.Snapshot().Mode)
	assert.Equal(t, uint64(1), c2.Snapshot().Version)
}

func TestOversizedReasonIsRejected(t *testing.T) {
	store := newTestStore(t)
	c := NewController(store)
	_, err := c.Stop(context.Background(), "sup", strings.Repeat("r", model.MaxTextBytes+1))
	require.ErrorIs(t, err, model.ErrMalformedAction)
	assert.Equal(t, Running, c.Snapshot().Mode)
	assert.Zero(t, store.Len())
}

func TestRestrictiveTransitionAppliesWhenUnrecorded(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: newTestStore(t)}
	var faults []notify.Event
	c := NewController(store, WithNotifier(notify.Func(func(ev notify.Event) {
		if ev.Type == notify.StorageFault {
			faults = append(faults, ev)
		}
	})))

	store.setDown(true)
	snap, err := c.Freeze(ctx, "sup", "incident")
	require.ErrorIs(t, err, audit.ErrStorageUnavailable)
	assert.Equal(t, Frozen, snap.Mode)
	assert.Equal(t, Frozen, c.Snapshot().Mode)
	assert.Len(t, faults, 1)
}

func TestPermissiveTransitionFailsClosedWhenUnrecorded(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: newTestStore(t)}
	c := NewController(store)
	driveTo(t, c, Paused)

	store.setDown(true)
	snap, err := c.Resume(ctx, "sup", "")
	require.ErrorIs(t, err, audit.ErrStorageUnavailable)
	assert.Equal(t, Paused, snap.Mode)
	assert.Equal(t, Paused, c.Snapshot().Mode)

	store.setDown(false)
	driveTo(t, c, Frozen)
	store.setDown(true)
	_, err = c.Reset(ctx, "ops", "reviewed")
	require.True(t, errors.Is(err, audit.ErrStorageUnavailable))
	assert.Equal(t, Frozen, c.Snapshot().Mode)
}

func TestStateChangedIsNotified(t *testing.T) {
	hub := notify.NewHub(nil)
	events, cancel := hub.Subscribe(8)
	defer cancel()

	c := NewController(newTestStore(t), WithNotifier(hub))
	_, err := c.Stop(context.Background(), "sup", "maintenance")
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, notify.StateChanged, ev.Type)
	assert.Equal(t, "STOPPED(maintenance)", ev.State)
	assert.NotEmpty(t, ev.RecordID)
}

func TestConcurrentCommandsSerialize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := NewController(store)

	var wg sync.WaitGroup
	var applied sync.Map
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if snap, err := c.Pause(ctx, "sup", ""); err == nil {
				applied.Store(snap.Version, true)
			}
		}()
	}
	wg.Wait()

	n := 0
	applied.Range(func(any, any) bool { n++; return true })
	assert.Equal(t, 1, n, "exactly one PAUSE wins from RUNNING")
	assert.Len(t, store.Scan(audit.Filter{Category: model.CategoryEmergency}), 1)
}

func TestParseStateRoundTrip(t *testing.T) {
	for _, s := range []Snapshot{
		{Mode: Running},
		{Mode: Paused},
		{Mode: Frozen},
		{Mode: Stopped, Reason: "quota (daily) exceeded"},
	} {
		mode, reason, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s.Mode, mode)
		assert.Equal(t, s.Reason, reason)
	}
	_, _, err := ParseState("SLEEPING")
	assert.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(" freeze ")
	require.NoError(t, err)
	assert.Equal(t, CmdFreeze, cmd)
	_, err = ParseCommand("explode")
	assert.Error(t, err)
}
