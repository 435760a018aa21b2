package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
	"github.com/Mutual-Roots/Ford-Perfect/internal/telemetry"
)

const transitionPrefix = "state transition "

// Store is the part of the audit store the controller needs.
type Store interface {
	Append(ctx context.Context, rec model.ActionRecord) (string, error)
	Scan(f audit.Filter) []model.ActionRecord
}

// Controller owns the operational state. Readers take a snapshot through an
// atomic pointer; writers are serialized and publish by compare-and-swap.
type Controller struct {
	mu       sync.Mutex
	cur      atomic.Pointer[Snapshot]
	store    Store
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) { c.notifier = notify.OrNop(n) }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController starts in RUNNING at version 0. Call Restore to resume
// from the audit history.
func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cur.Store(&Snapshot{Mode: Running, ChangedAt: c.now().UTC()})
	return c
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	return *c.cur.Load()
}

// Restore sets the state from the most recent transition record in the
// store. A FREEZE therefore survives restarts.
func (c *Controller) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.store.Scan(audit.Filter{Category: model.CategoryEmergency})
	var (
		last    *model.ActionRecord
		version uint64
	)
	for i := range history {
		if !isTransitionRecord(history[i]) {
			continue
		}
		version++
		last = &history[i]
	}
	if last == nil {
		return nil
	}
	mode, reason, err := ParseState(last.Outcome)
	if err != nil {
		return fmt.Errorf("state: restore from %s: %w", last.ID, err)
	}
	next := &Snapshot{
		Mode:      mode,
		Reason:    reason,
		Version:   version,
		ChangedAt: last.OccurredAt,
		ChangedBy: last.SessionID,
	}
	c.cur.Store(next)
	c.logger.Info("operational state restored",
		zap.String("state", next.String()), zap.Uint64("version", version), zap.String("record", last.ID))
	return nil
}

func isTransitionRecord(r model.ActionRecord) bool {
	return r.Category == model.CategoryEmergency &&
		r.Tier == model.TierCritical &&
		r.PendingID == "" &&
		r.Corrects == "" &&
		strings.HasPrefix(r.What, transitionPrefix)
}

// Pause moves RUNNING to PAUSED.
func (c *Controller) Pause(ctx context.Context, by, reason string) (Snapshot, error) {
	return c.Apply(ctx, CmdPause, OriginSupervisor, by, reason)
}

// Resume moves PAUSED or STOPPED back to RUNNING.
func (c *Controller) Resume(ctx context.Context, by, reason string) (Snapshot, error) {
	return c.Apply(ctx, CmdResume, OriginSupervisor, by, reason)
}

// Stop moves RUNNING or PAUSED to STOPPED(reason).
func (c *Controller) Stop(ctx context.Context, by, reason string) (Snapshot, error) {
	return c.Apply(ctx, CmdStop, OriginSupervisor, by, reason)
}

// Freeze moves any non-frozen state to FROZEN.
func (c *Controller) Freeze(ctx context.Context, by, reason string) (Snapshot, error) {
	return c.Apply(ctx, CmdFreeze, OriginSupervisor, by, reason)
}

// Reset is the privileged manual-review exit from FROZEN.
func (c *Controller) Reset(ctx context.Context, operator, note string) (Snapshot, error) {
	if strings.TrimSpace(operator) == "" {
		return c.Snapshot(), fmt.Errorf("%w: operator identity", ErrReasonRequired)
	}
	return c.transition(ctx, CmdReset, OriginOperator, operator, note, rules[CmdReset])
}

// SelfPause lets the agent restrict itself: RUNNING to PAUSED only.
func (c *Controller) SelfPause(ctx context.Context, reason string) (Snapshot, error) {
	return c.transition(ctx, CmdPause, OriginAgent, "agent", reason, selfRules[CmdPause])
}

// SelfStop lets the agent stop itself: RUNNING to STOPPED only.
func (c *Controller) SelfStop(ctx context.Context, reason string) (Snapshot, error) {
	return c.transition(ctx, CmdStop, OriginAgent, "agent", reason, selfRules[CmdStop])
}

// Apply runs a supervisor or operator command. RESET is only accepted from
// OriginOperator; use Reset.
func (c *Controller) Apply(ctx context.Context, cmd Command, origin Origin, by, reason string) (Snapshot, error) {
	switch origin {
	case OriginAgent:
		r, ok := selfRules[cmd]
		if !ok {
			return c.Snapshot(), fmt.Errorf("%w: agent may not %s", ErrInvalidTransition, cmd)
		}
		return c.transition(ctx, cmd, origin, by, reason, r)
	case OriginSupervisor:
		if cmd == CmdReset {
			return c.Snapshot(), fmt.Errorf("%w: RESET requires the privileged operator path", ErrInvalidTransition)
		}
	case OriginOperator:
		if cmd == CmdReset {
			return c.Reset(ctx, by, reason)
		}
	default:
		return c.Snapshot(), fmt.Errorf("state: unknown origin %q", origin)
	}
	r, ok := rules[cmd]
	if !ok {
		return c.Snapshot(), fmt.Errorf("state: unknown command %q", cmd)
	}
	return c.transition(ctx, cmd, origin, by, reason, r)
}

func (c *Controller) transition(ctx context.Context, cmd Command, origin Origin, by, reason string, r rule) (Snapshot, error) {
	reason = strings.TrimSpace(reason)
	if (cmd == CmdStop || cmd == CmdReset) && reason == "" {
		return c.Snapshot(), fmt.Errorf("%w: %s", ErrReasonRequired, cmd)
	}
	if err := model.CheckText("reason", reason); err != nil {
		return c.Snapshot(), err
	}
	if err := model.CheckText("by", by); err != nil {
		return c.Snapshot(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.cur.Load()
	if !r.allows(cur.Mode) {
		return *cur, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, cmd, cur)
	}

	actor := string(origin)
	if by != "" {
		actor += ":" + by
	}
	next := &Snapshot{
		Mode:      r.to,
		Reason:    reason,
		Version:   cur.Version + 1,
		ChangedAt: c.now().UTC(),
		ChangedBy: actor,
	}

	why := reason
	if why == "" {
		why = fmt.Sprintf("%s %s", origin, cmd)
	}
	rec := model.ActionRecord{
		What:         fmt.Sprintf("%s%s -> %s", transitionPrefix, cur.Mode, r.to),
		Why:          why,
		Tier:         model.TierCritical,
		Category:     model.CategoryEmergency,
		Cost:         model.ZeroCost(),
		Outcome:      next.String(),
		RollbackPlan: inverse(cmd),
		SessionID:    actor,
		Decision:     model.DecisionProceed,
		Reason:       fmt.Sprintf("%s by %s", cmd, actor),
	}

	id, appendErr := c.store.Append(ctx, rec)
	if appendErr != nil {
		c.logger.Error("state transition not recorded",
			zap.String("command", string(cmd)), zap.String("from", cur.String()), zap.Error(appendErr))
		c.notifier.Notify(notify.Event{
			Type:      notify.StorageFault,
			Timestamp: c.now().UTC(),
			What:      rec.What,
			Reason:    appendErr.Error(),
		})
		if !restrictive(r.to) {
			return *cur, fmt.Errorf("state: %s not applied: %w", cmd, appendErr)
		}
	}

	if !c.cur.CompareAndSwap(cur, next) {
		return *c.cur.Load(), fmt.Errorf("state: concurrent update during %s", cmd)
	}

	c.metrics.Transition(ctx, string(cur.Mode), string(r.to))
	c.logger.Info("operational state changed",
		zap.String("from", cur.String()), zap.String("to", next.String()),
		zap.String("by", actor), zap.Uint64("version", next.Version))
	c.notifier.Notify(notify.Event{
		Type:      notify.StateChanged,
		Timestamp: next.ChangedAt,
		RecordID:  id,
		Tier:      model.TierCritical,
		What:      rec.What,
		Reason:    why,
		State:     next.String(),
	})

	if appendErr != nil {
		return *next, fmt.Errorf("state: %s applied but not recorded: %w", cmd, appendErr)
	}
	return *next, nil
}
