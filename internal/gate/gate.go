// Package gate decides whether a proposed action may proceed, applying the
// approval protocol of its risk tier, and commits exactly one terminal
// record per proposal.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
	"github.com/Mutual-Roots/Ford-Perfect/internal/state"
	"github.com/Mutual-Roots/Ford-Perfect/internal/telemetry"
)

var (
	ErrPendingNotFound = errors.New("gate: pending approval not found")
	ErrAlreadyResolved = errors.New("gate: pending approval already resolved")
)

// DefaultHighWindow is how long a HIGH action waits for a veto.
const DefaultHighWindow = 5 * time.Minute

// Outcome is what the caller does next.
type Outcome string

const (
	OutcomeProceed Outcome = "PROCEED"
	OutcomeBlocked Outcome = "BLOCKED"
)

// Result is the answer to one proposal.
type Result struct {
	Outcome   Outcome        `json:"outcome"`
	Decision  model.Decision `json:"decision"`
	RecordID  string         `json:"record_id"`
	PendingID string         `json:"pending_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Store is the part of the audit store the gate writes through.
type Store interface {
	Append(ctx context.Context, rec model.ActionRecord) (string, error)
	Read(id string) (model.ActionRecord, error)
}

// StateReader exposes the current operational state.
type StateReader interface {
	Snapshot() state.Snapshot
}

// Gate evaluates proposals.
type Gate struct {
	store    Store
	state    StateReader
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
	window   atomic.Int64

	mu      sync.Mutex
	pending map[string]*pending
}

// Option configures a Gate.
type Option func(*Gate)

func WithNotifier(n notify.Notifier) Option {
	return func(g *Gate) { g.notifier = notify.OrNop(n) }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithHighWindow sets the HIGH veto window. Non-positive values keep the default.
func WithHighWindow(d time.Duration) Option {
	return func(g *Gate) { g.SetHighWindow(d) }
}

// New creates a Gate writing to store and consulting st.
func New(store Store, st StateReader, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		state:    st,
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
		now:      time.Now,
		pending:  make(map[string]*pending),
	}
	g.window.Store(int64(DefaultHighWindow))
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetHighWindow changes the window for HIGH approvals opened from now on.
func (g *Gate) SetHighWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	g.window.Store(int64(d))
}

// HighWindow returns the current HIGH veto window.
func (g *Gate) HighWindow() time.Duration {
	return time.Duration(g.window.Load())
}

// Propose evaluates draft and blocks until it reaches a terminal decision.
// A malformed draft returns model.ErrMalformedAction and writes nothing.
// Any audit failure returns audit.ErrStorageUnavailable; the action is
// then not authorized.
func (g *Gate) Propose(ctx context.Context, draft model.ActionDraft) (Result, error) {
	if err := draft.Validate(); err != nil {
		return Result{}, err
	}
	if strings.EqualFold(draft.Category, model.CategoryEmergency) {
		return Result{}, fmt.Errorf("%w: category %q is reserved for state transitions",
			model.ErrMalformedAction, model.CategoryEmergency)
	}

	snap := g.state.Snapshot()
	if !snap.Running() {
		reason := fmt.Sprintf("operational state is %s", snap)
		return g.commit(ctx, model.NewRecord(draft, model.DecisionBlocked, reason))
	}

	switch draft.Tier {
	case model.TierLow:
		return g.commit(ctx, model.NewRecord(draft, model.DecisionProceed, "low risk"))
	case model.TierMedium:
		rec := model.NewRecord(draft, model.DecisionProceed, "medium risk, flagged for summary")
		rec.Flagged = true
		return g.commit(ctx, rec)
	default:
		return g.await(ctx, draft)
	}
}

func (g *Gate) await(ctx context.Context, draft model.ActionDraft) (Result, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return Result{}, fmt.Errorf("gate: pending id: %w", err)
	}
	opened := g.now().UTC()
	var (
		deadline time.Time
		timeout  <-chan time.Time
		window   = g.HighWindow()
	)
	if draft.Tier == model.TierHigh {
		deadline = opened.Add(window)
		timer := time.NewTimer(window)
		defer timer.Stop()
		timeout = timer.C
	}

	p := newPending(uid.String(), draft, opened, deadline)
	g.mu.Lock()
	g.pending[p.id] = p
	g.mu.Unlock()
	g.metrics.PendingOpened(ctx, string(draft.Tier))
	defer func() {
		g.mu.Lock()
		delete(g.pending, p.id)
		g.mu.Unlock()
		g.metrics.PendingClosed(context.WithoutCancel(ctx), string(draft.Tier))
	}()

	ev := notify.Event{
		Type:      notify.ApprovalRequested,
		Timestamp: opened,
		PendingID: p.id,
		Tier:      draft.Tier,
		What:      draft.What,
		Reason:    draft.Why,
	}
	if !deadline.IsZero() {
		ev.Deadline = &deadline
	}
	g.notifier.Notify(ev)
	g.logger.Info("approval requested",
		zap.String("pending_id", p.id), zap.String("tier", string(draft.Tier)), zap.String("what", draft.What))

	select {
	case <-p.done:
	case <-timeout:
		p.resolve(ResolutionTimedOut, "timer", fmt.Sprintf("no veto within %s, auto-approved", window))
	case <-ctx.Done():
		p.resolve(ResolutionDenied, "caller", "cancelled by caller")
	}
	<-p.done

	decision := decisionFor(p.resolution())
	reason := p.reason
	if p.by != "" && p.by != "timer" && p.by != "caller" {
		reason = fmt.Sprintf("%s by %s", strings.ToLower(string(p.resolution())), p.by)
		if p.reason != "" {
			reason += ": " + p.reason
		}
	}

	rec := model.NewRecord(draft, decision, reason)
	rec.PendingID = p.id
	res, err := g.commit(ctx, rec)
	g.notifier.Notify(notify.Event{
		Type:      notify.ApprovalResolved,
		Timestamp: g.now().UTC(),
		RecordID:  res.RecordID,
		PendingID: p.id,
		Tier:      draft.Tier,
		Decision:  decision,
		What:      draft.What,
		Reason:    reason,
	})
	return res, err
}

func decisionFor(r Resolution) model.Decision {
	switch r {
	case ResolutionApproved:
		return model.DecisionProceed
	case ResolutionTimedOut:
		return model.DecisionTimedApproval
	case ResolutionVetoed:
		return model.DecisionVetoed
	default:
		return model.DecisionDenied
	}
}

// commit appends the terminal record. It ignores caller cancellation so a
// decision reached after a cancelled wait is still recorded.
func (g *Gate) commit(ctx context.Context, rec model.ActionRecord) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	res := Result{
		Outcome:   OutcomeBlocked,
		Decision:  rec.Decision,
		PendingID: rec.PendingID,
		Reason:    rec.Reason,
	}

	id, err := g.store.Append(ctx, rec)
	if err != nil {
		g.logger.Error("decision not recorded, failing closed",
			zap.String("tier", string(rec.Tier)), zap.String("decision", string(rec.Decision)), zap.Error(err))
		g.notifier.Notify(notify.Event{
			Type:      notify.StorageFault,
			Timestamp: g.now().UTC(),
			PendingID: rec.PendingID,
			Tier:      rec.Tier,
			Decision:  rec.Decision,
			What:      rec.What,
			Reason:    err.Error(),
		})
		res.Reason = "audit write failed"
		if !errors.Is(err, audit.ErrStorageUnavailable) {
			err = fmt.Errorf("%w: %w", audit.ErrStorageUnavailable, err)
		}
		return res, fmt.Errorf("gate: commit %s: %w", rec.Decision, err)
	}

	res.RecordID = id
	if rec.Decision.Authorizes() {
		res.Outcome = OutcomeProceed
	}
	g.metrics.Decision(ctx, string(rec.Tier), string(rec.Decision))
	g.logger.Debug("decision committed",
		zap.String("id", id), zap.String("tier", string(rec.Tier)), zap.String("decision", string(rec.Decision)))

	if res.Outcome == OutcomeBlocked && rec.Tier.RequiresApproval() {
		g.notifier.Notify(notify.Event{
			Type:      notify.ActionBlocked,
			Timestamp: g.now().UTC(),
			RecordID:  id,
			PendingID: rec.PendingID,
			Tier:      rec.Tier,
			Decision:  rec.Decision,
			What:      rec.What,
			Reason:    rec.Reason,
		})
	}
	return res, nil
}

// Pending lists open approvals, oldest first.
func (g *Gate) Pending() []Pending {
	g.mu.Lock()
	out := make([]Pending, 0, len(g.pending))
	for _, p := range g.pending {
		if p.resolution() == ResolutionOpen {
			out = append(out, p.view())
		}
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Approve resolves a pending approval so the action proceeds.
func (g *Gate) Approve(id, by string) error {
	return g.resolve(id, by, "", func(model.RiskTier) Resolution { return ResolutionApproved })
}

// Deny rejects a pending approval: VETOED for HIGH, DENIED for CRITICAL.
func (g *Gate) Deny(id, by, reason string) error {
	return g.resolve(id, by, reason, func(t model.RiskTier) Resolution {
		if t == model.TierHigh {
			return ResolutionVetoed
		}
		return ResolutionDenied
	})
}

// Veto is Deny under its HIGH-tier name.
func (g *Gate) Veto(id, by, reason string) error {
	return g.Deny(id, by, reason)
}

func (g *Gate) resolve(id, by, reason string, pick func(model.RiskTier) Resolution) error {
	g.mu.Lock()
	p, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPendingNotFound, id)
	}
	if by == "" {
		by = "supervisor"
	}
	r := pick(p.draft.Tier)
	if !p.resolve(r, by, reason) {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, p.resolution())
	}
	g.logger.Info("approval resolved",
		zap.String("pending_id", id), zap.String("resolution", string(r)), zap.String("by", by))
	return nil
}

// RecordOutcome appends a correction record reporting what happened after
// the action identified by correctsID was executed or aborted.
func (g *Gate) RecordOutcome(ctx context.Context, correctsID, outcome string) (string, error) {
	if strings.TrimSpace(outcome) == "" {
		return "", fmt.Errorf("%w: outcome is required", model.ErrMalformedAction)
	}
	if err := model.CheckText("outcome", outcome); err != nil {
		return "", err
	}
	orig, err := g.store.Read(correctsID)
	if err != nil {
		return "", err
	}
	if orig.Category == model.CategoryEmergency {
		return "", fmt.Errorf("%w: %s records an operational state change and takes no outcome", model.ErrMalformedAction, orig.ID)
	}
	rec := model.ActionRecord{
		What:         orig.What,
		Why:          "outcome report",
		Tier:         orig.Tier,
		Category:     orig.Category,
		Cost:         model.ZeroCost(),
		Outcome:      outcome,
		RollbackPlan: orig.RollbackPlan,
		SessionID:    orig.SessionID,
		Decision:     orig.Decision,
		Reason:       "outcome of " + orig.ID,
		Corrects:     orig.ID,
	}
	id, err := g.store.Append(context.WithoutCancel(ctx), rec)
	if err != nil {
		return "", fmt.Errorf("gate: record outcome: %w", err)
	}
	return id, nil
}

// ExitCode maps a proposal result to the process exit code:
// 0 proceed, 1 blocked, 2 malformed, 3 storage or system fault.
func ExitCode(res Result, err error) int {
	switch {
	case err == nil && res.Outcome == OutcomeProceed:
		return 0
	case errors.Is(err, model.ErrMalformedAction):
		return 2
	case err != nil:
		return 3
	default:
		return 1
	}
}
