package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/gate"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/query"
	"github.com/Mutual-Roots/Ford-Perfect/internal/state"
)

// maxQueryRecords caps the records returned to the agent in one call.
const maxQueryRecords = 200

// --- Input/Output types ---

// ProposeInput defines parameters for the warden_propose tool.
type ProposeInput struct {
	What         string `json:"what" jsonschema:"what you are about to do"`
	Why          string `json:"why" jsonschema:"why you are doing it"`
	Tier         string `json:"risk_tier" jsonschema:"LOW, MEDIUM, HIGH or CRITICAL"`
	Category     string `json:"category,omitempty" jsonschema:"free-form category such as email or purchase"`
	CostAmount   string `json:"cost_amount,omitempty" jsonschema:"decimal amount, e.g. 0.25"`
	CostCurrency string `json:"cost_currency,omitempty" jsonschema:"ISO currency code, USD when omitted"`
	RollbackPlan string `json:"rollback_plan,omitempty" jsonschema:"how to undo the action; required for HIGH and CRITICAL"`
	SessionID    string `json:"session_id,omitempty"`
}

// ProposeOutput contains the decision.
type ProposeOutput struct {
	Outcome   string `json:"outcome"`
	Decision  string `json:"decision"`
	RecordID  string `json:"record_id,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Blocked   bool   `json:"blocked,omitempty"`
}

// OutcomeInput defines parameters for the warden_outcome tool.
type OutcomeInput struct {
	RecordID string `json:"record_id" jsonschema:"record_id returned by warden_propose"`
	Outcome  string `json:"outcome" jsonschema:"what actually happened"`
}

// OutcomeOutput confirms the outcome record.
type OutcomeOutput struct {
	ID string `json:"id"`
}

// QueryInput defines parameters for the warden_query tool.
type QueryInput struct {
	From      string `json:"from,omitempty" jsonschema:"inclusive lower bound, RFC3339 or YYYY-MM-DD"`
	To        string `json:"to,omitempty" jsonschema:"exclusive upper bound, RFC3339 or YYYY-MM-DD"`
	Tier      string `json:"risk_tier,omitempty" jsonschema:"LOW, MEDIUM, HIGH or CRITICAL"`
	Category  string `json:"category,omitempty"`
	Decision  string `json:"decision,omitempty" jsonschema:"PROCEED, TIMED_APPROVAL, VETOED, DENIED or BLOCKED"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty" jsonschema:"case-insensitive substring over what, why and outcome"`
	Flagged   bool   `json:"flagged,omitempty" jsonschema:"only MEDIUM actions that proceeded"`
	Limit     int    `json:"limit,omitempty"`
	Reverse   bool   `json:"reverse,omitempty" jsonschema:"newest first"`
	CountOnly bool   `json:"count_only,omitempty" jsonschema:"return only the count and cost totals"`
}

func (in QueryInput) params() query.Params {
	return query.Params{
		From:     in.From,
		To:       in.To,
		Tier:     in.Tier,
		Category: in.Category,
		Decision: in.Decision,
		Session:  in.SessionID,
		Text:     in.Text,
		Flagged:  in.Flagged,
		Limit:    in.Limit,
		Reverse:  in.Reverse,
	}
}

// QueryOutput lists matching records.
type QueryOutput struct {
	Count     int               `json:"count"`
	Cost      map[string]string `json:"cost"`
	Records   []RecordItem      `json:"records"`
	Truncated bool              `json:"truncated,omitempty"`
}

// RecordItem is an audit record as shown to the agent.
type RecordItem struct {
	ID         string `json:"id"`
	OccurredAt string `json:"occurred_at"`
	What       string `json:"what"`
	Why        string `json:"why"`
	Tier       string `json:"risk_tier"`
	Category   string `json:"category"`
	Cost       string `json:"cost"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Corrects   string `json:"corrects,omitempty"`
}

// StateInput is empty; no parameters needed.
type StateInput struct{}

// StateOutput describes the operational state.
type StateOutput struct {
	State     string        `json:"state"`
	Mode      string        `json:"mode"`
	ChangedAt string        `json:"changed_at"`
	ChangedBy string        `json:"changed_by,omitempty"`
	Pending   []PendingItem `json:"pending"`
}

// PendingItem describes a single approval request.
type PendingItem struct {
	ID       string `json:"id"`
	What     string `json:"what"`
	Tier     string `json:"risk_tier"`
	OpenedAt string `json:"opened_at"`
	Deadline string `json:"deadline,omitempty"`
}

// SelfInput defines parameters for the self-pause and self-stop tools.
type SelfInput struct {
	Reason string `json:"reason" jsonschema:"why you are pausing or stopping"`
}

// --- Handlers ---

func (s *Server) handlePropose(ctx context.Context, req *mcpsdk.CallToolRequest, input ProposeInput) (*mcpsdk.CallToolResult, ProposeOutput, error) {
	tier, err := model.ParseTier(input.Tier)
	if err != nil {
		return nil, ProposeOutput{}, err
	}
	session := input.SessionID
	if session == "" {
		session = s.session
	}
	draft := model.ActionDraft{
		What:         input.What,
		Why:          input.Why,
		Tier:         tier,
		Category:     input.Category,
		Cost:         model.Cost{Amount: input.CostAmount, Currency: input.CostCurrency},
		RollbackPlan: input.RollbackPlan,
		SessionID:    session,
	}
	res, err := s.svc.Gate.Propose(ctx, draft)
	if err != nil {
		if errors.Is(err, audit.ErrStorageUnavailable) {
			s.logger.Error("propose failed", zap.String("what", draft.What), zap.Error(err))
		}
		return nil, ProposeOutput{}, err
	}
	out := ProposeOutput{
		Outcome:   string(res.Outcome),
		Decision:  string(res.Decision),
		RecordID:  res.RecordID,
		PendingID: res.PendingID,
		Reason:    res.Reason,
	}
	if res.Outcome != gate.OutcomeProceed {
		out.Blocked = true
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleOutcome(ctx context.Context, req *mcpsdk.CallToolRequest, input OutcomeInput) (*mcpsdk.CallToolResult, OutcomeOutput, error) {
	id, err := s.svc.Gate.RecordOutcome(ctx, input.RecordID, input.Outcome)
	if err != nil {
		return nil, OutcomeOutput{}, err
	}
	return nil, OutcomeOutput{ID: id}, nil
}

func (s *Server) handleQuery(ctx context.Context, req *mcpsdk.CallToolRequest, input QueryInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	f, err := input.params().Filter()
	if err != nil {
		return nil, QueryOutput{}, err
	}
	agg := s.svc.Query.Aggregate(f)
	out := QueryOutput{Count: agg.Count, Cost: agg.Cost.Strings(), Records: []RecordItem{}}
	if input.CountOnly {
		return nil, out, nil
	}
	for r := range s.svc.Query.Query(f) {
		if len(out.Records) == maxQueryRecords {
			out.Truncated = true
			break
		}
		out.Records = append(out.Records, recordItem(r))
	}
	return nil, out, nil
}

func (s *Server) handleState(ctx context.Context, req *mcpsdk.CallToolRequest, input StateInput) (*mcpsdk.CallToolResult, StateOutput, error) {
	return nil, stateOutput(s.svc.State.Snapshot(), s.svc.Gate.Pending()), nil
}

func (s *Server) handleSelfPause(ctx context.Context, req *mcpsdk.CallToolRequest, input SelfInput) (*mcpsdk.CallToolResult, StateOutput, error) {
	snap, err := s.svc.State.SelfPause(ctx, input.Reason)
	if err != nil {
		return nil, StateOutput{}, err
	}
	return nil, stateOutput(snap, s.svc.Gate.Pending()), nil
}

func (s *Server) handleSelfStop(ctx context.Context, req *mcpsdk.CallToolRequest, input SelfInput) (*mcpsdk.CallToolResult, StateOutput, error) {
	snap, err := s.svc.State.SelfStop(ctx, input.Reason)
	if err != nil {
		return nil, StateOutput{}, err
	}
	return nil, stateOutput(snap, s.svc.Gate.Pending()), nil
}

func recordItem(r model.ActionRecord) RecordItem {
	return RecordItem{
		ID:         r.ID,
		OccurredAt: r.OccurredAt.UTC().Format(time.RFC3339Nano),
		What:       r.What,
		Why:        r.Why,
		Tier:       string(r.Tier),
		Category:   r.Category,
		Cost:       r.Cost.Amount + " " + r.Cost.Currency,
		Decision:   string(r.Decision),
		Reason:     r.Reason,
		Outcome:    r.Outcome,
		Corrects:   r.Corrects,
	}
}

func stateOutput(snap state.Snapshot, pending []gate.Pending) StateOutput {
	out := StateOutput{
		State:     snap.String(),
		Mode:      string(snap.Mode),
		ChangedAt: snap.ChangedAt.UTC().Format(time.RFC3339),
		ChangedBy: snap.ChangedBy,
		Pending:   make([]PendingItem, 0, len(pending)),
	}
	for _, p := range pending {
		item := PendingItem{
			ID:       p.ID,
			What:     p.Draft.What,
			Tier:     string(p.Draft.Tier),
			OpenedAt: p.OpenedAt.UTC().Format(time.RFC3339),
		}
		if p.Deadline != nil {
			item.Deadline = p.Deadline.UTC().Format(time.RFC3339)
		}
		out.Pending = append(out.Pending, item)
	}
	return out
}
