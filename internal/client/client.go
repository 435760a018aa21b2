// Package client talks to a warden server over gRPC.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	pb "github.com/Mutual-Roots/Ford-Perfect/api/warden/v1"
	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/emergency"
	"github.com/Mutual-Roots/Ford-Perfect/internal/gate"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/query"
	"github.com/Mutual-Roots/Ford-Perfect/internal/report"
	"github.com/Mutual-Roots/Ford-Perfect/internal/server"
	"github.com/Mutual-Roots/Ford-Perfect/internal/state"
)

// ErrUnreachable is returned when the server cannot be reached.
var ErrUnreachable = errors.New("client: warden server unreachable")

// callTimeout bounds every call except Propose, which may wait for a
// supervisor.
const callTimeout = 5 * time.Second

// sentinels are recovered from status messages, most specific first.
var sentinels = []error{
	model.ErrMalformedAction,
	emergency.ErrMalformedCommand,
	audit.ErrStorageUnavailable,
	audit.ErrNotFound,
	gate.ErrPendingNotFound,
	gate.ErrAlreadyResolved,
	state.ErrInvalidTransition,
	state.ErrReasonRequired,
	report.ErrInvalidWindow,
}

// Client connects to a warden gRPC server.
type Client struct {
	conn   *grpc.ClientConn
	client pb.GovernanceClient
}

// New creates a gRPC client for the given address.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to warden server: %w", err)
	}
	return &Client{
		conn:   conn,
		client: pb.NewGovernanceClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type rpc func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

func (c *Client) do(ctx context.Context, fn rpc, in, out any) error {
	req, err := pb.Encode(in)
	if err != nil {
		return err
	}
	resp, err := fn(ctx, req)
	if err != nil {
		return fromStatus(err)
	}
	return pb.Decode(resp, out)
}

func timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

// Propose submits an action and waits for the decision. Fail-closed: any
// transport or server fault yields a BLOCKED result alongside the error.
func (c *Client) Propose(ctx context.Context, draft model.ActionDraft) (gate.Result, error) {
	var res gate.Result
	if err := c.do(ctx, c.client.Propose, draft, &res); err != nil {
		return gate.Result{
			Outcome:  gate.OutcomeBlocked,
			Decision: model.DecisionBlocked,
			Reason:   fmt.Sprintf("warden decision unavailable: %v", err),
		}, err
	}
	return res, nil
}

// RecordOutcome reports what happened after an action.
func (c *Client) RecordOutcome(ctx context.Context, correctsID, outcome string) (string, error) {
	ctx, cancel := timeout(ctx)
	defer cancel()
	var out map[string]string
	if err := c.do(ctx, c.client.Outcome, server.OutcomeRequest{Corrects: correctsID, Outcome: outcome}, &out); err != nil {
		return "", err
	}
	return out["id"], nil
}

// Submit sends a supervisor command.
func (c *Client) Submit(ctx context.Context, cmd emergency.Command) (emergency.Receipt, error) {
	ctx, cancel := timeout(ctx)
	defer cancel()
	var rcpt emergency.Receipt
	err := c.do(ctx, c.client.Command, cmd, &rcpt)
	return rcpt, err
}

// ManualReset asks the server to leave FROZEN.
func (c *Client) ManualReset(ctx context.Context, operator, note string) (state.Snapshot, error) {
	ctx, cancel := timeout(ctx)
	defer cancel()
	var snap state.Snapshot
	err := c.do(ctx, c.client.Reset, server.ResetRequest{Operator: operator, Note: note}, &snap)
	return snap, err
}

// Query runs a filter on the server.
func (c *Client) Query(ctx context.Context, p query.Params, countOnly bool) (server.QueryResponse, error) {
	ctx, cancel := timeout(ctx)
	defer cancel()
	var out server.QueryResponse
	err := c.do(ctx, c.client.Query, server.QueryRequest{Params: p, CountOnly: countOnly}, &out)
	return out, err
}

// Summary asks the server for a summary window.
func (c *Client) Summary(ctx context.Context, req server.SummaryRequest) (report.SummaryWindow, error) {
	ctx, cancel := timeout(ctx)
	defer cancel()
	var out report.SummaryWindow
	err := c.do(ctx, c.client.Summary, req, &out)
	return out, err
}

// ListPending returns the approvals awaiting the supervisor.
func (c *Client) ListPending(ctx context.Context) ([]gate.Pending, error) {
	ctx, cancel := timeout(ctx)
	defer cancel()
	var out struct {
		Pending []gate.Pending `json:"pending"`
	}
	if err := c.do(ctx, c.client.ListPending, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}

// State returns the server's operational state.
func (c *Client) State(ctx context.Context) (server.StateResponse, error) {
	ctx, cancel := timeout(ctx)
	defer cancel()
	var out server.StateResponse
	err := c.do(ctx, c.client.State, struct{}{}, &out)
	return out, err
}

// fromStatus turns a gRPC error back into the engine's sentinel errors.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		if !strings.Contains(st.Message(), audit.ErrStorageUnavailable.Error()) {
			return fmt.Errorf("%w: %s", ErrUnreachable, st.Message())
		}
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	}
	for _, s := range sentinels {
		if strings.Contains(st.Message(), s.Error()) {
			return &remoteError{msg: st.Message(), target: s}
		}
	}
	return fmt.Errorf("client: %s: %s", st.Code(), st.Message())
}

// remoteError keeps the server's message and unwraps to the sentinel it names.
type remoteError struct {
	msg    string
	target error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.target }
