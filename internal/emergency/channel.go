// Package emergency is the supervisor-facing control surface: operational
// state commands, approval resolution and the pending-approval event feed.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/gate"
	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
	"github.com/Mutual-Roots/Ford-Perfect/internal/state"
)

// ErrMalformedCommand is returned for commands that cannot be parsed or are
// missing a required argument.
var ErrMalformedCommand = errors.New("emergency: malformed command")

// Kind is a supervisor command name.
type Kind string

const (
	Pause   Kind = "PAUSE"
	Resume  Kind = "RESUME"
	Stop    Kind = "STOP"
	Freeze  Kind = "FREEZE"
	Reset   Kind = "RESET"
	Approve Kind = "APPROVE"
	Deny    Kind = "DENY"
)

// Kinds lists every command the channel understands.
var Kinds = []Kind{Pause, Resume, Stop, Freeze, Reset, Approve, Deny}

// Command is one supervisor instruction.
type Command struct {
	Kind      Kind   `json:"command"`
	Reason    string `json:"reason,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
	By        string `json:"by,omitempty"`
}

// ParseKind accepts a command name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown command %q", ErrMalformedCommand, s)
}

// ParseCommand parses the one-line form used by the CLI and inbox:
//
//	STOP disk full
//	APPROVE <pending-id>
//	DENY <pending-id> [reason]
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrMalformedCommand)
	}
	kind, err := ParseKind(fields[0])
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Kind: kind}
	rest := fields[1:]
	if kind == Approve || kind == Deny {
		if len(rest) == 0 {
			return Command{}, fmt.Errorf("%w: %s needs a pending id", ErrMalformedCommand, kind)
		}
		cmd.PendingID = rest[0]
		rest = rest[1:]
	}
	cmd.Reason = strings.Join(rest, " ")
	return cmd, cmd.Validate()
}

// Validate checks the arguments each command requires.
func (c Command) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	switch c.Kind {
	case Approve, Deny:
		if strings.TrimSpace(c.PendingID) == "" {
			return fmt.Errorf("%w: %s needs a pending id", ErrMalformedCommand, c.Kind)
		}
	case Stop:
		if strings.TrimSpace(c.Reason) == "" {
			return fmt.Errorf("%w: STOP needs a reason", ErrMalformedCommand)
		}
	}
	return nil
}

func (c Command) String() string {
	parts := []string{string(c.Kind)}
	if c.PendingID != "" {
		parts = append(parts, c.PendingID)
	}
	if c.Reason != "" {
		parts = append(parts, c.Reason)
	}
	return strings.Join(parts, " ")
}

// Controller is the state surface the channel drives.
type Controller interface {
	Snapshot() state.Snapshot
	Apply(ctx context.Context, cmd state.Command, origin state.Origin, by, reason string) (state.Snapshot, error)
	Reset(ctx context.Context, operator, note string) (state.Snapshot, error)
}

// Resolver is the approval surface the channel drives.
type Resolver interface {
	Pending() []gate.Pending
	Approve(id, by string) error
	Deny(id, by, reason string) error
}

// Receipt reports what a command did.
type Receipt struct {
	Command Command        `json:"command"`
	State   state.Snapshot `json:"state"`
	Error   string         `json:"error,omitempty"`
}

// Channel accepts supervisor commands.
type Channel struct {
	ctl    Controller
	res    Resolver
	hub    *notify.Hub
	logger *zap.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithHub lets supervisors subscribe to governance events through the channel.
func WithHub(h *notify.Hub) Option {
	return func(c *Channel) { c.hub = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Channel.
func New(ctl Controller, res Resolver, opts ...Option) *Channel {
	c := &Channel{ctl: ctl, res: res, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit runs a supervisor command. RESET is refused here; it is only
// available through ManualReset.
func (c *Channel) Submit(ctx context.Context, cmd Command) (Receipt, error) {
	if err := cmd.Validate(); err != nil {
		return Receipt{Command: cmd, State: c.ctl.Snapshot()}, err
	}
	by := cmd.By
	if by == "" {
		by = "supervisor"
	}

	var (
		snap state.Snapshot
		err  error
	)
	switch cmd.Kind {
	case Approve:
		err = c.res.Approve(cmd.PendingID, by)
		snap = c.ctl.Snapshot()
	case Deny:
		err = c.res.Deny(cmd.PendingID, by, cmd.Reason)
		snap = c.ctl.Snapshot()
	case Reset:
		snap = c.ctl.Snapshot()
		err = fmt.Errorf("%w: RESET requires a manual reset by an operator", state.ErrInvalidTransition)
	default:
		snap, err = c.ctl.Apply(ctx, state.Command(cmd.Kind), state.OriginSupervisor, by, cmd.Reason)
	}

	rcpt := Receipt{Command: cmd, State: snap}
	if err != nil {
		rcpt.Error = err.Error()
		c.logger.Warn("supervisor command failed", zap.String("command", cmd.String()), zap.Error(err))
		return rcpt, err
	}
	c.logger.Info("supervisor command applied", zap.String("command", cmd.String()), zap.String("state", snap.String()))
	return rcpt, nil
}

// ManualReset is the privileged exit from FROZEN. Both the operator
// identity and a review note are required.
func (c *Channel) ManualReset(ctx context.Context, operator, note string) (state.Snapshot, error) {
	return c.ctl.Reset(ctx, operator, note)
}

// State returns the current operational state.
func (c *Channel) State() state.Snapshot {
	return c.ctl.Snapshot()
}

// Pending lists approvals awaiting the supervisor.
func (c *Channel) Pending() []gate.Pending {
	return c.res.Pending()
}

// Events subscribes to governance events. Without a hub the returned
// channel is closed immediately.
func (c *Channel) Events(buffer int) (<-chan notify.Event, func()) {
	if c.hub == nil {
		ch := make(chan notify.Event)
		close(ch)
		return ch, func() {}
	}
	return c.hub.Subscribe(buffer)
}
