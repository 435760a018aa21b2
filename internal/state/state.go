// Package state holds the process-wide operational state and its
// transition rules.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidTransition is returned when a command is not allowed from
	// the current state. Nothing changes.
	ErrInvalidTransition = errors.New("state: invalid transition")

	// ErrReasonRequired is returned by STOP and RESET without a reason.
	ErrReasonRequired = errors.New("state: reason required")
)

// Mode is the operational mode.
type Mode string

const (
	Running Mode = "RUNNING"
	Paused  Mode = "PAUSED"
	Stopped Mode = "STOPPED"
	Frozen  Mode = "FROZEN"
)

// Command is a state transition request.
type Command string

const (
	CmdPause  Command = "PAUSE"
	CmdResume Command = "RESUME"
	CmdStop   Command = "STOP"
	CmdFreeze Command = "FREEZE"
	CmdReset  Command = "RESET"
)

// Origin identifies who asked for a transition.
type Origin string

const (
	OriginSupervisor Origin = "supervisor"
	OriginAgent      Origin = "agent"
	OriginOperator   Origin = "operator"
)

// Snapshot is an immutable view of the operational state.
type Snapshot struct {
	Mode      Mode      `json:"mode"`
	Reason    string    `json:"reason,omitempty"`
	Version   uint64    `json:"version"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by,omitempty"`
}

// String renders the state as it appears in records, e.g. "STOPPED(disk full)".
func (s Snapshot) String() string {
	if s.Mode == Stopped {
		return fmt.Sprintf("%s(%s)", s.Mode, s.Reason)
	}
	return string(s.Mode)
}

// Running reports whether proposals may be evaluated.
func (s Snapshot) Running() bool { return s.Mode == Running }

// ParseState parses the String form back into mode and reason.
func ParseState(s string) (Mode, string, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, string(Stopped)+"("); ok && strings.HasSuffix(rest, ")") {
		return Stopped, strings.TrimSuffix(rest, ")"), nil
	}
	switch m := Mode(s); m {
	case Running, Paused, Frozen:
		return m, "", nil
	}
	return "", "", fmt.Errorf("state: cannot parse %q", s)
}

// ParseCommand accepts a command name in any case.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CmdPause, CmdResume, CmdStop, CmdFreeze, CmdReset:
		return c, nil
	}
	return "", fmt.Errorf("state: unknown command %q", s)
}

type rule struct {
	from []Mode
	to   Mode
}

var rules = map[Command]rule{
	CmdPause:  {from: []Mode{Running}, to: Paused},
	CmdResume: {from: []Mode{Paused, Stopped}, to: Running},
	CmdStop:   {from: []Mode{Running, Paused}, to: Stopped},
	CmdFreeze: {from: []Mode{Running, Paused, Stopped}, to: Frozen},
	CmdReset:  {from: []Mode{Frozen}, to: Running},
}

// Agents may only restrict themselves, and only while running.
var selfRules = map[Command]rule{
	CmdPause: {from: []Mode{Running}, to: Paused},
	CmdStop:  {from: []Mode{Running}, to: Stopped},
}

func (r rule) allows(m Mode) bool {
	for _, f := range r.from {
		if f == m {
			return true
		}
	}
	return false
}

// restrictive transitions apply even when they cannot be recorded.
func restrictive(to Mode) bool {
	return to != Running
}

func inverse(cmd Command) string {
	switch cmd {
	case CmdPause, CmdStop:
		return "supervisor RESUME"
	case CmdFreeze:
		return "privileged RESET after manual review"
	case CmdResume, CmdReset:
		return "supervisor PAUSE or STOP"
	}
	return "none"
}
