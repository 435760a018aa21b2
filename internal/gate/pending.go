package gate

import (
	"sync/atomic"
	"time"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

// Resolution is the state of a pending approval.
type Resolution string

const (
	ResolutionOpen     Resolution = "OPEN"
	ResolutionApproved Resolution = "APPROVED"
	ResolutionVetoed   Resolution = "VETOED"
	ResolutionDenied   Resolution = "DENIED"
	ResolutionTimedOut Resolution = "TIMED_OUT"
)

var resolutionCodes = []Resolution{
	ResolutionOpen, ResolutionApproved, ResolutionVetoed, ResolutionDenied, ResolutionTimedOut,
}

func resolutionCode(r Resolution) int32 {
	for i, known := range resolutionCodes {
		if known == r {
			return int32(i)
		}
	}
	return -1
}

// Pending is a read-only view of an open approval.
type Pending struct {
	ID       string            `json:"id"`
	Draft    model.ActionDraft `json:"action_draft"`
	OpenedAt time.Time         `json:"opened_at"`
	Deadline *time.Time        `json:"deadline,omitempty"`
}

// pending is resolved exactly once: the first CAS away from OPEN wins and
// closes done. by and reason are written before close and read after it.
type pending struct {
	id       string
	draft    model.ActionDraft
	openedAt time.Time
	deadline time.Time

	state  atomic.Int32
	by     string
	reason string
	done   chan struct{}
}

func newPending(id string, draft model.ActionDraft, openedAt, deadline time.Time) *pending {
	return &pending{
		id:       id,
		draft:    draft,
		openedAt: openedAt,
		deadline: deadline,
		done:     make(chan struct{}),
	}
}

func (p *pending) resolve(r Resolution, by, reason string) bool {
	if !p.state.CompareAndSwap(resolutionCode(ResolutionOpen), resolutionCode(r)) {
		return false
	}
	p.by = by
	p.reason = reason
	close(p.done)
	return true
}

func (p *pending) resolution() Resolution {
	return resolutionCodes[p.state.Load()]
}

func (p *pending) view() Pending {
	v := Pending{ID: p.id, Draft: p.draft, OpenedAt: p.openedAt}
	if !p.deadline.IsZero() {
		d := p.deadline
		v.Deadline = &d
	}
	return v
}
