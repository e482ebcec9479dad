package kitchen

import (
	"time"

	"github.com/appetiteclub/pacer/pkg/enums/ticketstatus"
)

var (
	pending = ticketstatus.Statuses.Pending.Code()
	hold    = ticketstatus.Statuses.Hold.Code()
	fired   = ticketstatus.Statuses.Fired.Code()
	ready   = ticketstatus.Statuses.Ready.Code()
	served  = ticketstatus.Statuses.Served.Code()
)

// stage is a status's position along the lifecycle, -1 when unknown.
// Transitions only move forward, so stage orders two reads of one ticket.
func stage(status string) int {
	for i, s := range ticketstatus.All {
		if s.Code() == status {
			return i
		}
	}
	return -1
}

// transitions lists every legal edge. SERVED has none.
var transitions = map[string]map[string]bool{
	pending: {hold: true, fired: true},
	hold:    {fired: true},
	fired:   {ready: true},
	ready:   {served: true},
	served:  {},
}

// StateMachine enforces the ticket lifecycle and stamps transition times.
type StateMachine struct{}

// CanTransition reports whether from->to is a legal edge.
func (StateMachine) CanTransition(from, to string) bool {
	next := transitions[from]
	return next != nil && next[to]
}

// Apply returns a copy of t moved to status to, or an *InvalidTransitionError.
// Firing an already fired ticket returns it unchanged so duplicate requests
// from displays succeed.
func (m StateMachine) Apply(t *Ticket, to string, now time.Time) (*Ticket, error) {
	if t.Status == fired && to == fired {
		return t.Clone(), nil
	}
	if !m.CanTransition(t.Status, to) {
		return nil, &InvalidTransitionError{TicketID: t.ID, From: t.Status, To: to}
	}

	next := t.Clone()
	next.Status = to
	next.UpdatedAt = now

	switch to {
	case fired:
		if next.FiredAt == nil {
			next.FiredAt = &now
		}
	case ready:
		next.ReadyAt = &now
	case served:
		next.ServedAt = &now
	}

	return next, nil
}

// patchFor builds the store patch that moves prev to next.
func patchFor(prev, next *Ticket) TicketPatch {
	patch := TicketPatch{
		ExpectedStatus: prev.Status,
		Status:         next.Status,
		UpdatedAt:      next.UpdatedAt,
	}
	if prev.FiredAt == nil && next.FiredAt != nil {
		patch.FiredAt = next.FiredAt
	}
	if prev.ReadyAt == nil && next.ReadyAt != nil {
		patch.ReadyAt = next.ReadyAt
	}
	if prev.ServedAt == nil && next.ServedAt != nil {
		patch.ServedAt = next.ServedAt
	}
	return patch
}

// Action is a display request mapped onto a target status.
type Action string

const (
	ActionFire   Action = "fire"
	ActionHold   Action = "hold"
	ActionReady  Action = "ready"
	ActionServed Action = "served"
)

var actionTargets = map[Action]string{
	ActionFire:   fired,
	ActionHold:   hold,
	ActionReady:  ready,
	ActionServed: served,
}

// Target returns the status an action moves a ticket to.
func (a Action) Target() (string, bool) {
	status, ok := actionTargets[a]
	return status, ok
}
