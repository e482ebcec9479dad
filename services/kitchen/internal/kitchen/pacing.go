package kitchen

import (
	"math"
	"time"

	"github.com/appetiteclub/pacer/pkg/enums/pacing"
	"github.com/appetiteclub/pacer/pkg/enums/ticketstatus"
)

const (
	DefaultReadyBuffer = 5 * time.Minute

	// warningMinutes is how close to the fire time a pending ticket turns amber.
	warningMinutes = 2
	// firedWarningRatio is the share of the prep estimate after which a fired
	// ticket turns amber.
	firedWarningRatio = 0.8
)

// PacingEvaluation is the live pacing view of a ticket at one instant.
type PacingEvaluation struct {
	TargetFireTime    time.Time
	MinutesUntilFire  *int
	MinutesSinceFired *int
	Status            string
}

// PacingCalculator decides when a ticket should fire so food is ready
// ReadyBuffer after the guest is seated.
type PacingCalculator struct {
	ReadyBuffer time.Duration
}

func NewPacingCalculator(readyBuffer time.Duration) PacingCalculator {
	if readyBuffer <= 0 {
		readyBuffer = DefaultReadyBuffer
	}
	return PacingCalculator{ReadyBuffer: readyBuffer}
}

// TargetFireTime is reservationStart - prep + buffer.
func (p PacingCalculator) TargetFireTime(reservationStart time.Time, estimatedPrepMinutes int) time.Time {
	prep := time.Duration(estimatedPrepMinutes) * time.Minute
	return reservationStart.Add(-prep).Add(p.ReadyBuffer)
}

// Evaluate is pure: the same inputs always yield the same evaluation.
func (p PacingCalculator) Evaluate(now, reservationStart time.Time, estimatedPrepMinutes int, status string, firedAt *time.Time) PacingEvaluation {
	eval := PacingEvaluation{
		TargetFireTime: p.TargetFireTime(reservationStart, estimatedPrepMinutes),
	}

	switch status {
	case ticketstatus.Statuses.Pending.Code(), ticketstatus.Statuses.Hold.Code():
		until := floorMinutes(eval.TargetFireTime.Sub(now))
		eval.MinutesUntilFire = &until
		switch {
		case until < 0:
			eval.Status = pacing.Statuses.Late.Code()
		case until <= warningMinutes:
			eval.Status = pacing.Statuses.Warning.Code()
		default:
			eval.Status = pacing.Statuses.OnTime.Code()
		}

	case ticketstatus.Statuses.Fired.Code():
		since := 0
		if firedAt != nil {
			since = floorMinutes(now.Sub(*firedAt))
		}
		eval.MinutesSinceFired = &since
		switch {
		case since > estimatedPrepMinutes:
			eval.Status = pacing.Statuses.Late.Code()
		case float64(since) > float64(estimatedPrepMinutes)*firedWarningRatio:
			eval.Status = pacing.Statuses.Warning.Code()
		default:
			eval.Status = pacing.Statuses.OnTime.Code()
		}

	case ticketstatus.Statuses.Ready.Code(), ticketstatus.Statuses.Served.Code():
		eval.Status = pacing.Statuses.Ready.Code()
	}

	return eval
}

// EvaluateTicket evaluates a stored ticket.
func (p PacingCalculator) EvaluateTicket(now time.Time, t *Ticket) PacingEvaluation {
	return p.Evaluate(now, t.ReservationStartAt, t.EstimatedPrepMinutes, t.Status, t.FiredAt)
}

func floorMinutes(d time.Duration) int {
	return int(math.Floor(d.Minutes()))
}
