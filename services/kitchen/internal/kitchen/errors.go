package kitchen

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTicket   = errors.New("active ticket already exists for reservation")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrInvalidTransition = errors.New("invalid ticket transition")
	ErrStoreUnavailable  = errors.New("ticket store unavailable")
	ErrStaleTicket       = errors.New("ticket changed concurrently")
	ErrInvalidPreOrder   = errors.New("invalid pre-order")
	ErrUnknownAction     = errors.New("unknown ticket action")
)

// InvalidTransitionError carries the state the ticket is actually in so a
// display can resync.
type InvalidTransitionError struct {
	TicketID TicketID
	From     string
	To       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ticket %s cannot move from %s to %s", e.TicketID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
