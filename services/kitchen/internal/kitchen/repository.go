package kitchen

import (
	"context"
	"time"
)

type TicketFilter struct {
	// Statuses restricts results to these ticket statuses. Empty means every
	// active status.
	Statuses []string
	Limit    int
	Offset   int
}

// TicketPatch is the only mutation a store accepts after creation. Items and
// reservation data are never part of it.
type TicketPatch struct {
	// ExpectedStatus guards the write: it applies only while the stored status
	// still equals this value.
	ExpectedStatus string
	Status         string
	FiredAt        *time.Time
	ReadyAt        *time.Time
	ServedAt       *time.Time
	UpdatedAt      time.Time
}

// TicketRepository is the ticket store. Active tickets are those not SERVED;
// listings are ordered by target fire time, most urgent first.
type TicketRepository interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id TicketID) (*Ticket, error)
	FindActiveByReservation(ctx context.Context, id ReservationID) (*Ticket, error)
	ListActiveByRestaurant(ctx context.Context, restaurantID string, filter TicketFilter) ([]Ticket, error)
	ListActiveRestaurants(ctx context.Context) ([]string, error)
	Update(ctx context.Context, id TicketID, patch TicketPatch) error
}
