package event

import "time"

const (
	KitchenTicketsTopic       = "kitchen.tickets"
	EventKitchenTicketCreated = "kitchen.ticket.created"
	EventKitchenTicketUpdated = "kitchen.ticket.updated"
	EventKitchenTicketReady   = "kitchen.ticket.ready"
)

type KitchenTicketEventMetadata struct {
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	TicketID      string    `json:"ticket_id"`
	RestaurantID  string    `json:"restaurant_id"`
	ReservationID string    `json:"reservation_id"`
}

// KitchenTicketEvent mirrors a display push event for services that follow
// the kitchen over NATS instead of a display session.
type KitchenTicketEvent struct {
	KitchenTicketEventMetadata
	Status               string     `json:"status"`
	PreviousStatus       string     `json:"previous_status,omitempty"`
	PacingStatus         string     `json:"pacing_status,omitempty"`
	EstimatedPrepMinutes int        `json:"estimated_prep_minutes"`
	TargetFireTime       time.Time  `json:"target_fire_time"`
	FiredAt              *time.Time `json:"fired_at,omitempty"`
	ReadyAt              *time.Time `json:"ready_at,omitempty"`
	ServedAt             *time.Time `json:"served_at,omitempty"`
}
