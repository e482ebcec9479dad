package event

import "time"

const (
	PreOrdersTopic         = "reservations.preorders"
	EventPreOrderConfirmed = "preorder.confirmed"
)

// PreOrderConfirmedEvent is emitted by the reservation service once a
// pre-order is confirmed or paid. The kitchen turns it into a ticket.
type PreOrderConfirmedEvent struct {
	EventType           string         `json:"event_type"`
	OccurredAt          time.Time      `json:"occurred_at"`
	ReservationID       string         `json:"reservation_id"`
	RestaurantID        string         `json:"restaurant_id"`
	PartySize           int            `json:"party_size"`
	StartAt             time.Time      `json:"start_at"`
	PrepMinutesOverride *int           `json:"prep_minutes_override,omitempty"`
	Items               []PreOrderItem `json:"items"`
}

type PreOrderItem struct {
	Name            string   `json:"name"`
	Quantity        int      `json:"quantity"`
	PrepTimeMinutes *int     `json:"prep_time_minutes,omitempty"`
	Modifiers       []string `json:"modifiers,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Allergens       []string `json:"allergens,omitempty"`
}
