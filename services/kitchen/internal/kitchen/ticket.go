package kitchen

import (
	"time"

	"github.com/appetiteclub/pacer/pkg/enums/ticketstatus"
	"github.com/google/uuid"
)

type TicketID = uuid.UUID
type ReservationID = uuid.UUID

// Ticket is a kitchen work order derived from one reservation's pre-order.
type Ticket struct {
	ID                 TicketID      `bson:"_id" json:"id"`
	RestaurantID       string        `bson:"restaurant_id" json:"restaurant_id"`
	ReservationID      ReservationID `bson:"reservation_id" json:"reservation_id"`
	PartySize          int           `bson:"party_size" json:"party_size"`
	ReservationStartAt time.Time     `bson:"reservation_start_at" json:"reservation_start_at"`
	Status             string        `bson:"status" json:"status"`

	EstimatedPrepMinutes int       `bson:"estimated_prep_minutes" json:"estimated_prep_minutes"`
	PrepOverride         bool      `bson:"prep_override" json:"prep_override"`
	TargetFireTime       time.Time `bson:"target_fire_time" json:"target_fire_time"`

	FiredAt  *time.Time `bson:"fired_at,omitempty" json:"fired_at,omitempty"`
	ReadyAt  *time.Time `bson:"ready_at,omitempty" json:"ready_at,omitempty"`
	ServedAt *time.Time `bson:"served_at,omitempty" json:"served_at,omitempty"`

	ItemsSnapshot []ItemSnapshot `bson:"items_snapshot" json:"items_snapshot"`

	// Derived on every read, never persisted.
	PacingStatus      string `bson:"-" json:"pacing_status,omitempty"`
	MinutesUntilFire  *int   `bson:"-" json:"minutes_until_fire,omitempty"`
	MinutesSinceFired *int   `bson:"-" json:"minutes_since_fired,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ItemSnapshot is the copy of an ordered item captured when the ticket is
// created. Later menu edits never reach it.
type ItemSnapshot struct {
	Name            string   `bson:"name" json:"name"`
	Quantity        int      `bson:"quantity" json:"quantity"`
	PrepTimeMinutes *int     `bson:"prep_time_minutes,omitempty" json:"prep_time_minutes,omitempty"`
	Modifiers       []string `bson:"modifiers,omitempty" json:"modifiers,omitempty"`
	Notes           string   `bson:"notes,omitempty" json:"notes,omitempty"`
	Allergens       []string `bson:"allergens,omitempty" json:"allergens,omitempty"`
}

// Active reports whether the ticket still needs kitchen attention.
func (t *Ticket) Active() bool {
	return t.Status != ticketstatus.Statuses.Served.Code()
}

// Clone returns a deep copy, so callers can mutate a ticket without touching
// the one held by a cache or a store.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.FiredAt = cloneTime(t.FiredAt)
	c.ReadyAt = cloneTime(t.ReadyAt)
	c.ServedAt = cloneTime(t.ServedAt)
	c.MinutesUntilFire = cloneInt(t.MinutesUntilFire)
	c.MinutesSinceFired = cloneInt(t.MinutesSinceFired)
	c.ItemsSnapshot = cloneItems(t.ItemsSnapshot)
	return &c
}

// applyPacing copies a pacing evaluation onto the derived fields.
func (t *Ticket) applyPacing(eval PacingEvaluation) {
	t.PacingStatus = eval.Status
	t.MinutesUntilFire = cloneInt(eval.MinutesUntilFire)
	t.MinutesSinceFired = cloneInt(eval.MinutesSinceFired)
}

// Reservation is the subset of a reservation the kitchen needs to build a
// ticket for its pre-order.
type Reservation struct {
	ID           ReservationID `json:"id"`
	RestaurantID string        `json:"restaurant_id"`
	PartySize    int           `json:"party_size"`
	StartAt      time.Time     `json:"start_at"`
	// PrepMinutesOverride replaces the derived estimate when positive.
	PrepMinutesOverride *int `json:"prep_minutes_override,omitempty"`
}

type PreOrderItem struct {
	Name            string   `json:"name"`
	Quantity        int      `json:"quantity"`
	PrepTimeMinutes *int     `json:"prep_time_minutes,omitempty"`
	Modifiers       []string `json:"modifiers,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Allergens       []string `json:"allergens,omitempty"`
}

func snapshotItems(items []PreOrderItem) []ItemSnapshot {
	snapshot := make([]ItemSnapshot, 0, len(items))
	for _, item := range items {
		snapshot = append(snapshot, ItemSnapshot{
			Name:            item.Name,
			Quantity:        item.Quantity,
			PrepTimeMinutes: cloneInt(item.PrepTimeMinutes),
			Modifiers:       cloneStrings(item.Modifiers),
			Notes:           item.Notes,
			Allergens:       cloneStrings(item.Allergens),
		})
	}
	return snapshot
}

// EstimatePrepMinutes returns the slowest item's prep time. Items cook in
// parallel, so the estimate is a max, never a sum. Items with no known prep
// time count as fallback. Zero is a known prep time (drinks, bread).
func EstimatePrepMinutes(items []PreOrderItem, fallback int) int {
	estimate := -1
	for _, item := range items {
		prep := fallback
		if item.PrepTimeMinutes != nil && *item.PrepTimeMinutes >= 0 {
			prep = *item.PrepTimeMinutes
		}
		if prep > estimate {
			estimate = prep
		}
	}
	if estimate < 0 {
		return fallback
	}
	return estimate
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneItems(items []ItemSnapshot) []ItemSnapshot {
	if items == nil {
		return nil
	}
	out := make([]ItemSnapshot, len(items))
	for i, item := range items {
		out[i] = item
		out[i].PrepTimeMinutes = cloneInt(item.PrepTimeMinutes)
		out[i].Modifiers = cloneStrings(item.Modifiers)
		out[i].Allergens = cloneStrings(item.Allergens)
	}
	return out
}
