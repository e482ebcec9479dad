package seeding

import (
	"time"

	"github.com/google/uuid"
)

// PreOrder is the body POST /preorders accepts.
type PreOrder struct {
	Reservation Reservation `json:"reservation"`
	Items       []Item      `json:"items"`
}

type Reservation struct {
	ID                  uuid.UUID `json:"id"`
	RestaurantID        string    `json:"restaurant_id"`
	PartySize           int       `json:"party_size"`
	StartAt             time.Time `json:"start_at"`
	PrepMinutesOverride *int      `json:"prep_minutes_override,omitempty"`
}

type Item struct {
	Name            string   `json:"name"`
	Quantity        int      `json:"quantity"`
	PrepTimeMinutes *int     `json:"prep_time_minutes,omitempty"`
	Modifiers       []string `json:"modifiers,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Allergens       []string `json:"allergens,omitempty"`
}

type demoDish struct {
	name      string
	prep      int
	allergens []string
}

var demoMenu = []demoDish{
	{name: "Burrata", prep: 5, allergens: []string{"dairy"}},
	{name: "Grilled octopus", prep: 14, allergens: []string{"mollusc"}},
	{name: "Mushroom risotto", prep: 22, allergens: []string{"dairy"}},
	{name: "Short rib", prep: 28},
	{name: "Sea bass", prep: 18, allergens: []string{"fish"}},
	{name: "Tiramisu", prep: 4, allergens: []string{"egg", "dairy", "gluten"}},
}

// demoOffsets spreads reservation starts around now so a fresh board shows
// every pacing state: late, warning, on time and not yet due.
var demoOffsets = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	25 * time.Minute,
	40 * time.Minute,
	75 * time.Minute,
	2 * time.Hour,
}

// DemoPreOrders builds one pre-order per demo slot for restaurantID.
func DemoPreOrders(restaurantID string, now time.Time) []PreOrder {
	orders := make([]PreOrder, 0, len(demoOffsets))
	for i, offset := range demoOffsets {
		party := 2 + i%4

		items := make([]Item, 0, 3)
		for j := 0; j < 3; j++ {
			dish := demoMenu[(i+j*2)%len(demoMenu)]
			prep := dish.prep
			items = append(items, Item{
				Name:            dish.name,
				Quantity:        1 + (party+j)%3,
				PrepTimeMinutes: &prep,
				Allergens:       dish.allergens,
			})
		}
		if i == 3 {
			items[0].Notes = "Birthday table, candle on dessert"
			items[0].Modifiers = []string{"no garnish"}
		}

		orders = append(orders, PreOrder{
			Reservation: Reservation{
				ID:           uuid.New(),
				RestaurantID: restaurantID,
				PartySize:    party,
				StartAt:      now.Add(offset).Truncate(time.Minute),
			},
			Items: items,
		})
	}
	return orders
}
