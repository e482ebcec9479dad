package seeding

import (
	"testing"
	"time"
)

func TestDemoPreOrders(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 30, 0, time.UTC)
	orders := DemoPreOrders("rest-1", now)

	if len(orders) != len(demoOffsets) {
		t.Fatalf("len = %d, want %d", len(orders), len(demoOffsets))
	}

	seen := make(map[string]bool)
	for i, o := range orders {
		if o.Reservation.RestaurantID != "rest-1" {
			t.Errorf("[%d] restaurant = %q", i, o.Reservation.RestaurantID)
		}
		if seen[o.Reservation.ID.String()] {
			t.Errorf("[%d] duplicate reservation id %s", i, o.Reservation.ID)
		}
		seen[o.Reservation.ID.String()] = true

		if !o.Reservation.StartAt.After(now) || o.Reservation.StartAt.Second() != 0 {
			t.Errorf("[%d] start = %v, want a whole minute after now", i, o.Reservation.StartAt)
		}
		if o.Reservation.PartySize < 2 {
			t.Errorf("[%d] party size = %d", i, o.Reservation.PartySize)
		}
		if len(o.Items) == 0 {
			t.Errorf("[%d] no items", i)
		}
		for _, item := range o.Items {
			if item.Name == "" || item.Quantity <= 0 {
				t.Errorf("[%d] invalid item %+v", i, item)
			}
			if item.PrepTimeMinutes == nil || *item.PrepTimeMinutes < 0 {
				t.Errorf("[%d] item %q prep = %v", i, item.Name, item.PrepTimeMinutes)
			}
		}
	}
}
