package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pacer/cmd/utils/internal/seeding"
)

// SeedDemo pushes demo pre-orders to a running kitchen service. Each becomes
// a PENDING ticket paced against the current time.
func SeedDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	kitchenURL := config.GetStringOrDef("kitchen.url", defaultKitchenURL)
	restaurantID := config.GetStringOrDef("restaurant", defaultRestaurant)

	client := apt.NewServiceClient(kitchenURL)
	if client == nil {
		return fmt.Errorf("cannot create kitchen service client for %s", kitchenURL)
	}

	logger.Info("Seeding demo pre-orders", "kitchen", kitchenURL, "restaurant_id", restaurantID)

	var created int
	for _, order := range seeding.DemoPreOrders(restaurantID, time.Now().UTC()) {
		if _, err := client.Request(ctx, "POST", "/preorders", order); err != nil {
			logger.Infof("⚠️  Pre-order for reservation %s not accepted: %v", order.Reservation.ID, err)
			continue
		}
		created++
	}

	if created == 0 {
		return fmt.Errorf("no demo pre-orders accepted by %s", kitchenURL)
	}

	logger.Info("Demo tickets created", "count", created)
	return nil
}
