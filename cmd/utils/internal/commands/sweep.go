package commands

import (
	"context"
	"fmt"
	"net/url"

	"github.com/appetiteclub/apt"
)

const (
	defaultKitchenURL = "http://localhost:8087"
	defaultRestaurant = "demo"
)

// Sweep asks the kitchen service to recompute pacing for one restaurant now
// instead of waiting for the next scheduled sweep.
func Sweep(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	kitchenURL := config.GetStringOrDef("kitchen.url", defaultKitchenURL)
	restaurantID := config.GetStringOrDef("restaurant", defaultRestaurant)

	client := apt.NewServiceClient(kitchenURL)
	if client == nil {
		return fmt.Errorf("cannot create kitchen service client for %s", kitchenURL)
	}

	path := "/internal/sweep?restaurant=" + url.QueryEscape(restaurantID)
	resp, err := client.Request(ctx, "POST", path, nil)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", restaurantID, err)
	}

	result, _ := resp.Data.(map[string]interface{})
	logger.Info("Sweep finished",
		"restaurant_id", restaurantID,
		"evaluated", result["evaluated"],
		"broadcast", result["broadcast"],
		"pruned", result["pruned"],
	)
	return nil
}
