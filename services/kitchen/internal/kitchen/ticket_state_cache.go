package kitchen

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

// TicketStateCache keeps the active tickets of every restaurant together with
// the pacing status last broadcast for each. The sweep compares against it so
// unchanged tickets produce no events.
type TicketStateCache struct {
	mu sync.RWMutex
	// tickets indexed by ticket_id
	tickets map[uuid.UUID]*cachedTicket
	// index by restaurant -> ticket_id set
	byRestaurant map[string]map[uuid.UUID]struct{}
	// served tickets -> restaurant, until a sweep no longer lists them
	retired map[uuid.UUID]string

	repo   TicketRepository
	pacer  PacingCalculator
	logger apt.Logger
}

type cachedTicket struct {
	ticket    *Ticket
	broadcast string
}

// NewTicketStateCache creates a new ticket cache.
func NewTicketStateCache(repo TicketRepository, pacer PacingCalculator, logger apt.Logger) *TicketStateCache {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &TicketStateCache{
		tickets:      make(map[uuid.UUID]*cachedTicket),
		byRestaurant: make(map[string]map[uuid.UUID]struct{}),
		retired:      make(map[uuid.UUID]string),
		repo:         repo,
		pacer:        pacer,
		logger:       logger,
	}
}

// Warm loads every active ticket from the store and records its current
// pacing as already broadcast. Displays refetch when they reconnect after a
// restart, so replaying those values would only cause an event storm.
func (c *TicketStateCache) Warm(ctx context.Context, now time.Time) error {
	if c.repo == nil {
		c.logger.Info("repository is nil, cache will remain empty")
		return nil
	}

	restaurants, err := c.repo.ListActiveRestaurants(ctx)
	if err != nil {
		return err
	}

	var count int
	for _, restaurantID := range restaurants {
		tickets, err := c.repo.ListActiveByRestaurant(ctx, restaurantID, TicketFilter{})
		if err != nil {
			c.logger.Error("cannot warm restaurant tickets", "restaurant_id", restaurantID, "error", err)
			continue
		}
		for i := range tickets {
			t := &tickets[i]
			t.applyPacing(c.pacer.EvaluateTicket(now, t))
			c.Record(t)
			count++
		}
	}

	c.logger.Info("ticket cache warmed", "restaurants", len(restaurants), "tickets", count)
	return nil
}

// Record stores t and marks its pacing status as broadcast. Inactive tickets
// are dropped.
func (c *TicketStateCache) Record(t *Ticket) {
	if t == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !t.Active() {
		c.removeLocked(t.ID)
		c.retired[t.ID] = t.RestaurantID
		return
	}
	c.setLocked(t.Clone(), t.PacingStatus)
}

// Observe stores t and reports whether its pacing status differs from the
// last one broadcast. Unknown tickets count as changed. A read behind the
// cached ticket's lifecycle stage is ignored so a sweep cannot undo a
// concurrent transition. Stores keep timestamps at coarser precision than
// the clock, so UpdatedAt cannot order the two.
func (c *TicketStateCache) Observe(t *Ticket) bool {
	if t == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, gone := c.retired[t.ID]; gone {
		return false
	}
	prev, known := c.tickets[t.ID]
	if known && stage(prev.ticket.Status) > stage(t.Status) {
		return false
	}
	if !t.Active() {
		c.removeLocked(t.ID)
		return known
	}
	changed := !known || prev.broadcast != t.PacingStatus
	c.setLocked(t.Clone(), t.PacingStatus)
	return changed
}

func (c *TicketStateCache) setLocked(t *Ticket, broadcast string) {
	if old, exists := c.tickets[t.ID]; exists && old.ticket.RestaurantID != t.RestaurantID {
		c.removeFromIndex(old.ticket.RestaurantID, t.ID)
	}

	c.tickets[t.ID] = &cachedTicket{ticket: t, broadcast: broadcast}

	ids := c.byRestaurant[t.RestaurantID]
	if ids == nil {
		ids = make(map[uuid.UUID]struct{})
		c.byRestaurant[t.RestaurantID] = ids
	}
	ids[t.ID] = struct{}{}
}

// Prune drops cached tickets of a restaurant that are not in keep. A sweep
// calls it with the store's active set, so tickets served elsewhere leave.
func (c *TicketStateCache) Prune(restaurantID string, keep map[uuid.UUID]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for id := range c.byRestaurant[restaurantID] {
		if _, ok := keep[id]; !ok {
			c.removeLocked(id)
			removed++
		}
	}
	for id, rid := range c.retired {
		if _, ok := keep[id]; !ok && rid == restaurantID {
			delete(c.retired, id)
		}
	}
	return removed
}

func (c *TicketStateCache) removeLocked(ticketID uuid.UUID) {
	entry := c.tickets[ticketID]
	if entry == nil {
		return
	}
	c.removeFromIndex(entry.ticket.RestaurantID, ticketID)
	delete(c.tickets, ticketID)
}

func (c *TicketStateCache) removeFromIndex(restaurantID string, ticketID uuid.UUID) {
	ids := c.byRestaurant[restaurantID]
	delete(ids, ticketID)
	if len(ids) == 0 {
		delete(c.byRestaurant, restaurantID)
	}
}

// Count returns the number of tickets in the cache
func (c *TicketStateCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tickets)
}
