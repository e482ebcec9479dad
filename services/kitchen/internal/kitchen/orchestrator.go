package kitchen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

const (
	defaultRetryInitial  = 200 * time.Millisecond
	defaultRetryAttempts = 4
)

type OrchestratorDeps struct {
	Repo      TicketRepository
	Cache     *TicketStateCache
	Notifier  Notifier
	Publisher events.Publisher
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator owns the ticket lifecycle: it creates tickets for confirmed
// pre-orders, applies display requests through the state machine, and keeps
// pacing fresh. Every mutation is serialized per ticket.
type Orchestrator struct {
	repo   TicketRepository
	cache  *TicketStateCache
	events *emitter
	pacer  PacingCalculator
	sm     StateMachine
	cfg    Config
	locks  *keyedLocks
	now    func() time.Time
	newID  func() uuid.UUID
	logger apt.Logger

	retryInitial  time.Duration
	retryAttempts uint
}

type SweepResult struct {
	RestaurantID string
	Evaluated    int
	Broadcast    int
	Pruned       int
	Err          error
}

func NewOrchestrator(deps OrchestratorDeps, cfg Config, logger apt.Logger) *Orchestrator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	cfg = cfg.withDefaults()
	pacer := NewPacingCalculator(cfg.ReadyBuffer)

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	// Both stores keep milliseconds; stamping at that precision keeps the
	// tickets handed to displays identical to what a later read returns.
	now := func() time.Time {
		return clock().Truncate(time.Millisecond)
	}

	cache := deps.Cache
	if cache == nil {
		cache = NewTicketStateCache(deps.Repo, pacer, logger)
	}

	emit := &emitter{notifier: deps.Notifier}
	if deps.Publisher != nil {
		emit.mirror = newMirror(deps.Publisher, cfg.PublishTimeout, logger)
	}

	return &Orchestrator{
		repo:          deps.Repo,
		cache:         cache,
		events:        emit,
		pacer:         pacer,
		cfg:           cfg,
		locks:         newKeyedLocks(),
		now:           now,
		newID:         uuid.New,
		logger:        logger,
		retryInitial:  defaultRetryInitial,
		retryAttempts: defaultRetryAttempts,
	}
}

// Start runs the NATS mirror publisher.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.events.mirror == nil {
		return nil
	}
	return o.events.mirror.Start(ctx)
}

// Stop flushes queued mirror events. Events emitted afterwards reach the
// displays only.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.events.mirror == nil {
		return nil
	}
	return o.events.mirror.Stop(ctx)
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Warm seeds the broadcast cache from the store.
func (o *Orchestrator) Warm(ctx context.Context) error {
	return o.cache.Warm(ctx, o.now())
}

// CreateTicketForPreOrder opens a PENDING ticket for a confirmed pre-order.
// It fails with ErrDuplicateTicket while the reservation has an active one.
func (o *Orchestrator) CreateTicketForPreOrder(ctx context.Context, res Reservation, items []PreOrderItem) (*Ticket, error) {
	if err := validatePreOrder(res, items); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock("reservation:" + res.ID.String())
	defer unlock()

	existing, err := o.repo.FindActiveByReservation(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("cannot check tickets of reservation %s: %w", res.ID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("reservation %s has ticket %s: %w", res.ID, existing.ID, ErrDuplicateTicket)
	}

	prep := EstimatePrepMinutes(items, o.cfg.DefaultPrepMinutes)
	override := false
	if res.PrepMinutesOverride != nil && *res.PrepMinutesOverride > 0 {
		prep = *res.PrepMinutesOverride
		override = true
	}

	now := o.now()
	ticket := &Ticket{
		ID:                   o.newID(),
		RestaurantID:         res.RestaurantID,
		ReservationID:        res.ID,
		PartySize:            res.PartySize,
		ReservationStartAt:   res.StartAt,
		Status:               pending,
		EstimatedPrepMinutes: prep,
		PrepOverride:         override,
		ItemsSnapshot:        snapshotItems(items),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	eval := o.pacer.EvaluateTicket(now, ticket)
	ticket.TargetFireTime = eval.TargetFireTime

	if err := o.repo.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("cannot create ticket for reservation %s: %w", res.ID, err)
	}

	ticket.applyPacing(eval)
	o.cache.Record(ticket)

	o.logger.Info("ticket created",
		"ticket_id", ticket.ID,
		"reservation_id", res.ID,
		"restaurant_id", res.RestaurantID,
		"prep_minutes", prep,
		"target_fire_time", ticket.TargetFireTime,
	)

	o.events.emit(ctx, TicketEvent{
		Type:         EventNewTicket,
		RestaurantID: ticket.RestaurantID,
		Ticket:       ticket.Clone(),
		Timestamp:    now,
	})

	return ticket.Clone(), nil
}

// RequestTransition applies a display action. Firing a fired ticket succeeds
// without change. On ErrInvalidTransition the returned ticket is the current,
// unchanged state so the caller can resync.
func (o *Orchestrator) RequestTransition(ctx context.Context, id TicketID, action Action) (*Ticket, error) {
	target, ok := action.Target()
	if !ok {
		return nil, fmt.Errorf("%q: %w", action, ErrUnknownAction)
	}

	unlock := o.locks.Lock("ticket:" + id.String())
	defer unlock()

	for attempt := 1; ; attempt++ {
		stored, err := o.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		current := stored.Clone()
		now := o.now()

		next, err := o.sm.Apply(current, target, now)
		if err != nil {
			current.applyPacing(o.pacer.EvaluateTicket(now, current))
			return current, err
		}

		if next.Status == current.Status {
			next.applyPacing(o.pacer.EvaluateTicket(now, next))
			return next, nil
		}

		err = o.repo.Update(ctx, id, patchFor(current, next))
		if errors.Is(err, ErrStaleTicket) && attempt < o.cfg.MaxTransitionRetries {
			o.logger.Debug("ticket changed concurrently, retrying", "ticket_id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot move ticket %s to %s: %w", id, target, err)
		}

		next.applyPacing(o.pacer.EvaluateTicket(now, next))
		o.cache.Record(next)

		evt := TicketEvent{
			Type:           EventTicketUpdated,
			RestaurantID:   next.RestaurantID,
			Ticket:         next.Clone(),
			PreviousStatus: current.Status,
			Timestamp:      now,
		}
		if target == ready {
			evt.Type = EventTicketReady
			evt.Sound = SoundReadyChime
			evt.Priority = PriorityHigh
		}

		o.logger.Info("ticket transitioned", "ticket_id", id, "from", current.Status, "to", next.Status)
		o.events.emit(ctx, evt)

		return next.Clone(), nil
	}
}

// RecomputePacingSweep re-evaluates every active ticket of a restaurant
// without touching status. Only tickets whose pacing status changed since the
// last broadcast produce an event.
func (o *Orchestrator) RecomputePacingSweep(ctx context.Context, restaurantID string) (SweepResult, error) {
	result := SweepResult{RestaurantID: restaurantID}

	tickets, err := o.listWithRetry(ctx, restaurantID)
	if err != nil {
		return result, fmt.Errorf("cannot list active tickets of %s: %w", restaurantID, err)
	}

	now := o.now()
	keep := make(map[uuid.UUID]struct{}, len(tickets))
	for i := range tickets {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		t := &tickets[i]
		keep[t.ID] = struct{}{}
		t.applyPacing(o.pacer.EvaluateTicket(now, t))
		result.Evaluated++

		if o.observe(ctx, t, now) {
			result.Broadcast++
		}
	}

	result.Pruned = o.cache.Prune(restaurantID, keep)
	return result, nil
}

// observe runs under the ticket lock so a sweep event can never overtake the
// event of a transition that committed after the sweep listed the ticket.
func (o *Orchestrator) observe(ctx context.Context, t *Ticket, now time.Time) bool {
	unlock := o.locks.Lock("ticket:" + t.ID.String())
	defer unlock()

	if !o.cache.Observe(t) {
		return false
	}

	o.events.emit(ctx, TicketEvent{
		Type:         EventTicketUpdated,
		RestaurantID: t.RestaurantID,
		Ticket:       t.Clone(),
		Timestamp:    now,
	})
	return true
}

// listWithRetry retries only while the store reports itself unavailable.
func (o *Orchestrator) listWithRetry(ctx context.Context, restaurantID string) ([]Ticket, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryInitial

	return backoff.Retry(ctx, func() ([]Ticket, error) {
		tickets, err := o.repo.ListActiveByRestaurant(ctx, restaurantID, TicketFilter{})
		if err != nil && !errors.Is(err, ErrStoreUnavailable) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			o.logger.Debug("ticket store unavailable, retrying sweep listing", "restaurant_id", restaurantID, "error", err)
		}
		return tickets, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(o.retryAttempts))
}

// ListActive returns active tickets with pacing evaluated now.
func (o *Orchestrator) ListActive(ctx context.Context, restaurantID string, filter TicketFilter) ([]Ticket, error) {
	tickets, err := o.repo.ListActiveByRestaurant(ctx, restaurantID, filter)
	if err != nil {
		return nil, err
	}

	now := o.now()
	for i := range tickets {
		tickets[i].applyPacing(o.pacer.EvaluateTicket(now, &tickets[i]))
	}
	return tickets, nil
}

// Get returns one ticket with pacing evaluated now.
func (o *Orchestrator) Get(ctx context.Context, id TicketID) (*Ticket, error) {
	stored, err := o.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t := stored.Clone()
	t.applyPacing(o.pacer.EvaluateTicket(o.now(), t))
	return t, nil
}

// ActiveRestaurants lists the restaurants that currently have active tickets.
func (o *Orchestrator) ActiveRestaurants(ctx context.Context) ([]string, error) {
	return o.repo.ListActiveRestaurants(ctx)
}

func validatePreOrder(res Reservation, items []PreOrderItem) error {
	if res.ID == uuid.Nil {
		return fmt.Errorf("reservation id is required: %w", ErrInvalidPreOrder)
	}
	if strings.TrimSpace(res.RestaurantID) == "" {
		return fmt.Errorf("restaurant id is required: %w", ErrInvalidPreOrder)
	}
	if res.StartAt.IsZero() {
		return fmt.Errorf("reservation start time is required: %w", ErrInvalidPreOrder)
	}
	if len(items) == 0 {
		return fmt.Errorf("pre-order has no items: %w", ErrInvalidPreOrder)
	}
	for i, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("item %d has no name: %w", i, ErrInvalidPreOrder)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %q has quantity %d: %w", item.Name, item.Quantity, ErrInvalidPreOrder)
		}
		if item.PrepTimeMinutes != nil && *item.PrepTimeMinutes < 0 {
			return fmt.Errorf("item %q has negative prep time: %w", item.Name, ErrInvalidPreOrder)
		}
	}
	return nil
}
