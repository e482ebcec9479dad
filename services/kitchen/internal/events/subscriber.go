package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/pacer/pkg/event"
	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
)

// TicketCreator is the part of the orchestrator the subscriber drives.
type TicketCreator interface {
	CreateTicketForPreOrder(ctx context.Context, res kitchen.Reservation, items []kitchen.PreOrderItem) (*kitchen.Ticket, error)
}

// PreOrderSubscriber opens a kitchen ticket for every confirmed pre-order
// published by the reservation service.
type PreOrderSubscriber struct {
	subscriber events.Subscriber
	creator    TicketCreator
	logger     apt.Logger
}

func NewPreOrderSubscriber(subscriber events.Subscriber, creator TicketCreator, logger apt.Logger) *PreOrderSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &PreOrderSubscriber{
		subscriber: subscriber,
		creator:    creator,
		logger:     logger,
	}
}

func (s *PreOrderSubscriber) Start(ctx context.Context) error {
	s.logger.Info("Starting PreOrderSubscriber", "topic", event.PreOrdersTopic)

	if err := s.subscriber.Subscribe(ctx, event.PreOrdersTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.PreOrdersTopic, err)
	}

	s.logger.Info("PreOrderSubscriber started successfully")
	return nil
}

// handleEvent returns an error only when a retry could succeed. Malformed,
// invalid and duplicate pre-orders are logged and acknowledged.
func (s *PreOrderSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.PreOrderConfirmedEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal pre-order event: %v", err)
		return nil
	}

	if evt.EventType != event.EventPreOrderConfirmed {
		s.logger.Debug("ignoring pre-order event", "event_type", evt.EventType)
		return nil
	}

	reservationID, err := uuid.Parse(evt.ReservationID)
	if err != nil {
		s.logger.Errorf("Invalid reservation_id %q: %v", evt.ReservationID, err)
		return nil
	}

	res, items := toPreOrder(reservationID, evt)
	ticket, err := s.creator.CreateTicketForPreOrder(ctx, res, items)
	switch {
	case err == nil:
		s.logger.Info("ticket created from pre-order", "ticket_id", ticket.ID, "reservation_id", reservationID, "restaurant_id", res.RestaurantID)
		return nil
	case errors.Is(err, kitchen.ErrDuplicateTicket):
		s.logger.Info("pre-order already has an active ticket", "reservation_id", reservationID)
		return nil
	case errors.Is(err, kitchen.ErrInvalidPreOrder):
		s.logger.Error("rejected pre-order", "reservation_id", reservationID, "error", err)
		return nil
	default:
		s.logger.Error("cannot create ticket from pre-order", "reservation_id", reservationID, "error", err)
		return err
	}
}

func toPreOrder(reservationID uuid.UUID, evt event.PreOrderConfirmedEvent) (kitchen.Reservation, []kitchen.PreOrderItem) {
	res := kitchen.Reservation{
		ID:                  reservationID,
		RestaurantID:        evt.RestaurantID,
		PartySize:           evt.PartySize,
		StartAt:             evt.StartAt,
		PrepMinutesOverride: evt.PrepMinutesOverride,
	}

	items := make([]kitchen.PreOrderItem, 0, len(evt.Items))
	for _, item := range evt.Items {
		items = append(items, kitchen.PreOrderItem{
			Name:            item.Name,
			Quantity:        item.Quantity,
			PrepTimeMinutes: item.PrepTimeMinutes,
			Modifiers:       item.Modifiers,
			Notes:           item.Notes,
			Allergens:       item.Allergens,
		})
	}
	return res, items
}
