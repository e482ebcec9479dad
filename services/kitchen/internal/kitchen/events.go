package kitchen

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/pacer/pkg/event"
)

// Push event types. These strings are part of the display contract.
const (
	EventNewTicket     = "new_ticket"
	EventTicketUpdated = "ticket_updated"
	EventTicketReady   = "ticket_ready"
)

const (
	SoundReadyChime = "ready_chime"
	PriorityHigh    = "high"
)

// TicketEvent is a ticket change destined for the displays of one restaurant.
type TicketEvent struct {
	Type           string
	RestaurantID   string
	Ticket         *Ticket
	PreviousStatus string
	Timestamp      time.Time
	Sound          string
	Priority       string
}

// Notifier fans ticket events out to connected displays. Publish must not
// block on slow sessions and never reports delivery problems to the caller.
type Notifier interface {
	Publish(ctx context.Context, evt TicketEvent)
}

// emitter sends every ticket event to the displays and queues it for the
// NATS mirror. Neither path can fail the operation that produced the event;
// the store stays the record.
type emitter struct {
	notifier Notifier
	mirror   *mirror
}

func (e *emitter) emit(ctx context.Context, evt TicketEvent) {
	if e.notifier != nil {
		e.notifier.Publish(ctx, evt)
	}
	if e.mirror != nil {
		e.mirror.enqueue(mirrorEvent(evt))
	}
}

const mirrorQueueSize = 256

// mirror publishes ticket events to NATS in order from a single goroutine,
// off the callers' ticket locks. A full queue drops the event.
type mirror struct {
	publisher events.Publisher
	timeout   time.Duration
	logger    apt.Logger

	mu     sync.Mutex
	queue  chan event.KitchenTicketEvent
	done   chan struct{}
	closed bool
}

func newMirror(publisher events.Publisher, timeout time.Duration, logger apt.Logger) *mirror {
	return &mirror{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
		queue:     make(chan event.KitchenTicketEvent, mirrorQueueSize),
	}
}

func (m *mirror) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil || m.closed {
		return nil
	}
	m.done = make(chan struct{})
	go m.run(m.queue, m.done)
	return nil
}

// Stop publishes what is still queued and waits for it, up to ctx.
func (m *mirror) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	done := m.done
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mirror) enqueue(evt event.KitchenTicketEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.logger.Debug("mirror stopped, ticket event not published", "event", evt.EventType, "ticket_id", evt.TicketID)
		return
	}
	select {
	case m.queue <- evt:
	default:
		m.logger.Error("mirror queue full, ticket event not published", "event", evt.EventType, "ticket_id", evt.TicketID)
	}
}

func (m *mirror) run(queue <-chan event.KitchenTicketEvent, done chan struct{}) {
	defer close(done)
	for evt := range queue {
		m.publish(evt)
	}
}

func (m *mirror) publish(evt event.KitchenTicketEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		m.logger.Errorf("cannot marshal %s event: %v", evt.EventType, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.publisher.Publish(ctx, event.KitchenTicketsTopic, payload); err != nil {
		m.logger.Error("cannot mirror ticket event", "event", evt.EventType, "ticket_id", evt.TicketID, "error", err)
	}
}

func mirrorEvent(evt TicketEvent) event.KitchenTicketEvent {
	t := evt.Ticket
	return event.KitchenTicketEvent{
		KitchenTicketEventMetadata: event.KitchenTicketEventMetadata{
			EventType:     mirrorType(evt.Type),
			OccurredAt:    evt.Timestamp,
			TicketID:      t.ID.String(),
			RestaurantID:  t.RestaurantID,
			ReservationID: t.ReservationID.String(),
		},
		Status:               t.Status,
		PreviousStatus:       evt.PreviousStatus,
		PacingStatus:         t.PacingStatus,
		EstimatedPrepMinutes: t.EstimatedPrepMinutes,
		TargetFireTime:       t.TargetFireTime,
		FiredAt:              t.FiredAt,
		ReadyAt:              t.ReadyAt,
		ServedAt:             t.ServedAt,
	}
}

func mirrorType(eventType string) string {
	switch eventType {
	case EventNewTicket:
		return event.EventKitchenTicketCreated
	case EventTicketReady:
		return event.EventKitchenTicketReady
	default:
		return event.EventKitchenTicketUpdated
	}
}
