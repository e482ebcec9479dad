package kitchen

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockTicketRepository is an in-memory TicketRepository. Any *Func field
// overrides the matching method.
type MockTicketRepository struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]*Ticket

	CreateFunc                  func(ctx context.Context, t *Ticket) error
	GetFunc                     func(ctx context.Context, id TicketID) (*Ticket, error)
	FindActiveByReservationFunc func(ctx context.Context, id ReservationID) (*Ticket, error)
	ListActiveByRestaurantFunc  func(ctx context.Context, restaurantID string, filter TicketFilter) ([]Ticket, error)
	ListActiveRestaurantsFunc   func(ctx context.Context) ([]string, error)
	UpdateFunc                  func(ctx context.Context, id TicketID, patch TicketPatch) error
}

func NewMockTicketRepository() *MockTicketRepository {
	return &MockTicketRepository{
		tickets: make(map[uuid.UUID]*Ticket),
	}
}

func (m *MockTicketRepository) Create(ctx context.Context, t *Ticket) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tickets[t.ID]; exists {
		return ErrDuplicateTicket
	}
	for _, existing := range m.tickets {
		if existing.ReservationID == t.ReservationID && existing.Active() {
			return ErrDuplicateTicket
		}
	}
	m.tickets[t.ID] = t.Clone()
	return nil
}

func (m *MockTicketRepository) Get(ctx context.Context, id TicketID) (*Ticket, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tickets[id]
	if !exists {
		return nil, ErrTicketNotFound
	}
	return t.Clone(), nil
}

func (m *MockTicketRepository) FindActiveByReservation(ctx context.Context, id ReservationID) (*Ticket, error) {
	if m.FindActiveByReservationFunc != nil {
		return m.FindActiveByReservationFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tickets {
		if t.ReservationID == id && t.Active() {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MockTicketRepository) ListActiveByRestaurant(ctx context.Context, restaurantID string, filter TicketFilter) ([]Ticket, error) {
	if m.ListActiveByRestaurantFunc != nil {
		return m.ListActiveByRestaurantFunc(ctx, restaurantID, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := make(map[string]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		allowed[s] = true
	}

	result := make([]Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		if t.RestaurantID != restaurantID || !t.Active() {
			continue
		}
		if len(allowed) > 0 && !allowed[t.Status] {
			continue
		}
		result = append(result, *t.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TargetFireTime.Before(result[j].TargetFireTime)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []Ticket{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MockTicketRepository) ListActiveRestaurants(ctx context.Context) ([]string, error) {
	if m.ListActiveRestaurantsFunc != nil {
		return m.ListActiveRestaurantsFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var result []string
	for _, t := range m.tickets {
		if t.Active() && !seen[t.RestaurantID] {
			seen[t.RestaurantID] = true
			result = append(result, t.RestaurantID)
		}
	}
	sort.Strings(result)
	return result, nil
}

func (m *MockTicketRepository) Update(ctx context.Context, id TicketID, patch TicketPatch) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tickets[id]
	if !exists {
		return ErrTicketNotFound
	}
	if patch.ExpectedStatus != "" && t.Status != patch.ExpectedStatus {
		return ErrStaleTicket
	}
	t.Status = patch.Status
	if patch.FiredAt != nil {
		t.FiredAt = cloneTime(patch.FiredAt)
	}
	if patch.ReadyAt != nil {
		t.ReadyAt = cloneTime(patch.ReadyAt)
	}
	if patch.ServedAt != nil {
		t.ServedAt = cloneTime(patch.ServedAt)
	}
	t.UpdatedAt = patch.UpdatedAt
	return nil
}

// AddTicket is a helper to seed the mock repository
func (m *MockTicketRepository) AddTicket(t *Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t.Clone()
}

// Stored returns the raw stored ticket.
func (m *MockTicketRepository) Stored(id uuid.UUID) *Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickets[id].Clone()
}

func (m *MockTicketRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

// MockPublisher is a test mock for events.Publisher
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
	PublishFunc     func(ctx context.Context, topic string, data []byte) error
}

type PublishedEvent struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishedEvents: make([]PublishedEvent, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Topic: topic, Data: data})
	return nil
}

func (m *MockPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PublishedEvents)
}

// MockNotifier records every event it is handed.
type MockNotifier struct {
	mu     sync.Mutex
	Events []TicketEvent
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Publish(ctx context.Context, evt TicketEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, evt)
}

func (m *MockNotifier) All() []TicketEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TicketEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

func (m *MockNotifier) OfType(eventType string) []TicketEvent {
	var out []TicketEvent
	for _, evt := range m.All() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = nil
}

// fakeClock is a settable clock for orchestrator tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func intPtr(i int) *int {
	return &i
}

func timePtr(t time.Time) *time.Time {
	return &t
}
