package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(cfg Config) (*Registry, *testClock) {
	clock := &testClock{now: testNow}
	r := NewRegistry(cfg, apt.NewNoopLogger())
	r.now = clock.Now
	return r, clock
}

func drain(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case f := <-s.Outbox():
		return f
	case <-time.After(time.Second):
		t.Fatalf("session %s: no frame queued", s.ID)
		return Frame{}
	}
}

func readyEvent(restaurantID string) kitchen.TicketEvent {
	return kitchen.TicketEvent{
		Type:           kitchen.EventTicketReady,
		RestaurantID:   restaurantID,
		Ticket:         &kitchen.Ticket{ID: uuid.New(), RestaurantID: restaurantID, Status: "READY"},
		PreviousStatus: "FIRED",
		Timestamp:      testNow,
		Sound:          kitchen.SoundReadyChime,
		Priority:       kitchen.PriorityHigh,
	}
}

func TestRegistryConnect(t *testing.T) {
	tests := []struct {
		name         string
		restaurantID string
		wantErr      error
	}{
		{name: "valid", restaurantID: "rest-1"},
		{name: "trimmed", restaurantID: "  rest-1 "},
		{name: "empty", restaurantID: "", wantErr: ErrNoRestaurant},
		{name: "blank", restaurantID: "   ", wantErr: ErrNoRestaurant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(DefaultConfig())

			s, err := r.Connect(tt.restaurantID, TransportWebSocket)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Connect() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if r.Total() != 0 {
					t.Errorf("Total() = %d, want 0", r.Total())
				}
				return
			}

			if s.RestaurantID != "rest-1" {
				t.Errorf("RestaurantID = %q, want rest-1", s.RestaurantID)
			}
			f := drain(t, s)
			if f.Type != FrameConnected || f.SessionID != s.ID || f.RestaurantID != "rest-1" {
				t.Errorf("first frame = %+v, want connected frame for the session", f)
			}
			if r.Count("rest-1") != 1 {
				t.Errorf("Count() = %d, want 1", r.Count("rest-1"))
			}
		})
	}
}

func TestRegistryPublishScopesToRestaurant(t *testing.T) {
	r, _ := newTestRegistry(DefaultConfig())

	a1, _ := r.Connect("rest-1", TransportWebSocket)
	a2, _ := r.Connect("rest-1", TransportGRPC)
	b, _ := r.Connect("rest-2", TransportWebSocket)
	for _, s := range []*Session{a1, a2, b} {
		drain(t, s)
	}

	r.Publish(context.Background(), readyEvent("rest-1"))

	for _, s := range []*Session{a1, a2} {
		f := drain(t, s)
		if f.Type != kitchen.EventTicketReady {
			t.Errorf("frame type = %q, want %q", f.Type, kitchen.EventTicketReady)
		}
		if f.Sound != kitchen.SoundReadyChime || f.Priority != kitchen.PriorityHigh {
			t.Errorf("frame = %+v, want sound and priority", f)
		}
		if f.Ticket == nil || f.PreviousStatus != "FIRED" {
			t.Errorf("frame = %+v, want ticket and previous status", f)
		}
	}

	select {
	case f := <-b.Outbox():
		t.Errorf("rest-2 received %+v", f)
	default:
	}
}

func TestRegistryBroadcastDropsFullSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionBuffer = 2
	r, _ := newTestRegistry(cfg)

	slow, _ := r.Connect("rest-1", TransportWebSocket)
	fast, _ := r.Connect("rest-1", TransportWebSocket)
	drain(t, fast)

	// slow still holds its connected frame, so one more fills it.
	if n := r.Broadcast("rest-1", Frame{Type: FrameHeartbeat}); n != 2 {
		t.Fatalf("Broadcast() = %d, want 2", n)
	}
	drain(t, fast)

	if n := r.Broadcast("rest-1", Frame{Type: FrameHeartbeat}); n != 1 {
		t.Errorf("Broadcast() = %d, want 1", n)
	}
	if !slow.Closed() {
		t.Error("full session should be closed")
	}
	if fast.Closed() {
		t.Error("healthy session should stay open")
	}
	if r.Count("rest-1") != 1 {
		t.Errorf("Count() = %d, want 1", r.Count("rest-1"))
	}
	if err := slow.Send(Frame{Type: FramePing}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send() on closed session error = %v, want %v", err, ErrSessionClosed)
	}
}

func TestRegistryBroadcastNoSessions(t *testing.T) {
	r, _ := newTestRegistry(DefaultConfig())
	if n := r.Broadcast("nobody", Frame{Type: FrameHeartbeat}); n != 0 {
		t.Errorf("Broadcast() = %d, want 0", n)
	}
}

func TestRegistryBroadcastSkipsClosedSession(t *testing.T) {
	r, _ := newTestRegistry(DefaultConfig())
	closing, _ := r.Connect("rest-1", TransportGRPC)
	open, _ := r.Connect("rest-1", TransportWebSocket)
	drain(t, open)

	closing.Close()

	if n := r.Broadcast("rest-1", Frame{Type: FrameHeartbeat}); n != 1 {
		t.Errorf("Broadcast() = %d, want 1", n)
	}
	if r.Count("rest-1") != 1 || r.Total() != 1 {
		t.Errorf("Count() = %d Total() = %d, want 1", r.Count("rest-1"), r.Total())
	}
}

func TestRegistryDisconnect(t *testing.T) {
	r, _ := newTestRegistry(DefaultConfig())
	s, _ := r.Connect("rest-1", TransportWebSocket)

	r.Disconnect(s)
	r.Disconnect(s)
	r.Disconnect(nil)

	if !s.Closed() {
		t.Error("session should be closed")
	}
	if r.Count("rest-1") != 0 || r.Total() != 0 {
		t.Errorf("Count() = %d Total() = %d, want 0", r.Count("rest-1"), r.Total())
	}
}

func TestRegistryExpireStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = time.Minute
	r, clock := newTestRegistry(cfg)

	quiet, _ := r.Connect("rest-1", TransportWebSocket)
	chatty, _ := r.Connect("rest-1", TransportWebSocket)

	clock.Advance(45 * time.Second)
	chatty.Touch(clock.Now())
	if n := r.ExpireStale(); n != 0 {
		t.Fatalf("ExpireStale() = %d before timeout, want 0", n)
	}

	clock.Advance(30 * time.Second)
	if n := r.ExpireStale(); n != 1 {
		t.Fatalf("ExpireStale() = %d, want 1", n)
	}
	if !quiet.Closed() || chatty.Closed() {
		t.Errorf("quiet closed = %v, chatty closed = %v", quiet.Closed(), chatty.Closed())
	}
	if r.Count("rest-1") != 1 {
		t.Errorf("Count() = %d, want 1", r.Count("rest-1"))
	}
}

func TestRegistryStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = 20 * time.Millisecond
	r := NewRegistry(cfg, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	s, _ := r.Connect("rest-1", TransportWebSocket)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not expire the silent session")
	}

	kept, _ := r.Connect("rest-2", TransportWebSocket)
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if !kept.Closed() {
		t.Error("Stop() should close every session")
	}
	if r.Total() != 0 {
		t.Errorf("Total() = %d, want 0", r.Total())
	}
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r, _ := newTestRegistry(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Connect("rest-1", TransportWebSocket)
			if err != nil {
				t.Errorf("Connect() error: %v", err)
				return
			}
			r.Publish(context.Background(), readyEvent("rest-1"))
			r.ExpireStale()
			r.Disconnect(s)
		}()
	}
	wg.Wait()

	if r.Total() != 0 {
		t.Errorf("Total() = %d, want 0", r.Total())
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		want    Config
		wantErr bool
	}{
		{name: "defaults", want: DefaultConfig()},
		{
			name: "overrides",
			values: map[string]string{
				"notifier.heartbeat.timeout": "90s",
				"notifier.grpc.keepalive":    "15s",
				"notifier.write.timeout":     "3s",
				"notifier.session.buffer":    "16",
			},
			want: Config{
				HeartbeatTimeout:  90 * time.Second,
				KeepaliveInterval: 15 * time.Second,
				WriteTimeout:      3 * time.Second,
				SessionBuffer:     16,
			},
		},
		{
			name:   "nonPositiveFallsBack",
			values: map[string]string{"notifier.session.buffer": "0"},
			want:   DefaultConfig(),
		},
		{name: "badDuration", values: map[string]string{"notifier.heartbeat.timeout": "soon"}, wantErr: true},
		{name: "badBuffer", values: map[string]string{"notifier.session.buffer": "big"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadConfig(mapConfig(tt.values))
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("LoadConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if got, err := LoadConfig(nil); err != nil || got != DefaultConfig() {
		t.Errorf("LoadConfig(nil) = %+v, %v", got, err)
	}
}

type mapConfig map[string]string

func (m mapConfig) GetStringOrDef(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}
