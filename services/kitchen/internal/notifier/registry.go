package notifier

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
)

// Registry holds one channel per restaurant, each a set of display sessions.
// It implements kitchen.Notifier.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Session

	cfg    Config
	logger apt.Logger
	now    func() time.Time

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ kitchen.Notifier = (*Registry)(nil)

func NewRegistry(cfg Config, logger apt.Logger) *Registry {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Registry{
		channels: make(map[string]map[string]*Session),
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Registry) Config() Config {
	return r.cfg
}

// Connect opens a session on a restaurant channel. The first frame queued is
// "connected", carrying the session id.
func (r *Registry) Connect(restaurantID, transport string) (*Session, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return nil, ErrNoRestaurant
	}

	now := r.now()
	s := newSession(uuid.NewString(), restaurantID, transport, r.cfg.SessionBuffer, now)
	_ = s.Send(Frame{
		Type:         FrameConnected,
		SessionID:    s.ID,
		RestaurantID: restaurantID,
		Timestamp:    now,
	})

	r.mu.Lock()
	sessions := r.channels[restaurantID]
	if sessions == nil {
		sessions = make(map[string]*Session)
		r.channels[restaurantID] = sessions
	}
	sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Info("display connected", "session_id", s.ID, "restaurant_id", restaurantID, "transport", transport)
	return s, nil
}

// Disconnect removes s and closes it. Safe to call more than once.
func (r *Registry) Disconnect(s *Session) {
	if s == nil {
		return
	}

	r.mu.Lock()
	removed := r.removeLocked(s)
	r.mu.Unlock()

	s.Close()
	if removed {
		r.logger.Info("display disconnected", "session_id", s.ID, "restaurant_id", s.RestaurantID)
	}
}

func (r *Registry) removeLocked(s *Session) bool {
	sessions := r.channels[s.RestaurantID]
	if _, ok := sessions[s.ID]; !ok {
		return false
	}
	delete(sessions, s.ID)
	if len(sessions) == 0 {
		delete(r.channels, s.RestaurantID)
	}
	return true
}

// Publish fans a ticket event out to the restaurant's sessions. A session
// that cannot take the frame is dropped; its display will reconnect and
// refetch.
func (r *Registry) Publish(_ context.Context, evt kitchen.TicketEvent) {
	r.Broadcast(evt.RestaurantID, frameFromEvent(evt))
}

// Broadcast queues f on every session of a restaurant and returns how many
// accepted it.
func (r *Registry) Broadcast(restaurantID string, f Frame) int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.channels[restaurantID]))
	for _, s := range r.channels[restaurantID] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var delivered int
	for _, s := range sessions {
		if s.Closed() {
			// Its transport is already shutting down.
			r.Disconnect(s)
			continue
		}
		if err := s.Send(f); err != nil {
			r.logger.Error("dropping display session", "session_id", s.ID, "restaurant_id", restaurantID, "frame", f.Type, "error", err)
			r.Disconnect(s)
			continue
		}
		delivered++
	}
	return delivered
}

// ExpireStale disconnects sessions whose last heartbeat is older than the
// heartbeat timeout.
func (r *Registry) ExpireStale() int {
	cutoff := r.now().Add(-r.cfg.HeartbeatTimeout)

	r.mu.Lock()
	var stale []*Session
	for _, sessions := range r.channels {
		for _, s := range sessions {
			if s.LastHeartbeat().Before(cutoff) {
				stale = append(stale, s)
			}
		}
	}
	for _, s := range stale {
		r.removeLocked(s)
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
		r.logger.Info("display session expired", "session_id", s.ID, "restaurant_id", s.RestaurantID, "last_heartbeat", s.LastHeartbeat())
	}
	return len(stale)
}

// Count returns the sessions open on a restaurant channel.
func (r *Registry) Count(restaurantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[restaurantID])
}

// Total returns the sessions open across every restaurant.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	for _, sessions := range r.channels {
		n += len(sessions)
	}
	return n
}

// Start runs the reaper that expires silent sessions.
func (r *Registry) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.reap(runCtx, r.done)
	return nil
}

// Stop halts the reaper and closes every session.
func (r *Registry) Stop(ctx context.Context) error {
	r.lifeMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.lifeMu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	open := r.Total()

	r.mu.Lock()
	var all []*Session
	for _, sessions := range r.channels {
		for _, s := range sessions {
			all = append(all, s)
		}
	}
	r.channels = make(map[string]map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	r.logger.Info("display registry stopped", "sessions_closed", open)
	return nil
}

func (r *Registry) reap(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.HeartbeatTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ExpireStale(); n > 0 {
				r.logger.Debug("expired display sessions", "count", n)
			}
		}
	}
}
