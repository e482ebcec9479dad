package notifier

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TransportWebSocket = "websocket"
	TransportGRPC      = "grpc"
)

var (
	ErrChannelDelivery = errors.New("session queue is full")
	ErrSessionClosed   = errors.New("session closed")
	ErrNoRestaurant    = errors.New("restaurant is required")
)

// Session is one connected display. Frames are queued on a bounded outbox
// drained by a single writer owned by the transport.
type Session struct {
	ID           string
	RestaurantID string
	Transport    string
	ConnectedAt  time.Time

	outbox    chan Frame
	heartbeat atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id, restaurantID, transport string, buffer int, now time.Time) *Session {
	s := &Session{
		ID:           id,
		RestaurantID: restaurantID,
		Transport:    transport,
		ConnectedAt:  now,
		outbox:       make(chan Frame, buffer),
		done:         make(chan struct{}),
	}
	s.heartbeat.Store(now.UnixNano())
	return s
}

// Send queues f without blocking.
func (s *Session) Send(f Frame) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outbox <- f:
		return nil
	default:
		return ErrChannelDelivery
	}
}

func (s *Session) Outbox() <-chan Frame {
	return s.outbox
}

// Touch records a heartbeat.
func (s *Session) Touch(now time.Time) {
	s.heartbeat.Store(now.UnixNano())
}

func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.heartbeat.Load())
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
