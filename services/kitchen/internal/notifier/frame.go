package notifier

import (
	"time"

	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
)

// Control frame types. Ticket frames reuse the kitchen event types.
const (
	FrameConnected = "connected"
	FramePing      = "ping"
	FramePong      = "pong"
	FrameHeartbeat = "heartbeat"
	FrameError     = "error"
)

// Frame is the JSON message sent to a display.
type Frame struct {
	Type           string          `json:"type"`
	SessionID      string          `json:"session_id,omitempty"`
	RestaurantID   string          `json:"restaurant_id,omitempty"`
	Ticket         *kitchen.Ticket `json:"ticket,omitempty"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Sound          string          `json:"sound,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// inboundFrame is what a display may send.
type inboundFrame struct {
	Type string `json:"type"`
}

func frameFromEvent(evt kitchen.TicketEvent) Frame {
	return Frame{
		Type:           evt.Type,
		RestaurantID:   evt.RestaurantID,
		Ticket:         evt.Ticket,
		PreviousStatus: evt.PreviousStatus,
		Timestamp:      evt.Timestamp,
		Sound:          evt.Sound,
		Priority:       evt.Priority,
	}
}
