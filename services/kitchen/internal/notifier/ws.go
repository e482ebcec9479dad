package notifier

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"
)

// WSHandler upgrades display connections to websockets and attaches each to
// its restaurant channel.
type WSHandler struct {
	registry *Registry
	logger   apt.Logger
}

func NewWSHandler(registry *Registry, logger apt.Logger) *WSHandler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &WSHandler{registry: registry, logger: logger}
}

func (h *WSHandler) RegisterRoutes(r chi.Router) {
	r.Get("/displays/ws", h.ServeWS)
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	restaurantID := strings.TrimSpace(r.URL.Query().Get("restaurant"))
	if restaurantID == "" {
		apt.RespondError(w, http.StatusBadRequest, "Restaurant is required")
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn, restaurantID)
	}).ServeHTTP(w, r)
}

func (h *WSHandler) serve(conn *websocket.Conn, restaurantID string) {
	defer func() {
		_ = conn.Close()
	}()

	session, err := h.registry.Connect(restaurantID, TransportWebSocket)
	if err != nil {
		_ = json.NewEncoder(conn).Encode(Frame{Type: FrameError, Message: err.Error(), Timestamp: time.Now()})
		return
	}
	defer h.registry.Disconnect(session)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.write(conn, session)
	}()

	h.read(conn, session)
	h.registry.Disconnect(session)
	<-writerDone
}

// read handles inbound frames until the display goes away or stays silent
// past the heartbeat timeout.
func (h *WSHandler) read(conn *websocket.Conn, session *Session) {
	cfg := h.registry.Config()
	decoder := json.NewDecoder(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))

		var in inboundFrame
		if err := decoder.Decode(&in); err != nil {
			return
		}

		now := h.registry.now()
		session.Touch(now)

		switch in.Type {
		case FramePing:
			if err := session.Send(Frame{Type: FramePong, SessionID: session.ID, Timestamp: now}); err != nil {
				return
			}
		case FramePong, FrameHeartbeat:
		default:
			_ = session.Send(Frame{Type: FrameError, Message: "unsupported frame type", Timestamp: now})
		}
	}
}

// write is the only goroutine writing to conn.
func (h *WSHandler) write(conn *websocket.Conn, session *Session) {
	// Closing the conn unblocks the reader when the session ends first.
	defer func() {
		_ = conn.Close()
	}()

	cfg := h.registry.Config()
	encoder := json.NewEncoder(conn)

	for {
		select {
		case <-session.Done():
			return
		case f := <-session.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := encoder.Encode(f); err != nil {
				h.logger.Debug("websocket write failed", "session_id", session.ID, "error", err)
				h.registry.Disconnect(session)
				return
			}
		}
	}
}
