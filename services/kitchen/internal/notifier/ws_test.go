package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"
)

func newWSServer(t *testing.T, cfg Config) (*Registry, *httptest.Server) {
	t.Helper()

	registry := NewRegistry(cfg, apt.NewNoopLogger())
	router := chi.NewRouter()
	NewWSHandler(registry, apt.NewNoopLogger()).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		_ = registry.Stop(context.Background())
	})
	return registry, srv
}

func dialDisplay(t *testing.T, srv *httptest.Server, restaurantID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/displays/ws?restaurant=" + restaurantID
	conn, err := websocket.Dial(url, "", srv.URL)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := websocket.JSON.Receive(conn, &f); err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string) {
	t.Helper()

	if err := websocket.JSON.Send(conn, inboundFrame{Type: frameType}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
}

func TestWSHandlerDeliversTicketEvents(t *testing.T) {
	registry, srv := newWSServer(t, DefaultConfig())
	conn := dialDisplay(t, srv, "rest-1")

	hello := readFrame(t, conn)
	if hello.Type != FrameConnected || hello.SessionID == "" || hello.RestaurantID != "rest-1" {
		t.Fatalf("first frame = %+v, want connected", hello)
	}
	if registry.Count("rest-1") != 1 {
		t.Fatalf("Count() = %d, want 1", registry.Count("rest-1"))
	}

	evt := readyEvent("rest-1")
	registry.Publish(context.Background(), evt)
	registry.Publish(context.Background(), readyEvent("rest-2"))

	got := readFrame(t, conn)
	if got.Type != kitchen.EventTicketReady {
		t.Errorf("type = %q, want %q", got.Type, kitchen.EventTicketReady)
	}
	if got.Sound != kitchen.SoundReadyChime {
		t.Errorf("sound = %q, want %q", got.Sound, kitchen.SoundReadyChime)
	}
	if got.Ticket == nil || got.Ticket.ID != evt.Ticket.ID {
		t.Errorf("ticket = %+v, want %s", got.Ticket, evt.Ticket.ID)
	}
	if !got.Timestamp.Equal(testNow) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, testNow)
	}
}

func TestWSHandlerPingPong(t *testing.T) {
	_, srv := newWSServer(t, DefaultConfig())
	conn := dialDisplay(t, srv, "rest-1")
	hello := readFrame(t, conn)

	sendFrame(t, conn, FramePing)
	pong := readFrame(t, conn)
	if pong.Type != FramePong || pong.SessionID != hello.SessionID {
		t.Errorf("reply = %+v, want pong for %s", pong, hello.SessionID)
	}

	sendFrame(t, conn, "shout")
	reply := readFrame(t, conn)
	if reply.Type != FrameError || reply.Message == "" {
		t.Errorf("reply = %+v, want error frame", reply)
	}
}

func TestWSHandlerDisconnect(t *testing.T) {
	registry, srv := newWSServer(t, DefaultConfig())
	conn := dialDisplay(t, srv, "rest-1")
	readFrame(t, conn)

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for registry.Count("rest-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Count() = %d after close, want 0", registry.Count("rest-1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHandlerHeartbeatTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	registry, srv := newWSServer(t, cfg)
	conn := dialDisplay(t, srv, "rest-1")
	readFrame(t, conn)

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := websocket.JSON.Receive(conn, &f); err == nil {
		t.Fatalf("Receive() = %+v, want closed connection", f)
	}
	if registry.Count("rest-1") != 0 {
		t.Errorf("Count() = %d, want 0", registry.Count("rest-1"))
	}
}

func TestWSHandlerRequiresRestaurant(t *testing.T) {
	_, srv := newWSServer(t, DefaultConfig())

	resp, err := http.Get(srv.URL + "/displays/ws")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
