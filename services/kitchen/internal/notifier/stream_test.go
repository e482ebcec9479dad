package notifier

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func startStreamServer(t *testing.T, cfg Config) (*Registry, *grpc.ClientConn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	registry := NewRegistry(cfg, apt.NewNoopLogger())
	server := grpc.NewServer()
	NewStreamServer(registry, apt.NewNoopLogger()).RegisterGRPCService(server)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	conn, err := grpc.NewClient(
		listener.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial stream server: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		_ = registry.Stop(context.Background())
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
		}
	})
	return registry, conn
}

func subscribe(t *testing.T, ctx context.Context, conn *grpc.ClientConn, restaurantID string) grpc.ClientStream {
	t.Helper()

	stream, err := conn.NewStream(ctx, &TicketStreamServiceDesc.Streams[0], SubscribeMethod)
	if err != nil {
		t.Fatalf("NewStream() error: %v", err)
	}
	req, err := structpb.NewStruct(map[string]interface{}{"restaurant_id": restaurantID})
	if err != nil {
		t.Fatalf("NewStruct() error: %v", err)
	}
	if err := stream.SendMsg(req); err != nil {
		t.Fatalf("SendMsg() error: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend() error: %v", err)
	}
	return stream
}

func recvFrame(t *testing.T, stream grpc.ClientStream) Frame {
	t.Helper()

	msg := new(structpb.Struct)
	if err := stream.RecvMsg(msg); err != nil {
		t.Fatalf("RecvMsg() error: %v", err)
	}
	f, err := FrameFromStruct(msg)
	if err != nil {
		t.Fatalf("FrameFromStruct() error: %v", err)
	}
	return f
}

func TestStreamServerSubscribe(t *testing.T) {
	registry, conn := startStreamServer(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := subscribe(t, ctx, conn, "rest-1")
	hello := recvFrame(t, stream)
	if hello.Type != FrameConnected || hello.RestaurantID != "rest-1" {
		t.Fatalf("first frame = %+v, want connected", hello)
	}

	evt := readyEvent("rest-1")
	registry.Publish(ctx, evt)

	got := recvFrame(t, stream)
	if got.Type != kitchen.EventTicketReady || got.Sound != kitchen.SoundReadyChime {
		t.Errorf("frame = %+v, want ticket_ready with sound", got)
	}
	if got.Ticket == nil || got.Ticket.ID != evt.Ticket.ID {
		t.Errorf("ticket = %+v, want %s", got.Ticket, evt.Ticket.ID)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for registry.Count("rest-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Count() = %d after cancel, want 0", registry.Count("rest-1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamServerKeepalive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepaliveInterval = 20 * time.Millisecond
	_, conn := startStreamServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := subscribe(t, ctx, conn, "rest-1")
	hello := recvFrame(t, stream)

	beat := recvFrame(t, stream)
	if beat.Type != FrameHeartbeat || beat.SessionID != hello.SessionID {
		t.Errorf("frame = %+v, want heartbeat for %s", beat, hello.SessionID)
	}
}

func TestStreamServerRequiresRestaurant(t *testing.T) {
	_, conn := startStreamServer(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := subscribe(t, ctx, conn, "")
	err := stream.RecvMsg(new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("RecvMsg() error = %v, want InvalidArgument", err)
	}
}

func TestStreamServerSessionDropped(t *testing.T) {
	registry, conn := startStreamServer(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := subscribe(t, ctx, conn, "rest-1")
	recvFrame(t, stream)

	if err := registry.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	err := stream.RecvMsg(new(structpb.Struct))
	if status.Code(err) != codes.Unavailable {
		t.Errorf("RecvMsg() error = %v, want Unavailable", err)
	}
}

func TestFrameStructRoundTrip(t *testing.T) {
	evt := readyEvent("rest-1")
	in := frameFromEvent(evt)

	msg, err := frameToStruct(in)
	if err != nil {
		t.Fatalf("frameToStruct() error: %v", err)
	}
	if msg.GetFields()["type"].GetStringValue() != kitchen.EventTicketReady {
		t.Errorf("type field = %v", msg.GetFields()["type"])
	}

	out, err := FrameFromStruct(msg)
	if err != nil {
		t.Fatalf("FrameFromStruct() error: %v", err)
	}
	if out.Ticket == nil || out.Ticket.ID != in.Ticket.ID || !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("FrameFromStruct() = %+v, want %+v", out, in)
	}
}
