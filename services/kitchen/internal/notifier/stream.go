package notifier

import (
	"encoding/json"
	"time"

	"github.com/appetiteclub/apt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	TicketStreamService = "kitchen.v1.TicketStream"
	SubscribeMethod     = "/" + TicketStreamService + "/Subscribe"
)

// ticketStreamServer is the handler type of TicketStreamServiceDesc.
type ticketStreamServer interface {
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

// TicketStreamServiceDesc describes a server streaming service. Requests and
// frames are google.protobuf.Struct, so clients need no generated stubs:
// the request carries "restaurant_id", each response is one Frame.
var TicketStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: TicketStreamService,
	HandlerType: (*ticketStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "kitchen/v1/ticket_stream.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ticketStreamServer).Subscribe(req, stream)
}

// StreamServer delivers restaurant channels to display clients over gRPC.
type StreamServer struct {
	registry *Registry
	logger   apt.Logger
}

func NewStreamServer(registry *Registry, logger apt.Logger) *StreamServer {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &StreamServer{registry: registry, logger: logger}
}

// RegisterGRPCService registers this service with the gRPC server.
func (s *StreamServer) RegisterGRPCService(server *grpc.Server) {
	server.RegisterService(&TicketStreamServiceDesc, s)
}

// Subscribe streams frames until the client leaves or the session is dropped.
// Every successful send counts as a heartbeat; keepalive frames keep an idle
// stream from expiring.
func (s *StreamServer) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	restaurantID := req.GetFields()["restaurant_id"].GetStringValue()

	session, err := s.registry.Connect(restaurantID, TransportGRPC)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	defer s.registry.Disconnect(session)

	keepalive := time.NewTicker(s.registry.Config().KeepaliveInterval)
	defer keepalive.Stop()

	ctx := stream.Context()
	for {
		var f Frame
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return status.Error(codes.Unavailable, "display session closed")
		case <-keepalive.C:
			f = Frame{Type: FrameHeartbeat, SessionID: session.ID, Timestamp: s.registry.now()}
		case f = <-session.Outbox():
		}

		msg, err := frameToStruct(f)
		if err != nil {
			s.logger.Error("cannot encode frame", "session_id", session.ID, "frame", f.Type, "error", err)
			continue
		}
		if err := stream.SendMsg(msg); err != nil {
			s.logger.Debug("grpc send failed", "session_id", session.ID, "error", err)
			return err
		}
		session.Touch(s.registry.now())
	}
}

func frameToStruct(f Frame) (*structpb.Struct, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// FrameFromStruct decodes a streamed frame.
func FrameFromStruct(msg *structpb.Struct) (Frame, error) {
	var f Frame
	raw, err := msg.MarshalJSON()
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(raw, &f)
	return f, err
}
