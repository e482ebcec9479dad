package pkg

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
)

// connect dials NATS with reconnects enabled; a kitchen that loses the broker
// for a while must pick up again without a restart.
func connect(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
	}
	if name != "" {
		opts = append(opts, nats.Name(name))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url, name string) (*NATSPublisher, error) {
	conn, err := connect(url, name)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.conn.Publish(topic, msg)
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NATSSubscriber delivers core NATS messages to a handler. Core NATS has no
// redelivery, so handler errors are only reported through OnError.
type NATSSubscriber struct {
	conn    *nats.Conn
	OnError func(topic string, err error)
}

func NewNATSSubscriber(url, name string) (*NATSSubscriber, error) {
	conn, err := connect(url, name)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: conn}, nil
}

func (s *NATSSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	_, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		if err := handler(ctx, msg.Data); err != nil && s.OnError != nil {
			s.OnError(topic, err)
		}
	})
	return err
}

func (s *NATSSubscriber) Close() error {
	return s.conn.Drain()
}
