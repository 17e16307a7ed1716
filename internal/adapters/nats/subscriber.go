package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// Subscriber implements ports.PositionSubscriber using NATS JetStream.
type Subscriber struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	durable string
	subs    []*nats.Subscription
}

// NewSubscriber connects a durable JetStream consumer.
func NewSubscriber(url, durable string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js, durable: durable}, nil
}

type settlement int

const (
	settleAck settlement = iota
	settleRetry
	settleDrop
)

// settle decides what happens to a message after its handler ran. A
// validation failure will fail again on every redelivery, so it is dropped.
func settle(err error) settlement {
	switch {
	case err == nil:
		return settleAck
	case domain.CodeOf(err) == domain.CodeValidation:
		return settleDrop
	default:
		return settleRetry
	}
}

// SubscribePositions delivers every published position to handler. Messages
// whose handler fails are redelivered up to three times, unless the position
// itself was invalid.
func (s *Subscriber) SubscribePositions(ctx context.Context, handler func(ctx context.Context, pos *domain.DriverPosition) error) error {
	sub, err := s.js.Subscribe(PositionSubject+".>", func(msg *nats.Msg) {
		var pos domain.DriverPosition
		if err := json.Unmarshal(msg.Data, &pos); err != nil {
			slog.Warn("dropping undecodable position", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		err := handler(ctx, &pos)
		switch settle(err) {
		case settleDrop:
			slog.Warn("dropping invalid position", "driver_id", pos.DriverID, "error", err)
			_ = msg.Term()
		case settleRetry:
			slog.Warn("position handler failed", "driver_id", pos.DriverID, "error", err)
			_ = msg.Nak()
		default:
			_ = msg.Ack()
		}
	},
		nats.Durable(s.durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("subscribe positions: %w", err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
