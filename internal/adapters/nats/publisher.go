package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// Subjects and streams.
const (
	PositionStream  = "TRACKING_POSITIONS"
	SignalStream    = "TRACKING_SIGNALS"
	PositionSubject = "tracking.position"
	SignalSubject   = "tracking.signal"
)

// Streams returns the JetStream streams the tracking services rely on.
func Streams() []nats.StreamConfig {
	return []nats.StreamConfig{
		{
			Name:      PositionStream,
			Subjects:  []string{PositionSubject + ".>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      SignalStream,
			Subjects:  []string{SignalSubject + ".>"},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}
}

// Publisher implements ports.PositionPublisher and ports.SignalPublisher
// using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the streams exist.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	for _, cfg := range Streams() {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist; try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				conn.Close()
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PositionSubjectFor is the subject a driver's positions are published on.
func PositionSubjectFor(driverID string) string {
	return PositionSubject + "." + subjectToken(driverID)
}

// SignalSubjectFor is the subject a signal kind is published on.
func SignalSubjectFor(kind domain.SignalKind) string {
	return SignalSubject + "." + strings.ToLower(string(kind))
}

func (p *Publisher) PublishPosition(ctx context.Context, pos *domain.DriverPosition) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(PositionSubjectFor(pos.DriverID), data, nats.Context(ctx))
	return err
}

func (p *Publisher) PublishSignal(ctx context.Context, sig *domain.ProximitySignal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	// Msg id lets JetStream drop duplicates from workflow retries.
	_, err = p.js.Publish(SignalSubjectFor(sig.Kind), data, nats.Context(ctx), nats.MsgId(sig.ID))
	return err
}

// Conn exposes the underlying connection for readiness checks.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// subjectToken makes an id safe to use as one subject token.
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}
