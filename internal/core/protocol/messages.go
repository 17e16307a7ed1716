// Package protocol defines the tracking websocket wire format: a JSON
// envelope {"type": KIND, "data": {...}} carrying one tagged message.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// Kind tags a message.
type Kind string

const (
	// client -> server
	KindAuth           Kind = "AUTH"
	KindReportPosition Kind = "REPORT_POSITION"
	KindSubscribe      Kind = "SUBSCRIBE"
	KindUnsubscribe    Kind = "UNSUBSCRIBE"

	// server -> client
	KindPositionUpdate Kind = "POSITION_UPDATE"
	KindError          Kind = "ERROR"
	KindAck            Kind = "ACK"
)

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is one of Auth, ReportPosition, Subscribe, Unsubscribe.
type ClientMessage interface {
	Kind() Kind
}

// ServerMessage is one of PositionUpdate, Error, Ack.
type ServerMessage interface {
	Kind() Kind
}

// Auth carries the connection credential.
type Auth struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// ReportPosition is a driver position report.
type ReportPosition struct {
	DriverID   string     `json:"driver_id" validate:"required,max=128"`
	Lat        *float64   `json:"lat" validate:"required"`
	Lon        *float64   `json:"lon" validate:"required"`
	Heading    *float64   `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	Speed      *float64   `json:"speed,omitempty" validate:"omitempty,gte=0"`
	RecordedAt *time.Time `json:"recorded_at" validate:"required"`
}

// Subscribe asks for updates on a topic.
type Subscribe struct {
	TopicType string `json:"topic_type" validate:"required,oneof=driver delivery"`
	TopicID   string `json:"topic_id" validate:"required,max=128"`
}

// Unsubscribe drops a topic.
type Unsubscribe struct {
	TopicType string `json:"topic_type" validate:"required,oneof=driver delivery"`
	TopicID   string `json:"topic_id" validate:"required,max=128"`
}

func (Auth) Kind() Kind           { return KindAuth }
func (ReportPosition) Kind() Kind { return KindReportPosition }
func (Subscribe) Kind() Kind      { return KindSubscribe }
func (Unsubscribe) Kind() Kind    { return KindUnsubscribe }

// Position converts the report into a store candidate stamped with receivedAt.
func (r ReportPosition) Position(receivedAt time.Time) domain.DriverPosition {
	p := domain.DriverPosition{
		DriverID:   r.DriverID,
		Heading:    r.Heading,
		Speed:      r.Speed,
		ReceivedAt: receivedAt,
	}
	if r.Lat != nil {
		p.Location.Lat = *r.Lat
	}
	if r.Lon != nil {
		p.Location.Lon = *r.Lon
	}
	if r.RecordedAt != nil {
		p.RecordedAt = *r.RecordedAt
	}
	return p
}

// Topic returns the subscription topic.
func (s Subscribe) Topic() (domain.Topic, error) { return domain.ParseTopic(s.TopicType, s.TopicID) }

// Topic returns the subscription topic.
func (u Unsubscribe) Topic() (domain.Topic, error) { return domain.ParseTopic(u.TopicType, u.TopicID) }

// PositionUpdate is pushed to subscribers.
type PositionUpdate struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Error reports a rejected message.
type Error struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Ack confirms AUTH, SUBSCRIBE and UNSUBSCRIBE.
type Ack struct {
	Ref       Kind   `json:"ref"`
	TopicType string `json:"topic_type,omitempty"`
	TopicID   string `json:"topic_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
}

func (PositionUpdate) Kind() Kind { return KindPositionUpdate }
func (Error) Kind() Kind          { return KindError }
func (Ack) Kind() Kind            { return KindAck }

// NewPositionUpdate builds the push for a stored position.
func NewPositionUpdate(p domain.DriverPosition) PositionUpdate {
	return PositionUpdate{
		DriverID:   p.DriverID,
		Lat:        p.Location.Lat,
		Lon:        p.Location.Lon,
		Heading:    p.Heading,
		Speed:      p.Speed,
		RecordedAt: p.RecordedAt,
	}
}

// NewError maps any error onto the wire error.
func NewError(err error) Error {
	return Error{Code: domain.CodeOf(err), Message: domain.MessageOf(err)}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses one client frame. Every failure is a validation error;
// unknown kinds are rejected, never ignored.
func Decode(raw []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.ValidationError("malformed JSON envelope")
	}

	var msg ClientMessage
	var err error
	switch env.Type {
	case KindAuth:
		msg, err = decodeData[Auth](env.Data)
	case KindReportPosition:
		msg, err = decodeData[ReportPosition](env.Data)
	case KindSubscribe:
		msg, err = decodeData[Subscribe](env.Data)
	case KindUnsubscribe:
		msg, err = decodeData[Unsubscribe](env.Data)
	case "":
		return nil, domain.ValidationError("message type is required")
	default:
		return nil, domain.ValidationError(fmt.Sprintf("unsupported message type %q", env.Type))
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// fieldAliases maps camelCase field names some clients send onto the
// snake_case names of the wire structs.
var fieldAliases = map[string]string{
	"driverId":   "driver_id",
	"recordedAt": "recorded_at",
	"topicType":  "topic_type",
	"topicId":    "topic_id",
}

// canonicalFields rewrites aliased keys of a data object. The snake_case key
// wins when a client sends both spellings.
func canonicalFields(data json.RawMessage) json.RawMessage {
	aliased := false
	for alias := range fieldAliases {
		if bytes.Contains(data, []byte(`"`+alias+`"`)) {
			aliased = true
			break
		}
	}
	if !aliased {
		return data
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	for alias, name := range fieldAliases {
		v, ok := fields[alias]
		if !ok {
			continue
		}
		if _, set := fields[name]; !set {
			fields[name] = v
		}
		delete(fields, alias)
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}

func decodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, domain.ValidationError("data is required")
	}
	if err := json.Unmarshal(canonicalFields(data), &v); err != nil {
		return v, domain.ValidationError("malformed data: " + jsonReason(err))
	}
	if err := validate.Struct(v); err != nil {
		return v, domain.ValidationError(validationReason(err))
	}
	return v, nil
}

func jsonReason(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %s must be %s", typeErr.Field, typeErr.Type)
	}
	var timeErr *time.ParseError
	if errors.As(err, &timeErr) {
		return "timestamps must be RFC 3339"
	}
	return "invalid JSON"
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// Encode frames a server message.
func Encode(m ServerMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Type: m.Kind(), Data: data})
}

// EncodeClient frames a client message. Used by clients and tests.
func EncodeClient(m ClientMessage) ([]byte, error) {
	return Encode(m)
}

// DecodeServer parses a server frame. Used by clients and tests.
func DecodeServer(raw []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var msg ServerMessage
	var err error
	switch env.Type {
	case KindPositionUpdate:
		var m PositionUpdate
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case KindError:
		var m Error
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case KindAck:
		var m Ack
		err = json.Unmarshal(env.Data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("unknown server message type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return msg, nil
}
