package domain

import (
	"fmt"
	"strings"
	"time"
)

// DriverPosition is a single position report from a driver device.
type DriverPosition struct {
	DriverID   string    `json:"driver_id"`
	Location   GeoPoint  `json:"location"`
	Heading    *float64  `json:"heading,omitempty"` // degrees, 0-360
	Speed      *float64  `json:"speed,omitempty"`   // m/s
	RecordedAt time.Time `json:"recorded_at"`       // device clock
	ReceivedAt time.Time `json:"received_at"`       // gateway clock
}

// IsStale reports whether the position has not been refreshed within window.
// Clock skew between RecordedAt and ReceivedAt is tolerated; only ReceivedAt counts.
func (p DriverPosition) IsStale(now time.Time, window time.Duration) bool {
	return now.Sub(p.ReceivedAt) > window
}

// Newer reports whether p wins over q under last-writer-wins ordering:
// greater RecordedAt, ties broken by later ReceivedAt.
func (p DriverPosition) Newer(q DriverPosition) bool {
	if !p.RecordedAt.Equal(q.RecordedAt) {
		return p.RecordedAt.After(q.RecordedAt)
	}
	return p.ReceivedAt.After(q.ReceivedAt)
}

// PositionFreshness is a position plus its liveness as seen by the store.
type PositionFreshness struct {
	Position     DriverPosition `json:"position"`
	Stale        bool           `json:"stale"`
	Disconnected bool           `json:"disconnected"`
}

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryAssigned  DeliveryStatus = "ASSIGNED"
	DeliveryInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryCompleted DeliveryStatus = "COMPLETED"
	DeliveryCancelled DeliveryStatus = "CANCELLED"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliveryAssigned:  1,
	DeliveryInTransit: 2,
	DeliveryCompleted: 3,
}

// IsTerminal reports whether no further transitions are allowed.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryCompleted || s == DeliveryCancelled
}

// IsActive reports whether a driver is working the delivery.
func (s DeliveryStatus) IsActive() bool {
	return s == DeliveryAssigned || s == DeliveryInTransit
}

// CanTransitionTo reports whether s -> next is allowed. Status only moves
// forward; CANCELLED is reachable from any non-terminal state.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == DeliveryCancelled {
		return true
	}
	from, ok := deliveryRank[s]
	if !ok {
		return false
	}
	to, ok := deliveryRank[next]
	if !ok {
		return false
	}
	return to > from
}

// DeliverySession is a delivery as seen by the tracking core. It holds the
// driver by id only; the position is looked up in the store when needed.
type DeliverySession struct {
	DeliveryID string         `json:"delivery_id"`
	DriverID   string         `json:"driver_id,omitempty"`
	CustomerID string         `json:"customer_id"`
	Status     DeliveryStatus `json:"status"`
	Dropoff    GeoPoint       `json:"dropoff"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TopicKind selects what a subscription follows.
type TopicKind string

const (
	TopicDriver   TopicKind = "driver"
	TopicDelivery TopicKind = "delivery"
)

// Topic is a subscription key: a driver or a delivery.
type Topic struct {
	Kind TopicKind `json:"topic_type"`
	ID   string    `json:"topic_id"`
}

// DriverTopic returns the topic for a driver id.
func DriverTopic(id string) Topic { return Topic{Kind: TopicDriver, ID: id} }

// DeliveryTopic returns the topic for a delivery id.
func DeliveryTopic(id string) Topic { return Topic{Kind: TopicDelivery, ID: id} }

func (t Topic) String() string {
	return string(t.Kind) + ":" + t.ID
}

// ParseTopic builds a topic from its wire parts.
func ParseTopic(kind, id string) (Topic, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Topic{}, ValidationError("topic id is required")
	}
	switch TopicKind(strings.ToLower(kind)) {
	case TopicDriver:
		return DriverTopic(id), nil
	case TopicDelivery:
		return DeliveryTopic(id), nil
	default:
		return Topic{}, ValidationError(fmt.Sprintf("unknown topic type %q", kind))
	}
}

// Subscription is one connection's interest in one topic.
type Subscription struct {
	ConnectionID string    `json:"connection_id"`
	Topic        Topic     `json:"topic"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role of an authenticated identity.
type Role string

const (
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
)

// Identity is who a connection authenticated as.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SignalKind is a proximity signal emitted by the dispatch coordinator.
type SignalKind string

const (
	SignalApproaching SignalKind = "APPROACHING"
	SignalArrived     SignalKind = "ARRIVED"
	SignalZoneEntered SignalKind = "ZONE_ENTERED"
)

// ProximitySignal says a driver came close to a drop-off or entered a zone.
type ProximitySignal struct {
	ID             string     `json:"id"`
	Kind           SignalKind `json:"kind"`
	DriverID       string     `json:"driver_id"`
	DeliveryID     string     `json:"delivery_id,omitempty"`
	ZoneID         string     `json:"zone_id,omitempty"`
	DistanceMeters float64    `json:"distance_meters"`
	Location       GeoPoint   `json:"location"`
	At             time.Time  `json:"at"`
}
