package ports

import (
	"context"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// DispatchDirectory is the read-only view of the delivery service the
// tracking core needs for topic resolution and subscription authorization.
type DispatchDirectory interface {
	// GetAssignedDriver returns the driver currently assigned to a delivery.
	// ok is false when nobody is assigned or the delivery is unknown.
	GetAssignedDriver(ctx context.Context, deliveryID string) (driverID string, ok bool, err error)
	// GetActiveDeliveries returns the deliveries a driver is working.
	GetActiveDeliveries(ctx context.Context, driverID string) ([]string, error)
	IsOperatorFor(ctx context.Context, who domain.Identity, deliveryID string) (bool, error)
	IsCustomerOf(ctx context.Context, who domain.Identity, deliveryID string) (bool, error)
}

// DeliveryLocator resolves delivery drop-off points for proximity checks.
type DeliveryLocator interface {
	GetDropoff(ctx context.Context, deliveryID string) (*domain.GeoPoint, error)
}

// SignalRepository persists proximity signals.
type SignalRepository interface {
	Insert(ctx context.Context, sig *domain.ProximitySignal) error
	ListByDelivery(ctx context.Context, deliveryID string, limit int) ([]domain.ProximitySignal, error)
}

// DeliverySessions reads and advances delivery state.
type DeliverySessions interface {
	// GetSession returns a NOT_FOUND error for unknown deliveries.
	GetSession(ctx context.Context, deliveryID string) (*domain.DeliverySession, error)
	// AdvanceStatus moves a delivery to next when the transition is allowed
	// and reports whether it did.
	AdvanceStatus(ctx context.Context, deliveryID string, next domain.DeliveryStatus) (bool, error)
}
