package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/ports"
)

// ArrivalActivities holds the activity implementations for the arrival workflow.
type ArrivalActivities struct {
	Signals   ports.SignalRepository
	Sessions  ports.DeliverySessions
	Publisher ports.SignalPublisher
}

// RecordArrival stores the signal. Inserts are keyed by signal id, so retries
// do not duplicate it.
func (a *ArrivalActivities) RecordArrival(ctx context.Context, sig domain.ProximitySignal) error {
	if err := a.Signals.Insert(ctx, &sig); err != nil {
		return fmt.Errorf("record arrival %s: %w", sig.ID, err)
	}
	return nil
}

// AdvanceDelivery moves an ASSIGNED delivery to IN_TRANSIT. It reports false
// when the delivery was already further along.
func (a *ArrivalActivities) AdvanceDelivery(ctx context.Context, deliveryID string) (bool, error) {
	if a.Sessions == nil {
		return false, nil
	}
	ok, err := a.Sessions.AdvanceStatus(ctx, deliveryID, domain.DeliveryInTransit)
	if err != nil {
		return false, fmt.Errorf("advance delivery %s: %w", deliveryID, err)
	}
	return ok, nil
}

// PublishArrival broadcasts the signal.
func (a *ArrivalActivities) PublishArrival(ctx context.Context, sig domain.ProximitySignal) error {
	if a.Publisher == nil {
		activity.GetLogger(ctx).Info("no signal publisher, arrival not broadcast", "signalID", sig.ID)
		return nil
	}
	if err := a.Publisher.PublishSignal(ctx, &sig); err != nil {
		return fmt.Errorf("publish arrival %s: %w", sig.ID, err)
	}
	return nil
}
