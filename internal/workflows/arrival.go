package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// ArrivalInput is the input for the arrival workflow.
type ArrivalInput struct {
	Signal domain.ProximitySignal
}

// ArrivalWorkflowID is the workflow id for a delivery's arrival. Starting a
// second arrival for the same delivery while one runs attaches to it.
func ArrivalWorkflowID(deliveryID string) string {
	return "arrival-" + deliveryID
}

// ArrivalWorkflow records an ARRIVED signal, makes sure the delivery is at
// least IN_TRANSIT, and broadcasts the signal. Recording is required; the
// status advance and broadcast are best-effort.
func ArrivalWorkflow(ctx workflow.Context, input ArrivalInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting arrival workflow", "deliveryID", input.Signal.DeliveryID, "driverID", input.Signal.DriverID)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: Record the signal
	if err := workflow.ExecuteActivity(ctx, "RecordArrival", input.Signal).Get(ctx, nil); err != nil {
		return err
	}

	// Step 2: Advance the delivery
	var advanced bool
	err := workflow.ExecuteActivity(ctx, "AdvanceDelivery", input.Signal.DeliveryID).Get(ctx, &advanced)
	if err != nil {
		logger.Warn("advance delivery failed", "error", err)
	}

	// Step 3: Broadcast
	if err := workflow.ExecuteActivity(ctx, "PublishArrival", input.Signal).Get(ctx, nil); err != nil {
		logger.Warn("publish arrival failed", "error", err)
	}

	logger.Info("Arrival handled", "advanced", advanced)
	return nil
}
