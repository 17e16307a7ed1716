package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// WorkflowStarter is the part of client.Client the notifier uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// ArrivalNotifier starts an ArrivalWorkflow per ARRIVED signal.
type ArrivalNotifier struct {
	starter   WorkflowStarter
	taskQueue string
}

// NewArrivalNotifier returns a notifier that starts workflows on taskQueue.
func NewArrivalNotifier(starter WorkflowStarter, taskQueue string) *ArrivalNotifier {
	return &ArrivalNotifier{starter: starter, taskQueue: taskQueue}
}

// NotifyArrival implements ports.ArrivalNotifier.
func (n *ArrivalNotifier) NotifyArrival(ctx context.Context, sig *domain.ProximitySignal) error {
	if sig == nil || sig.DeliveryID == "" {
		return domain.ValidationError("arrival needs a delivery id")
	}
	opts := client.StartWorkflowOptions{
		ID:        ArrivalWorkflowID(sig.DeliveryID),
		TaskQueue: n.taskQueue,
	}
	if _, err := n.starter.ExecuteWorkflow(ctx, opts, ArrivalWorkflow, ArrivalInput{Signal: *sig}); err != nil {
		return fmt.Errorf("start arrival workflow: %w", err)
	}
	return nil
}
