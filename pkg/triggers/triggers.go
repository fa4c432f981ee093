// Package triggers holds the contract shared by the trigger sources. Every
// source reaches the engine the same way: it publishes a run.requested event
// for the dispatcher.
package triggers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/events"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/nodes/trigger"
)

const (
	SourceAPI      = "api"
	SourceWebhook  = "webhook"
	SourceSchedule = "schedule"
	SourceQueue    = "queue"
)

// Callback receives the payload of a fired trigger.
type Callback func(ctx context.Context, payload map[string]any) error

type Trigger interface {
	Start(ctx context.Context, callback Callback) error
	Stop(ctx context.Context) error
}

// Target is the trigger node a source launches.
type Target struct {
	WorkflowID string
	NodeID     string
	Owner      string
}

func (t Target) String() string {
	return t.WorkflowID + "/" + t.NodeID
}

// Request builds the launch request of a fired trigger.
func Request(target Target, source string, payload map[string]any) *events.RunRequested {
	return &events.RunRequested{
		BaseEvent:     events.NewBaseEvent(events.RunRequestedEvent, target.WorkflowID),
		TriggerNodeID: target.NodeID,
		Payload:       payload,
		Owner:         target.Owner,
		Source:        source,
	}
}

// Publish returns a Callback that turns every firing into a run.requested
// event keyed by workflow.
func Publish(pub eventbus.EventPublisher, target Target, source string, logger *slog.Logger) Callback {
	return func(ctx context.Context, payload map[string]any) error {
		req := Request(target, source, payload)

		if err := pub.Publish(ctx, target.WorkflowID, req); err != nil {
			logger.ErrorContext(ctx, "Failed to publish run request",
				"workflow_id", target.WorkflowID,
				"trigger_node_id", target.NodeID,
				"error", err)

			return fmt.Errorf("failed to publish run request for %s: %w", target, err)
		}

		logger.InfoContext(ctx, "Run requested",
			"event_id", req.ID,
			"workflow_id", target.WorkflowID,
			"trigger_node_id", target.NodeID,
			"source", source)

		return nil
	}
}

// Binding is one TRIGGER node together with its decoded configuration.
type Binding struct {
	Target
	Config *trigger.ScheduleConfig
}

// Bindings lists the TRIGGER nodes of wf that carry a schedule or a queue.
// Nodes with an invalid configuration are returned in errs.
func Bindings(wf *models.Workflow) (bindings []Binding, errs []error) {
	for _, node := range wf.Nodes {
		if node.Type != models.NodeTypeTrigger {
			continue
		}

		cfg, err := trigger.ParseScheduleConfig(node.Config)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s node %s: %w", wf.ID, node.ID, err))

			continue
		}

		if cfg.Schedule == "" && cfg.Queue == "" {
			continue
		}

		bindings = append(bindings, Binding{
			Target: Target{WorkflowID: wf.ID, NodeID: node.ID, Owner: wf.Owner},
			Config: cfg,
		})
	}

	return bindings, errs
}
