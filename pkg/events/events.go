// Package events defines the messages exchanged between trigger sources, the
// dispatcher and the engine's status reporting.
package events

import (
	"errors"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "flow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Launch requests from trigger sources.
	RunRequestedEvent EventType = "run.requested"

	// Run outcome reporting.
	RunSucceededEvent EventType = "run.succeeded"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"

	NodeFinishedEvent EventType = "node.finished"
)

var ErrInvalidEvent = errors.New("invalid event")

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// RunRequested asks the dispatcher to launch a run. Every trigger source
// reaches the engine through it.
type RunRequested struct {
	BaseEvent

	TriggerNodeID string         `json:"trigger_node_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Owner         string         `json:"owner,omitempty"`
	Source        string         `json:"source"`
}

func (r RunRequested) GetType() EventType {
	return RunRequestedEvent
}

func (r *RunRequested) Validate() error {
	if r.WorkflowID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("workflow_id is required"))
	}

	if r.Source == "" {
		return errors.Join(ErrInvalidEvent, errors.New("source is required"))
	}

	return nil
}

// RunFinished reports a terminal run. Its type depends on the final status.
type RunFinished struct {
	BaseEvent

	RunID       string              `json:"run_id"`
	Status      models.RunStatus    `json:"status"`
	Fault       bool                `json:"fault,omitempty"`
	Error       string              `json:"error,omitempty"`
	FailedNodes []models.FailedNode `json:"failed_nodes,omitempty"`
	Duration    time.Duration       `json:"duration"`
}

func (r RunFinished) GetType() EventType {
	return r.Type
}

// RunFinishedType maps a terminal run status to its event type.
func RunFinishedType(status models.RunStatus) EventType {
	switch status {
	case models.RunStatusSucceeded:
		return RunSucceededEvent
	case models.RunStatusCancelled:
		return RunCancelledEvent
	default:
		return RunFailedEvent
	}
}

// NewRunFinished builds the report of a terminal run.
func NewRunFinished(run *models.Run, failed []models.FailedNode) *RunFinished {
	ev := &RunFinished{
		BaseEvent:   NewBaseEvent(RunFinishedType(run.Status), run.WorkflowID),
		RunID:       run.ID,
		Status:      run.Status,
		Fault:       run.Fault,
		Error:       run.Error,
		FailedNodes: failed,
	}

	if run.StartedAt != nil && run.EndedAt != nil {
		ev.Duration = run.EndedAt.Sub(*run.StartedAt)
	}

	return ev
}

type NodeFinished struct {
	BaseEvent

	RunID      string            `json:"run_id"`
	InstanceID string            `json:"instance_id"`
	NodeID     string            `json:"node_id"`
	Iteration  int               `json:"iteration"`
	Status     models.NodeStatus `json:"status"`
	SkipReason models.SkipReason `json:"skip_reason,omitempty"`
	Attempts   int               `json:"attempts"`
	Error      string            `json:"error,omitempty"`
}

func (n NodeFinished) GetType() EventType {
	return NodeFinishedEvent
}

// NewNodeFinished builds the report of a terminal node-instance.
func NewNodeFinished(workflowID string, record *models.NodeExecutionRecord) *NodeFinished {
	return &NodeFinished{
		BaseEvent:  NewBaseEvent(NodeFinishedEvent, workflowID),
		RunID:      record.RunID,
		InstanceID: record.InstanceID,
		NodeID:     record.NodeID,
		Iteration:  record.Iteration,
		Status:     record.Status,
		SkipReason: record.SkipReason,
		Attempts:   record.Attempts,
		Error:      record.Error,
	}
}
