package models

import (
	"time"
)

// RunEventType names an entry of the append-only run log.
type RunEventType string

const (
	RunEventCreated         RunEventType = "run.created"
	RunEventStarted         RunEventType = "run.started"
	RunEventCancelRequested RunEventType = "run.cancel_requested"
	RunEventFinished        RunEventType = "run.finished"

	NodeEventPending        RunEventType = "node.pending"
	NodeEventReady          RunEventType = "node.ready"
	NodeEventRunning        RunEventType = "node.running"
	NodeEventRetryScheduled RunEventType = "node.retry_scheduled"
	NodeEventSucceeded      RunEventType = "node.succeeded"
	NodeEventFailed         RunEventType = "node.failed"
	NodeEventSkipped        RunEventType = "node.skipped"
)

// RunEvent is a log entry carrying the full state of the run header or of one
// node-instance after the transition. Seq is assigned by the store.
type RunEvent struct {
	RunID string               `json:"run_id"`
	Seq   int64                `json:"seq"`
	Type  RunEventType         `json:"type"`
	At    time.Time            `json:"at"`
	Run   *Run                 `json:"run,omitempty"`
	Node  *NodeExecutionRecord `json:"node,omitempty"`
}

// NewRunEvent builds a run header event.
func NewRunEvent(eventType RunEventType, run *Run) *RunEvent {
	return &RunEvent{
		RunID: run.ID,
		Type:  eventType,
		At:    time.Now().UTC(),
		Run:   run.Header(),
	}
}

// NewNodeEvent builds a node-instance event.
func NewNodeEvent(eventType RunEventType, record *NodeExecutionRecord) *RunEvent {
	return &RunEvent{
		RunID: record.RunID,
		Type:  eventType,
		At:    time.Now().UTC(),
		Node:  record.Clone(),
	}
}

// NodeEventFor maps a node status to the event type recording it.
func NodeEventFor(status NodeStatus) RunEventType {
	switch status {
	case NodeStatusReady:
		return NodeEventReady
	case NodeStatusRunning:
		return NodeEventRunning
	case NodeStatusSucceeded:
		return NodeEventSucceeded
	case NodeStatusFailed:
		return NodeEventFailed
	case NodeStatusSkipped:
		return NodeEventSkipped
	default:
		return NodeEventPending
	}
}
