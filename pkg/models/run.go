package models

import (
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Run is one execution of a workflow snapshot.
type Run struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	Owner          string         `json:"owner,omitempty"`
	Snapshot       *Workflow      `json:"snapshot"`
	TriggerNodeID  string         `json:"trigger_node_id,omitempty"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
	Status         RunStatus      `json:"status"`
	Fault          bool           `json:"fault,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
}

// Header returns a copy of the run without the graph snapshot.
func (r *Run) Header() *Run {
	cp := *r
	cp.Snapshot = nil

	return &cp
}

// NodeStatus is the lifecycle state of a node-instance within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "PENDING"
	NodeStatusReady     NodeStatus = "READY"
	NodeStatusRunning   NodeStatus = "RUNNING"
	NodeStatusSucceeded NodeStatus = "SUCCEEDED"
	NodeStatusFailed    NodeStatus = "FAILED"
	NodeStatusSkipped   NodeStatus = "SKIPPED"
)

// Terminal reports whether the record is immutable.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSucceeded || s == NodeStatusFailed || s == NodeStatusSkipped
}

// SkipReason explains why a node-instance was skipped.
type SkipReason string

const (
	SkipReasonBranchNotTaken SkipReason = "branch_not_taken"
	SkipReasonUpstreamFailed SkipReason = "upstream_failed"
	SkipReasonCancelled      SkipReason = "cancelled"
	SkipReasonNotSelected    SkipReason = "not_selected"
)

// NodeExecutionRecord tracks one node-instance of a run.
type NodeExecutionRecord struct {
	RunID      string         `json:"run_id"`
	InstanceID string         `json:"instance_id"`
	NodeID     string         `json:"node_id"`
	NodeType   NodeType       `json:"node_type"`
	Iteration  int            `json:"iteration"`
	Status     NodeStatus     `json:"status"`
	SkipReason SkipReason     `json:"skip_reason,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     Outputs        `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	NotBefore  *time.Time     `json:"not_before,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine.
func (r *NodeExecutionRecord) Clone() *NodeExecutionRecord {
	cp := *r
	cp.Input = CloneMap(r.Input)
	cp.Output = r.Output.Clone()

	return &cp
}

// Outputs maps an output port to the data emitted on it. A port absent from
// the map was not emitted.
type Outputs map[string]map[string]any

// Clone deep copies the outputs.
func (o Outputs) Clone() Outputs {
	if o == nil {
		return nil
	}

	cp := make(Outputs, len(o))
	for port, data := range o {
		cp[port] = CloneMap(data)
	}

	return cp
}

// Emitted reports whether data was produced on the port.
func (o Outputs) Emitted(port string) bool {
	_, ok := o[port]

	return ok
}

// FailedNode is a user-visible summary of a failed node-instance.
type FailedNode struct {
	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}
