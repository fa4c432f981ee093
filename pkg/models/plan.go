package models

import (
	"time"
)

// NoIteration marks a node-instance outside any loop.
const NoIteration = -1

// IterationSeparator joins a node id and its iteration in an instance id, so
// node ids may not contain it.
const IterationSeparator = "#"

// InputBinding wires one output port of an upstream instance into an input port.
type InputBinding struct {
	TargetPort       string `json:"target_port"`
	SourceInstanceID string `json:"source_instance_id"`
	SourcePort       string `json:"source_port"`
}

// PlanInstance is one node-instance of a compiled plan.
type PlanInstance struct {
	ID         string         `json:"id"`
	NodeID     string         `json:"node_id"`
	NodeType   NodeType       `json:"node_type"`
	Iteration  int            `json:"iteration"`
	LoopID     string         `json:"loop_id,omitempty"`
	Order      int            `json:"order"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Inputs     []InputBinding `json:"inputs,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	MaxRetries int            `json:"max_retries"`
	Timeout    time.Duration  `json:"timeout"`
}

// ExecutionPlan is the ordered set of node-instances a run executes.
type ExecutionPlan struct {
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	Instances  []*PlanInstance `json:"instances"`
}

// Instance returns the plan instance with the given id or nil.
func (p *ExecutionPlan) Instance(id string) *PlanInstance {
	for _, inst := range p.Instances {
		if inst.ID == id {
			return inst
		}
	}

	return nil
}

// Order returns instance ids in execution order.
func (p *ExecutionPlan) Order() []string {
	ids := make([]string, len(p.Instances))
	for i, inst := range p.Instances {
		ids[i] = inst.ID
	}

	return ids
}
