package models

import (
	"time"
)

// NodeType identifies the executor variant of a node.
type NodeType string

const (
	NodeTypeInitial       NodeType = "INITIAL" // placeholder of an empty workflow, never executed
	NodeTypeTrigger       NodeType = "TRIGGER"
	NodeTypeManualTrigger NodeType = "MANUAL_TRIGGER"
	NodeTypeWebhook       NodeType = "WEBHOOK"
	NodeTypeHTTPRequest   NodeType = "HTTP_REQUEST"
	NodeTypeAction        NodeType = "ACTION"
	NodeTypeCondition     NodeType = "CONDITION"
	NodeTypeLoop          NodeType = "LOOP"
	NodeTypeMerge         NodeType = "MERGE"
)

// AllNodeTypes lists every node type known to the model.
var AllNodeTypes = []NodeType{
	NodeTypeInitial,
	NodeTypeTrigger,
	NodeTypeManualTrigger,
	NodeTypeWebhook,
	NodeTypeHTTPRequest,
	NodeTypeAction,
	NodeTypeCondition,
	NodeTypeLoop,
	NodeTypeMerge,
}

// IsTrigger reports whether nodes of this type are run entry points.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeManualTrigger, NodeTypeWebhook:
		return true
	default:
		return false
	}
}

// IsSingletonTrigger reports whether a workflow may hold at most one node of this type.
func (t NodeType) IsSingletonTrigger() bool {
	return t == NodeTypeManualTrigger || t == NodeTypeWebhook
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	for _, known := range AllNodeTypes {
		if t == known {
			return true
		}
	}

	return false
}

// Position is presentation-only editor coordinates.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a single step of a workflow graph.
type Node struct {
	ID             string         `json:"id"                        yaml:"id"                        validate:"required"`
	Type           NodeType       `json:"type"                      yaml:"type"                      validate:"required"`
	Name           string         `json:"name"                      yaml:"name"`
	Position       Position       `json:"position"                  yaml:"position"`
	Config         map[string]any `json:"config,omitempty"          yaml:"config,omitempty"`
	MaxRetries     *int           `json:"max_retries,omitempty"     yaml:"max_retries,omitempty"     validate:"omitempty,min=0"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"min=0"`
}

// Timeout returns the per-attempt timeout of the node, or fallback when unset.
func (n *Node) Timeout(fallback time.Duration) time.Duration {
	if n.TimeoutSeconds > 0 {
		return time.Duration(n.TimeoutSeconds) * time.Second
	}

	return fallback
}

// RetryCeiling returns the node's retry ceiling, or fallback when unset.
func (n *Node) RetryCeiling(fallback int) int {
	if n.MaxRetries != nil {
		return *n.MaxRetries
	}

	return fallback
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	cp := *n
	cp.Config = CloneMap(n.Config)

	if n.MaxRetries != nil {
		retries := *n.MaxRetries
		cp.MaxRetries = &retries
	}

	return &cp
}

// CloneMap deep copies nested maps and slices of a JSON-like value tree.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}

	return dst
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}
