// Package protocol defines the contract between the engine and pluggable node executors.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
)

// PortSpec declares the ports of a node type.
type PortSpec struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`

	// DynamicInputs allows any input port name.
	DynamicInputs bool `json:"dynamic_inputs,omitempty"`
}

// HasInput reports whether port is an accepted input port.
func (p PortSpec) HasInput(port string) bool {
	if p.DynamicInputs {
		return true
	}

	for _, in := range p.Inputs {
		if in == port {
			return true
		}
	}

	return false
}

// HasOutput reports whether port is a declared output port.
func (p PortSpec) HasOutput(port string) bool {
	for _, out := range p.Outputs {
		if out == port {
			return true
		}
	}

	return false
}

// Executor runs one node type.
type Executor interface {
	// Type returns the node type handled by this executor
	Type() models.NodeType

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any

	// Ports returns the declared input and output ports
	Ports() PortSpec

	// ValidateConfig checks a node configuration beyond what the schema expresses
	ValidateConfig(config map[string]any) error

	// Execute performs one attempt. Errors should be wrapped with Retryable or
	// Fatal; any other error is treated as fatal.
	Execute(ctx context.Context, execCtx *models.ExecutionContext, config map[string]any) (models.Outputs, error)
}

// DecodeConfig copies a loosely typed node configuration into a typed struct
// using its json tags.
func DecodeConfig(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}
