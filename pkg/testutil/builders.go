// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/google/uuid"
)

// WorkflowBuilder assembles workflow graphs for tests.
type WorkflowBuilder struct {
	wf *models.Workflow
}

// NewWorkflow starts a workflow owned by "owner-1".
func NewWorkflow(name string) *WorkflowBuilder {
	now := time.Now().UTC()

	return &WorkflowBuilder{wf: &models.Workflow{
		ID:        uuid.New().String(),
		Name:      name,
		Owner:     "owner-1",
		CreatedAt: now,
		UpdatedAt: now,
	}}
}

// WithID overrides the generated workflow id.
func (b *WorkflowBuilder) WithID(id string) *WorkflowBuilder {
	b.wf.ID = id

	return b
}

// WithOwner sets the owning account.
func (b *WorkflowBuilder) WithOwner(owner string) *WorkflowBuilder {
	b.wf.Owner = owner

	return b
}

// Node adds a node; overrides customise it.
func (b *WorkflowBuilder) Node(id string, nodeType models.NodeType, overrides ...func(*models.Node)) *WorkflowBuilder {
	n := &models.Node{ID: id, Type: nodeType, Name: id}

	for _, override := range overrides {
		override(n)
	}

	b.wf.Nodes = append(b.wf.Nodes, n)

	return b
}

// Connect links the main ports of two nodes.
func (b *WorkflowBuilder) Connect(source, target string) *WorkflowBuilder {
	return b.ConnectPorts(source, models.DefaultPort, target, models.DefaultPort)
}

// ConnectPorts links explicit ports.
func (b *WorkflowBuilder) ConnectPorts(source, sourcePort, target, targetPort string) *WorkflowBuilder {
	b.wf.Connections = append(b.wf.Connections, &models.Connection{
		ID:           fmt.Sprintf("c%d", len(b.wf.Connections)+1),
		SourceNodeID: source,
		SourcePort:   sourcePort,
		TargetNodeID: target,
		TargetPort:   targetPort,
	})

	return b
}

func (b *WorkflowBuilder) Build() *models.Workflow {
	return b.wf
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// WithRetries sets the node's retry ceiling.
func WithRetries(retries int) func(*models.Node) {
	return func(n *models.Node) {
		n.MaxRetries = &retries
	}
}

// WithTimeout sets the node's per-attempt timeout in seconds.
func WithTimeout(seconds int) func(*models.Node) {
	return func(n *models.Node) {
		n.TimeoutSeconds = seconds
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}
