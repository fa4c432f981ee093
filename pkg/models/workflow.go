// Package models defines the core domain models for graph-based workflow execution
package models

import (
	"time"
)

// Workflow is a user-owned directed graph of nodes and connections.
type Workflow struct {
	ID          string        `json:"id"                 yaml:"id"`
	Name        string        `json:"name"               yaml:"name"        validate:"required,min=1"`
	Owner       string        `json:"owner"              yaml:"owner"`
	Nodes       []*Node       `json:"nodes"              yaml:"nodes"       validate:"dive"`
	Connections []*Connection `json:"connections"        yaml:"connections" validate:"dive"`
	CreatedAt   time.Time     `json:"created_at"         yaml:"-"`
	UpdatedAt   time.Time     `json:"updated_at"         yaml:"-"`
}

// NodeByID returns the node with the given id or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// TriggerNodes returns every trigger-kind node in declaration order.
func (w *Workflow) TriggerNodes() []*Node {
	var triggers []*Node

	for _, n := range w.Nodes {
		if n.Type.IsTrigger() {
			triggers = append(triggers, n)
		}
	}

	return triggers
}

// Snapshot returns a deep copy of the graph, detached from later edits.
func (w *Workflow) Snapshot() *Workflow {
	cp := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Owner:       w.Owner,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		Nodes:       make([]*Node, 0, len(w.Nodes)),
		Connections: make([]*Connection, 0, len(w.Connections)),
	}

	for _, n := range w.Nodes {
		cp.Nodes = append(cp.Nodes, n.Clone())
	}

	for _, c := range w.Connections {
		conn := *c
		conn.Normalize()
		cp.Connections = append(cp.Connections, &conn)
	}

	return cp
}
