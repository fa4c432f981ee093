package models

import "fmt"

// DefaultPort is used when a connection does not name a port.
const DefaultPort = "main"

// Connection is a directed edge from a source node's output port to a target node's input port.
type Connection struct {
	ID           string `json:"id"            yaml:"id"`
	SourceNodeID string `json:"source_node_id" yaml:"source"      validate:"required"`
	SourcePort   string `json:"source_port"   yaml:"source_port"`
	TargetNodeID string `json:"target_node_id" yaml:"target"      validate:"required"`
	TargetPort   string `json:"target_port"   yaml:"target_port"`
}

// Normalize fills empty ports with the default port.
func (c *Connection) Normalize() {
	if c.SourcePort == "" {
		c.SourcePort = DefaultPort
	}

	if c.TargetPort == "" {
		c.TargetPort = DefaultPort
	}
}

// Key identifies the connection by its endpoints, ignoring its id.
func (c *Connection) Key() string {
	src, dst := c.SourcePort, c.TargetPort
	if src == "" {
		src = DefaultPort
	}

	if dst == "" {
		dst = DefaultPort
	}

	return fmt.Sprintf("%s:%s->%s:%s", c.SourceNodeID, src, c.TargetNodeID, dst)
}

func (c *Connection) String() string {
	return c.Key()
}
