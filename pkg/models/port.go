package models

// Ports with fixed meaning across the engine.
const (
	PortTrue  = "true"
	PortFalse = "false"

	LoopPortBody = "body" // output: entry of every iteration
	LoopPortDone = "done" // output: fires after the last iteration
	LoopPortBack = "loop" // input: back-edge from the end of the body

	MergePortOutput = "merged"
)

// IsLoopBackEdge reports whether the connection closes a loop body onto its LOOP node.
func IsLoopBackEdge(conn *Connection, target *Node) bool {
	return target != nil && target.Type == NodeTypeLoop && conn.TargetPort == LoopPortBack
}
