// Package graph validates the structure of workflow graphs before they are planned.
package graph

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
)

// Result holds every violation found by Validate, in check order.
type Result struct {
	WorkflowID string
	Violations []Violation
}

// Valid reports whether no violation was found.
func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

// Err returns a *ValidationError when the graph is invalid, nil otherwise.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}

	return &ValidationError{WorkflowID: r.WorkflowID, Violations: r.Violations}
}

func (r *Result) add(code ViolationCode, connID string, msg string, nodeIDs ...string) {
	r.Violations = append(r.Violations, Violation{
		Code:         code,
		Message:      msg,
		NodeIDs:      nodeIDs,
		ConnectionID: connID,
	})
}

// Validate checks the structural rules of a workflow graph and reports every
// violation rather than stopping at the first one. It does not mutate wf.
func Validate(wf *models.Workflow) Result {
	res := Result{WorkflowID: wf.ID}
	nodes := indexNodes(wf, &res)

	edges := checkConnections(wf, nodes, &res)
	checkTriggers(wf, edges, nodes, &res)
	checkCycles(wf, edges, nodes, &res)
	checkReachability(wf, edges, nodes, &res)

	return res
}

// ValidateForRun applies Validate and additionally requires an entry point.
func ValidateForRun(wf *models.Workflow) Result {
	res := Validate(wf)

	if len(wf.TriggerNodes()) == 0 {
		res.add(CodeNoTrigger, "", "workflow has no trigger node to start a run from")
	}

	return res
}

func indexNodes(wf *models.Workflow, res *Result) map[string]*models.Node {
	nodes := make(map[string]*models.Node, len(wf.Nodes))

	for _, n := range wf.Nodes {
		if _, dup := nodes[n.ID]; dup {
			res.add(CodeDuplicateNodeID, "", fmt.Sprintf("node id %q is used more than once", n.ID), n.ID)

			continue
		}

		if strings.Contains(n.ID, models.IterationSeparator) {
			res.add(CodeInvalidNodeID, "", fmt.Sprintf("node id %q must not contain %q", n.ID, models.IterationSeparator), n.ID)
		}

		if !n.Type.Valid() {
			res.add(CodeUnknownNodeType, "", fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type), n.ID)
		}

		nodes[n.ID] = n
	}

	return nodes
}

// checkConnections verifies endpoints, self loops, placeholder wiring and
// duplicates. It returns the connections usable by the later checks.
func checkConnections(wf *models.Workflow, nodes map[string]*models.Node, res *Result) []*models.Connection {
	var usable []*models.Connection

	for _, c := range wf.Connections {
		src, srcOK := nodes[c.SourceNodeID]
		dst, dstOK := nodes[c.TargetNodeID]

		if !srcOK {
			res.add(CodeUnknownNode, c.ID, fmt.Sprintf("connection %s references unknown source node %q", c, c.SourceNodeID), c.SourceNodeID)
		}

		if !dstOK {
			res.add(CodeUnknownNode, c.ID, fmt.Sprintf("connection %s references unknown target node %q", c, c.TargetNodeID), c.TargetNodeID)
		}

		if !srcOK || !dstOK {
			continue
		}

		if c.SourceNodeID == c.TargetNodeID {
			res.add(CodeSelfLoop, c.ID, fmt.Sprintf("node %q is connected to itself", c.SourceNodeID), c.SourceNodeID)

			continue
		}

		if src.Type == models.NodeTypeInitial || dst.Type == models.NodeTypeInitial {
			res.add(CodePlaceholderConnection, c.ID, fmt.Sprintf("connection %s touches a placeholder node", c), c.SourceNodeID, c.TargetNodeID)

			continue
		}

		usable = append(usable, c)
	}

	seen := make(map[string]string, len(usable))
	deduped := usable[:0:0]

	for _, c := range usable {
		key := c.Key()
		if firstID, dup := seen[key]; dup {
			res.add(CodeDuplicateConnection, c.ID, fmt.Sprintf("connection %s duplicates connection %q", key, firstID), c.SourceNodeID, c.TargetNodeID)

			continue
		}

		seen[key] = c.ID
		deduped = append(deduped, c)
	}

	return deduped
}

func checkTriggers(wf *models.Workflow, edges []*models.Connection, nodes map[string]*models.Node, res *Result) {
	byType := make(map[models.NodeType][]string)

	for _, n := range wf.Nodes {
		if n.Type.IsSingletonTrigger() {
			byType[n.Type] = append(byType[n.Type], n.ID)
		}
	}

	for _, t := range models.AllNodeTypes {
		if ids := byType[t]; len(ids) > 1 {
			res.add(CodeDuplicateTrigger, "", fmt.Sprintf("workflow may contain at most one %s node, found %d", t, len(ids)), ids...)
		}
	}

	for _, c := range edges {
		if nodes[c.TargetNodeID].Type.IsTrigger() {
			res.add(CodeTriggerInbound, c.ID, fmt.Sprintf("trigger node %q cannot receive connections", c.TargetNodeID), c.TargetNodeID)
		}
	}
}

// forwardEdges drops loop back-edges; what remains must be acyclic.
func forwardEdges(edges []*models.Connection, nodes map[string]*models.Node) map[string][]string {
	adj := make(map[string][]string)

	for _, c := range edges {
		if models.IsLoopBackEdge(c, nodes[c.TargetNodeID]) {
			continue
		}

		adj[c.SourceNodeID] = append(adj[c.SourceNodeID], c.TargetNodeID)
	}

	for id := range adj {
		slices.Sort(adj[id])
		adj[id] = slices.Compact(adj[id])
	}

	return adj
}

func checkCycles(wf *models.Workflow, edges []*models.Connection, nodes map[string]*models.Node, res *Result) {
	adj := forwardEdges(edges, nodes)

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, scc := range stronglyConnected(ids, adj) {
		if len(scc) < 2 {
			continue
		}

		res.add(CodeCycle, "", fmt.Sprintf("nodes %v form a cycle", scc), scc...)
	}
}

func checkReachability(wf *models.Workflow, edges []*models.Connection, nodes map[string]*models.Node, res *Result) {
	inbound := make(map[string]int, len(nodes))

	for _, c := range edges {
		if models.IsLoopBackEdge(c, nodes[c.TargetNodeID]) {
			continue
		}

		inbound[c.TargetNodeID]++
	}

	for _, n := range wf.Nodes {
		if n.Type.IsTrigger() || n.Type == models.NodeTypeInitial {
			continue
		}

		if inbound[n.ID] == 0 {
			res.add(CodeUnreachableNode, "", fmt.Sprintf("node %q has no inbound connection", n.ID), n.ID)
		}
	}
}

// stronglyConnected runs Tarjan's algorithm and returns components with
// sorted members, ordered by their smallest member.
func stronglyConnected(ids []string, adj map[string][]string) [][]string {
	var (
		index   int
		stack   []string
		onStack = make(map[string]bool)
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		out     [][]string
	)

	var visit func(v string)
	visit = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++

		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := indices[w]; !seen {
				visit(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}

		var scc []string

		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false

			scc = append(scc, w)
			if w == v {
				break
			}
		}

		sort.Strings(scc)
		out = append(out, scc)
	}

	for _, id := range ids {
		if _, seen := indices[id]; !seen {
			visit(id)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })

	return out
}
