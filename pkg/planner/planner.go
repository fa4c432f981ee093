// Package planner compiles a workflow snapshot into an ordered execution plan.
package planner

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/nodes/loop"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
)

const (
	DefaultIterationCap = 1000
	DefaultRetries      = 3
	DefaultTimeout      = 30 * time.Second
)

// Resolver gives the planner access to registered executors.
type Resolver interface {
	Resolve(nodeType models.NodeType) (protocol.Executor, error)
	ValidateConfig(node *models.Node) error
}

type Planner struct {
	resolver       Resolver
	iterationCap   int
	defaultRetries int
	defaultTimeout time.Duration
}

type Option func(*Planner)

// WithIterationCap bounds the maxIterations a LOOP may request.
func WithIterationCap(n int) Option {
	return func(p *Planner) { p.iterationCap = n }
}

// WithDefaultRetries sets the retry ceiling of nodes that do not set one.
func WithDefaultRetries(n int) Option {
	return func(p *Planner) { p.defaultRetries = n }
}

// WithDefaultTimeout sets the per-attempt timeout of nodes that do not set one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(p *Planner) { p.defaultTimeout = d }
}

func New(resolver Resolver, opts ...Option) *Planner {
	p := &Planner{
		resolver:       resolver,
		iterationCap:   DefaultIterationCap,
		defaultRetries: DefaultRetries,
		defaultTimeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Plan compiles wf into an execution plan. Identical snapshots produce
// identical plans. On failure the error is a *PlanningError listing every
// problem found.
func (p *Planner) Plan(runID string, wf *models.Workflow) (*models.ExecutionPlan, error) {
	c := &compiler{
		planner:   p,
		wf:        wf.Snapshot(),
		perr:      &PlanningError{WorkflowID: wf.ID},
		nodes:     make(map[string]*models.Node),
		executors: make(map[string]protocol.Executor),
		back:      make(map[string][]*models.Connection),
		loops:     make(map[string]*loopInfo),
		regionOf:  make(map[string]string),
		instances: make(map[string]*models.PlanInstance),
	}

	c.indexNodes()
	c.classifyConnections()
	c.findLoops()

	if len(c.perr.Problems) > 0 {
		return nil, c.perr
	}

	ordered, stuck := topoSort(c.expand())
	if len(stuck) > 0 {
		c.problem(ProblemCycle, "", "instances %s depend on each other", strings.Join(stuck, ", "))

		return nil, c.perr
	}

	if len(ordered) == 0 {
		c.problem(ProblemEmpty, "", "workflow has no executable nodes")

		return nil, c.perr
	}

	return &models.ExecutionPlan{
		RunID:      runID,
		WorkflowID: wf.ID,
		Instances:  ordered,
	}, nil
}

type loopInfo struct {
	node       *models.Node
	iterations int
	region     map[string]bool
	tails      []string
}

type compiler struct {
	planner *Planner
	wf      *models.Workflow
	perr    *PlanningError

	nodes     map[string]*models.Node
	ids       []string
	executors map[string]protocol.Executor
	forward   []*models.Connection
	back      map[string][]*models.Connection
	loops     map[string]*loopInfo
	regionOf  map[string]string

	instances map[string]*models.PlanInstance
	extraDeps map[string][]string
}

func (c *compiler) problem(code ProblemCode, nodeID string, format string, args ...any) {
	c.perr.Problems = append(c.perr.Problems, Problem{
		Code:    code,
		NodeID:  nodeID,
		Message: fmt.Sprintf(format, args...),
	})
}

func (c *compiler) indexNodes() {
	for _, n := range c.wf.Nodes {
		if n.Type == models.NodeTypeInitial {
			continue
		}

		c.nodes[n.ID] = n
		c.ids = append(c.ids, n.ID)

		executor, err := c.planner.resolver.Resolve(n.Type)
		if err != nil {
			c.problem(ProblemUnregisteredType, n.ID, "node %q: %v", n.ID, err)

			continue
		}

		c.executors[n.ID] = executor

		if n.Type == models.NodeTypeLoop {
			cfg, err := loop.ParseConfig(n.Config)
			if err != nil {
				c.problem(ProblemLoopIterations, n.ID, "loop %q: %v", n.ID, err)

				continue
			}

			if cfg.MaxIterations > c.planner.iterationCap {
				c.problem(ProblemLoopIterations, n.ID, "loop %q requests %d iterations, limit is %d", n.ID, cfg.MaxIterations, c.planner.iterationCap)

				continue
			}

			c.loops[n.ID] = &loopInfo{node: n, iterations: cfg.MaxIterations, region: make(map[string]bool)}

			continue
		}

		if err := c.planner.resolver.ValidateConfig(n); err != nil {
			c.problem(ProblemInvalidConfig, n.ID, "node %q: %v", n.ID, err)
		}
	}

	sort.Strings(c.ids)
}

// classifyConnections checks ports and separates loop back-edges.
func (c *compiler) classifyConnections() {
	for _, conn := range c.wf.Connections {
		src, srcOK := c.nodes[conn.SourceNodeID]
		dst, dstOK := c.nodes[conn.TargetNodeID]

		if !srcOK || !dstOK {
			c.problem(ProblemUnknownNode, "", "connection %s does not join two executable nodes", conn)

			continue
		}

		if exec, ok := c.executors[src.ID]; ok && !exec.Ports().HasOutput(conn.SourcePort) {
			c.problem(ProblemUnknownPort, src.ID, "node %q (%s) has no output port %q", src.ID, src.Type, conn.SourcePort)
		}

		if exec, ok := c.executors[dst.ID]; ok && !exec.Ports().HasInput(conn.TargetPort) {
			c.problem(ProblemUnknownPort, dst.ID, "node %q (%s) has no input port %q", dst.ID, dst.Type, conn.TargetPort)
		}

		if models.IsLoopBackEdge(conn, dst) {
			c.back[dst.ID] = append(c.back[dst.ID], conn)

			continue
		}

		c.forward = append(c.forward, conn)
	}
}

func (c *compiler) successors(nodeID string) []string {
	var out []string

	for _, conn := range c.forward {
		if conn.SourceNodeID == nodeID {
			out = append(out, conn.TargetNodeID)
		}
	}

	return out
}

// findLoops computes each loop's body region: every node reachable from the
// body port without passing through the loop node itself.
func (c *compiler) findLoops() {
	loopIDs := make([]string, 0, len(c.loops))
	for id := range c.loops {
		loopIDs = append(loopIDs, id)
	}

	sort.Strings(loopIDs)

	for _, id := range loopIDs {
		info := c.loops[id]

		var queue []string

		for _, conn := range c.forward {
			if conn.SourceNodeID == id && conn.SourcePort == models.LoopPortBody {
				queue = append(queue, conn.TargetNodeID)
			}
		}

		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]

			if n == id || info.region[n] {
				continue
			}

			info.region[n] = true

			if c.nodes[n].Type != models.NodeTypeLoop {
				queue = append(queue, c.successors(n)...)
			}
		}

		for _, member := range sortedKeys(info.region) {
			if c.nodes[member].Type == models.NodeTypeLoop {
				c.problem(ProblemNestedLoop, member, "loop %q is nested inside loop %q", member, id)

				continue
			}

			if other, taken := c.regionOf[member]; taken {
				c.problem(ProblemNestedLoop, member, "node %q belongs to the bodies of loops %q and %q", member, other, id)

				continue
			}

			c.regionOf[member] = id
		}

		for _, conn := range c.back[id] {
			if !info.region[conn.SourceNodeID] {
				c.problem(ProblemLoopBackEdge, conn.SourceNodeID, "node %q closes loop %q but is not part of its body", conn.SourceNodeID, id)
			}
		}

		info.tails = c.tails(id, info)
	}
}

// tails are the instances whose completion ends an iteration: the sources of
// back-edges, or the sinks of the body when it has none.
func (c *compiler) tails(loopID string, info *loopInfo) []string {
	var tails []string

	if len(c.back[loopID]) > 0 {
		for _, conn := range c.back[loopID] {
			tails = append(tails, conn.SourceNodeID)
		}
	} else {
		for member := range info.region {
			sink := true

			for _, next := range c.successors(member) {
				if info.region[next] {
					sink = false

					break
				}
			}

			if sink {
				tails = append(tails, member)
			}
		}
	}

	slices.Sort(tails)

	return slices.Compact(tails)
}

func instanceID(nodeID string, iteration int) string {
	if iteration == models.NoIteration {
		return nodeID
	}

	return nodeID + models.IterationSeparator + strconv.Itoa(iteration)
}

// expand creates every node-instance and resolves its input bindings.
func (c *compiler) expand() []*models.PlanInstance {
	c.extraDeps = make(map[string][]string)

	out := make([]*models.PlanInstance, 0, len(c.ids))

	for _, id := range c.ids {
		n := c.nodes[id]

		if loopID, ok := c.regionOf[id]; ok {
			for i := range c.loops[loopID].iterations {
				out = append(out, c.newInstance(n, i, loopID))
			}

			continue
		}

		out = append(out, c.newInstance(n, models.NoIteration, ""))
	}

	for _, conn := range c.forward {
		c.bind(conn)
	}

	for _, inst := range out {
		deps := slices.Clone(c.extraDeps[inst.ID])
		for _, in := range inst.Inputs {
			deps = append(deps, in.SourceInstanceID)
		}

		slices.Sort(deps)
		inst.DependsOn = slices.Compact(deps)

		sort.SliceStable(inst.Inputs, func(i, j int) bool {
			a, b := inst.Inputs[i], inst.Inputs[j]
			if a.TargetPort != b.TargetPort {
				return a.TargetPort < b.TargetPort
			}

			if a.SourceInstanceID != b.SourceInstanceID {
				return a.SourceInstanceID < b.SourceInstanceID
			}

			return a.SourcePort < b.SourcePort
		})
	}

	return out
}

func (c *compiler) newInstance(n *models.Node, iteration int, loopID string) *models.PlanInstance {
	inst := &models.PlanInstance{
		ID:         instanceID(n.ID, iteration),
		NodeID:     n.ID,
		NodeType:   n.Type,
		Iteration:  iteration,
		LoopID:     loopID,
		Config:     models.CloneMap(n.Config),
		MaxRetries: n.RetryCeiling(c.planner.defaultRetries),
		Timeout:    n.Timeout(c.planner.defaultTimeout),
	}

	c.instances[inst.ID] = inst

	return inst
}

// instancesOf returns every instance of a node, in iteration order.
func (c *compiler) instancesOf(nodeID string) []*models.PlanInstance {
	if loopID, ok := c.regionOf[nodeID]; ok {
		k := c.loops[loopID].iterations
		out := make([]*models.PlanInstance, k)

		for i := range k {
			out[i] = c.instances[instanceID(nodeID, i)]
		}

		return out
	}

	return []*models.PlanInstance{c.instances[nodeID]}
}

func (c *compiler) addInput(target *models.PlanInstance, port, sourceID, sourcePort string) {
	target.Inputs = append(target.Inputs, models.InputBinding{
		TargetPort:       port,
		SourceInstanceID: sourceID,
		SourcePort:       sourcePort,
	})
}

func (c *compiler) addDep(target *models.PlanInstance, deps ...string) {
	c.extraDeps[target.ID] = append(c.extraDeps[target.ID], deps...)
}

func (c *compiler) bind(conn *models.Connection) {
	src, dst := conn.SourceNodeID, conn.TargetNodeID
	srcLoop, srcInBody := c.regionOf[src]
	dstLoop, dstInBody := c.regionOf[dst]

	if info, isLoop := c.loops[src]; isLoop {
		switch conn.SourcePort {
		case models.LoopPortBody:
			c.bindBodyEntry(conn, info)

			return
		case models.LoopPortDone:
			tails := make([]string, 0, len(info.tails))
			for _, t := range info.tails {
				tails = append(tails, instanceID(t, info.iterations-1))
			}

			for _, target := range c.instancesOf(dst) {
				c.addInput(target, conn.TargetPort, src, conn.SourcePort)
				c.addDep(target, tails...)
			}

			return
		}
	}

	switch {
	case srcInBody && dstInBody && srcLoop == dstLoop:
		for i, target := range c.instancesOf(dst) {
			c.addInput(target, conn.TargetPort, instanceID(src, i), conn.SourcePort)
		}
	default:
		for _, target := range c.instancesOf(dst) {
			c.addInput(target, conn.TargetPort, src, conn.SourcePort)
		}
	}
}

// bindBodyEntry wires a body entry node. Iteration 0 reads the loop's body
// port; later iterations read the back-edge sources of the previous
// iteration, or the body port again after the previous iteration's tails.
func (c *compiler) bindBodyEntry(conn *models.Connection, info *loopInfo) {
	loopID := info.node.ID
	backEdges := c.back[loopID]

	for i, target := range c.instancesOf(conn.TargetNodeID) {
		if i == 0 || len(backEdges) == 0 {
			c.addInput(target, conn.TargetPort, loopID, models.LoopPortBody)

			if i > 0 {
				for _, t := range info.tails {
					c.addDep(target, instanceID(t, i-1))
				}
			}

			continue
		}

		for _, be := range backEdges {
			c.addInput(target, conn.TargetPort, instanceID(be.SourceNodeID, i-1), be.SourcePort)
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
