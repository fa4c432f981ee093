package planner

import (
	"container/heap"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
)

// readyQueue orders ready instances by node id, then iteration.
type readyQueue []*models.PlanInstance

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].NodeID != q[j].NodeID {
		return q[i].NodeID < q[j].NodeID
	}

	return q[i].Iteration < q[j].Iteration
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*models.PlanInstance)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]

	return item
}

// topoSort runs Kahn's algorithm over the instance dependency graph. It
// returns the ordered instances and the ids left over when a cycle exists.
func topoSort(instances []*models.PlanInstance) ([]*models.PlanInstance, []string) {
	indegree := make(map[string]int, len(instances))
	dependents := make(map[string][]*models.PlanInstance, len(instances))

	for _, inst := range instances {
		indegree[inst.ID] = len(inst.DependsOn)
		for _, dep := range inst.DependsOn {
			dependents[dep] = append(dependents[dep], inst)
		}
	}

	q := &readyQueue{}
	for _, inst := range instances {
		if indegree[inst.ID] == 0 {
			*q = append(*q, inst)
		}
	}

	heap.Init(q)

	ordered := make([]*models.PlanInstance, 0, len(instances))

	for q.Len() > 0 {
		inst := heap.Pop(q).(*models.PlanInstance)
		inst.Order = len(ordered)
		ordered = append(ordered, inst)

		for _, next := range dependents[inst.ID] {
			indegree[next.ID]--
			if indegree[next.ID] == 0 {
				heap.Push(q, next)
			}
		}
	}

	var stuck []string

	if len(ordered) < len(instances) {
		for _, inst := range instances {
			if indegree[inst.ID] > 0 {
				stuck = append(stuck, inst.ID)
			}
		}
	}

	return ordered, stuck
}
