package planner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPlanning is matched by every PlanningError.
var ErrPlanning = errors.New("workflow cannot be planned")

// ProblemCode classifies why a workflow cannot be compiled into a plan.
type ProblemCode string

const (
	ProblemUnregisteredType ProblemCode = "unregistered_type"
	ProblemInvalidConfig    ProblemCode = "invalid_config"
	ProblemUnknownNode      ProblemCode = "unknown_node"
	ProblemUnknownPort      ProblemCode = "unknown_port"
	ProblemLoopIterations   ProblemCode = "loop_iterations"
	ProblemNestedLoop       ProblemCode = "nested_loop"
	ProblemLoopBackEdge     ProblemCode = "loop_back_edge"
	ProblemCycle            ProblemCode = "cycle"
	ProblemEmpty            ProblemCode = "empty_plan"
)

// Problem is one reason a plan could not be produced.
type Problem struct {
	Code    ProblemCode `json:"code"`
	NodeID  string      `json:"node_id,omitempty"`
	Message string      `json:"message"`
}

// PlanningError lists every problem found while compiling a plan.
type PlanningError struct {
	WorkflowID string
	Problems   []Problem
}

func (e *PlanningError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = fmt.Sprintf("%s: %s", p.Code, p.Message)
	}

	return fmt.Sprintf("planning workflow %s failed: %s", e.WorkflowID, strings.Join(msgs, "; "))
}

func (e *PlanningError) Is(target error) bool {
	return target == ErrPlanning
}

// IsPlanningError checks if an error is a planning failure.
func IsPlanningError(err error) bool {
	return errors.Is(err, ErrPlanning)
}

// AsPlanningError extracts the PlanningError from an error chain.
func AsPlanningError(err error) (*PlanningError, bool) {
	var perr *PlanningError
	ok := errors.As(err, &perr)

	return perr, ok
}
