package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGraph is matched by every ValidationError.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// ViolationCode classifies a structural problem of a workflow graph.
type ViolationCode string

const (
	CodeUnknownNode           ViolationCode = "unknown_node"
	CodeUnknownNodeType       ViolationCode = "unknown_node_type"
	CodeDuplicateNodeID       ViolationCode = "duplicate_node_id"
	CodeInvalidNodeID         ViolationCode = "invalid_node_id"
	CodeSelfLoop              ViolationCode = "self_loop"
	CodePlaceholderConnection ViolationCode = "placeholder_connection"
	CodeDuplicateConnection   ViolationCode = "duplicate_connection"
	CodeDuplicateTrigger      ViolationCode = "duplicate_trigger"
	CodeTriggerInbound        ViolationCode = "trigger_inbound"
	CodeCycle                 ViolationCode = "cycle"
	CodeUnreachableNode       ViolationCode = "unreachable_node"
	CodeNoTrigger             ViolationCode = "no_trigger"
)

// Violation is one structural problem found in a graph.
type Violation struct {
	Code         ViolationCode `json:"code"`
	Message      string        `json:"message"`
	NodeIDs      []string      `json:"node_ids,omitempty"`
	ConnectionID string        `json:"connection_id,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// ValidationError lists every violation of a rejected graph.
type ValidationError struct {
	WorkflowID string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}

	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(msgs, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// IsValidationError checks if an error is a graph validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidGraph)
}

// AsValidationError extracts the ValidationError from an error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	ok := errors.As(err, &verr)

	return verr, ok
}
