package graph

import (
	"testing"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, t models.NodeType) *models.Node {
	return &models.Node{ID: id, Type: t, Name: id}
}

func conn(id, src, dst string) *models.Connection {
	return &models.Connection{ID: id, SourceNodeID: src, TargetNodeID: dst}
}

func codes(res Result) []ViolationCode {
	out := make([]ViolationCode, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, v.Code)
	}

	return out
}

func TestValidate_ValidLinearGraph(t *testing.T) {
	wf := &models.Workflow{
		ID: "wf",
		Nodes: []*models.Node{
			node("t", models.NodeTypeManualTrigger),
			node("a", models.NodeTypeHTTPRequest),
			node("b", models.NodeTypeAction),
		},
		Connections: []*models.Connection{conn("c1", "t", "a"), conn("c2", "a", "b")},
	}

	res := Validate(wf)

	assert.True(t, res.Valid())
	assert.NoError(t, res.Err())
}

func TestValidate_PlaceholderOnlyWorkflowIsValid(t *testing.T) {
	wf := &models.Workflow{ID: "wf", Nodes: []*models.Node{node("init", models.NodeTypeInitial)}}

	assert.True(t, Validate(wf).Valid())

	res := ValidateForRun(wf)
	assert.Equal(t, []ViolationCode{CodeNoTrigger}, codes(res))
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	wf := &models.Workflow{
		ID: "wf",
		Nodes: []*models.Node{
			node("t1", models.NodeTypeManualTrigger),
			node("t2", models.NodeTypeManualTrigger),
			node("a", models.NodeTypeAction),
			node("b", models.NodeTypeAction),
			node("orphan", models.NodeTypeAction),
		},
		Connections: []*models.Connection{
			conn("c1", "t1", "a"),
			conn("c2", "a", "ghost"),
			conn("c3", "a", "b"),
			conn("c4", "a", "b"),
			conn("c5", "b", "a"),
		},
	}

	res := Validate(wf)
	require.False(t, res.Valid())

	assert.Equal(t, []ViolationCode{
		CodeUnknownNode,
		CodeDuplicateConnection,
		CodeDuplicateTrigger,
		CodeCycle,
		CodeUnreachableNode,
	}, codes(res))

	verr, ok := AsValidationError(res.Err())
	require.True(t, ok)
	assert.Len(t, verr.Violations, 5)
	assert.True(t, IsValidationError(res.Err()))

	assert.Equal(t, []string{"a", "b"}, res.Violations[3].NodeIDs)
	assert.Equal(t, []string{"orphan"}, res.Violations[4].NodeIDs)
}

func TestValidate_SelfLoop(t *testing.T) {
	wf := &models.Workflow{
		ID:          "wf",
		Nodes:       []*models.Node{node("t", models.NodeTypeTrigger), node("a", models.NodeTypeAction)},
		Connections: []*models.Connection{conn("c1", "t", "a"), conn("c2", "a", "a")},
	}

	assert.Equal(t, []ViolationCode{CodeSelfLoop}, codes(Validate(wf)))
}

func TestValidate_NodeIDCannotContainIterationSeparator(t *testing.T) {
	wf := &models.Workflow{
		ID:          "wf",
		Nodes:       []*models.Node{node("t", models.NodeTypeTrigger), node("a#0", models.NodeTypeAction)},
		Connections: []*models.Connection{conn("c1", "t", "a#0")},
	}

	res := Validate(wf)
	assert.Equal(t, []ViolationCode{CodeInvalidNodeID}, codes(res))
	assert.Equal(t, []string{"a#0"}, res.Violations[0].NodeIDs)
}

func TestValidate_PlaceholderConnection(t *testing.T) {
	wf := &models.Workflow{
		ID:          "wf",
		Nodes:       []*models.Node{node("init", models.NodeTypeInitial), node("t", models.NodeTypeTrigger)},
		Connections: []*models.Connection{conn("c1", "init", "t")},
	}

	assert.Equal(t, []ViolationCode{CodePlaceholderConnection}, codes(Validate(wf)))
}

func TestValidate_MultipleScheduleTriggersAllowed(t *testing.T) {
	wf := &models.Workflow{
		ID: "wf",
		Nodes: []*models.Node{
			node("t1", models.NodeTypeTrigger),
			node("t2", models.NodeTypeTrigger),
			node("w1", models.NodeTypeWebhook),
			node("w2", models.NodeTypeWebhook),
		},
	}

	res := Validate(wf)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, CodeDuplicateTrigger, res.Violations[0].Code)
	assert.Equal(t, []string{"w1", "w2"}, res.Violations[0].NodeIDs)
}

func TestValidate_TriggerInbound(t *testing.T) {
	wf := &models.Workflow{
		ID:          "wf",
		Nodes:       []*models.Node{node("t1", models.NodeTypeTrigger), node("t2", models.NodeTypeWebhook)},
		Connections: []*models.Connection{conn("c1", "t1", "t2")},
	}

	assert.Equal(t, []ViolationCode{CodeTriggerInbound}, codes(Validate(wf)))
}

func TestValidate_LoopBackEdgeIsNotACycle(t *testing.T) {
	wf := &models.Workflow{
		ID: "wf",
		Nodes: []*models.Node{
			node("t", models.NodeTypeManualTrigger),
			node("loop", models.NodeTypeLoop),
			node("body", models.NodeTypeAction),
		},
		Connections: []*models.Connection{
			conn("c1", "t", "loop"),
			{ID: "c2", SourceNodeID: "loop", SourcePort: models.LoopPortBody, TargetNodeID: "body"},
			{ID: "c3", SourceNodeID: "body", TargetNodeID: "loop", TargetPort: models.LoopPortBack},
		},
	}

	assert.True(t, Validate(wf).Valid())

	wf.Connections[2].TargetPort = models.DefaultPort
	assert.Equal(t, []ViolationCode{CodeCycle}, codes(Validate(wf)))
}

func TestValidate_DoesNotMutate(t *testing.T) {
	wf := &models.Workflow{
		ID:          "wf",
		Nodes:       []*models.Node{node("t", models.NodeTypeTrigger), node("a", models.NodeTypeAction)},
		Connections: []*models.Connection{conn("c1", "t", "a")},
	}

	Validate(wf)

	assert.Empty(t, wf.Connections[0].SourcePort)
	assert.Empty(t, wf.Connections[0].TargetPort)
}
