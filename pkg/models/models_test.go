package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_SnapshotIsDetached(t *testing.T) {
	retries := 2
	wf := &Workflow{
		ID:   "wf-1",
		Name: "orders",
		Nodes: []*Node{
			{ID: "trigger", Type: NodeTypeManualTrigger},
			{ID: "call", Type: NodeTypeHTTPRequest, MaxRetries: &retries, Config: map[string]any{
				"endpoint": "https://example.test",
				"headers":  map[string]any{"X-A": "1"},
			}},
		},
		Connections: []*Connection{{ID: "c1", SourceNodeID: "trigger", TargetNodeID: "call"}},
	}

	snap := wf.Snapshot()

	wf.Nodes[1].Config["endpoint"] = "https://changed.test"
	wf.Nodes[1].Config["headers"].(map[string]any)["X-A"] = "2"
	*wf.Nodes[1].MaxRetries = 9
	wf.Connections[0].TargetNodeID = "other"

	call := snap.NodeByID("call")
	require.NotNil(t, call)
	assert.Equal(t, "https://example.test", call.Config["endpoint"])
	assert.Equal(t, "1", call.Config["headers"].(map[string]any)["X-A"])
	assert.Equal(t, 2, call.RetryCeiling(3))
	assert.Equal(t, "call", snap.Connections[0].TargetNodeID)
	assert.Equal(t, DefaultPort, snap.Connections[0].SourcePort)
	assert.Equal(t, DefaultPort, snap.Connections[0].TargetPort)
}

func TestNodeType_Kinds(t *testing.T) {
	assert.True(t, NodeTypeTrigger.IsTrigger())
	assert.True(t, NodeTypeWebhook.IsTrigger())
	assert.True(t, NodeTypeManualTrigger.IsSingletonTrigger())
	assert.False(t, NodeTypeTrigger.IsSingletonTrigger())
	assert.False(t, NodeTypeInitial.IsTrigger())
	assert.False(t, NodeType("SWITCH").Valid())
}

func TestNode_Defaults(t *testing.T) {
	n := &Node{ID: "a", Type: NodeTypeAction}

	assert.Equal(t, 3, n.RetryCeiling(3))
	assert.Equal(t, 30*time.Second, n.Timeout(30*time.Second))

	n.TimeoutSeconds = 5
	assert.Equal(t, 5*time.Second, n.Timeout(30*time.Second))
}

func TestExecutionContext_PortMergesSources(t *testing.T) {
	ctx := &ExecutionContext{
		Inputs: []Input{
			{Port: "main", SourceInstanceID: "a", Data: map[string]any{"a": 1, "shared": "a"}},
			{Port: "main", SourceInstanceID: "b", Data: map[string]any{"b": 2, "shared": "b"}},
			{Port: "loop", SourceInstanceID: "c", Data: map[string]any{"c": 3}},
		},
	}

	main := ctx.Main()
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "shared": "b"}, main)
	assert.Equal(t, map[string]any{"c": 3}, ctx.Port("loop"))
	assert.Nil(t, ctx.Port("missing"))

	data := ctx.TemplateData()
	assert.Equal(t, main, data["input"])
}

func TestOutputs_Emitted(t *testing.T) {
	out := Outputs{"true": {"ok": true}}

	assert.True(t, out.Emitted("true"))
	assert.False(t, out.Emitted("false"))

	cp := out.Clone()
	cp["true"]["ok"] = false
	assert.Equal(t, true, out["true"]["ok"])
}
