package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRequested_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   RunRequested
		wantErr bool
	}{
		{
			name:  "valid",
			event: RunRequested{BaseEvent: NewBaseEvent(RunRequestedEvent, "wf-1"), Source: "schedule"},
		},
		{
			name:    "missing workflow",
			event:   RunRequested{BaseEvent: NewBaseEvent(RunRequestedEvent, ""), Source: "schedule"},
			wantErr: true,
		},
		{
			name:    "missing source",
			event:   RunRequested{BaseEvent: NewBaseEvent(RunRequestedEvent, "wf-1")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEvent)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunRequested_JSONSerialization(t *testing.T) {
	original := &RunRequested{
		BaseEvent:     NewBaseEvent(RunRequestedEvent, "wf-123"),
		TriggerNodeID: "hook",
		Payload:       map[string]any{"order": "A-1"},
		Owner:         "owner-1",
		Source:        "webhook",
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"run.requested"`)
	assert.Contains(t, string(data), `"trigger_node_id":"hook"`)

	var decoded RunRequested
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.WorkflowID, decoded.WorkflowID)
	assert.Equal(t, original.Payload, decoded.Payload)
	assert.Equal(t, RunRequestedEvent, decoded.GetType())
}

func TestNewRunFinished(t *testing.T) {
	started := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(3 * time.Second)

	tests := []struct {
		status models.RunStatus
		want   EventType
	}{
		{models.RunStatusSucceeded, RunSucceededEvent},
		{models.RunStatusFailed, RunFailedEvent},
		{models.RunStatusCancelled, RunCancelledEvent},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			run := &models.Run{ID: "run-1", WorkflowID: "wf-1", Status: tt.status, StartedAt: &started, EndedAt: &ended}

			ev := NewRunFinished(run, []models.FailedNode{{InstanceID: "call", NodeID: "call", Attempts: 3, Error: "boom"}})

			assert.Equal(t, tt.want, ev.GetType())
			assert.Equal(t, "wf-1", ev.WorkflowID)
			assert.Equal(t, 3*time.Second, ev.Duration)
			assert.Len(t, ev.FailedNodes, 1)
		})
	}
}

func TestNewNodeFinished(t *testing.T) {
	rec := &models.NodeExecutionRecord{
		RunID:      "run-1",
		InstanceID: "step#2",
		NodeID:     "step",
		Iteration:  2,
		Status:     models.NodeStatusSkipped,
		SkipReason: models.SkipReasonUpstreamFailed,
	}

	ev := NewNodeFinished("wf-1", rec)

	assert.Equal(t, NodeFinishedEvent, ev.GetType())
	assert.Equal(t, "step#2", ev.InstanceID)
	assert.Equal(t, 2, ev.Iteration)
	assert.Equal(t, models.SkipReasonUpstreamFailed, ev.SkipReason)
}
