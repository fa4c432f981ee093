package conditional

import (
	"context"
	"testing"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mainInput(data map[string]any) *models.ExecutionContext {
	return &models.ExecutionContext{
		RunID:      "run-1",
		InstanceID: "n",
		Iteration:  models.NoIteration,
		Inputs:     []models.Input{{Port: "main", SourceInstanceID: "up", Data: data}},
	}
}

func TestConditional_RoutesToOnePort(t *testing.T) {
	exec := New()

	out, err := exec.Execute(context.Background(), mainInput(map[string]any{"status": 200}),
		map[string]any{"expression": "{{ eq .input.status 200 }}"})
	require.NoError(t, err)
	assert.True(t, out.Emitted(OutputPortTrue))
	assert.False(t, out.Emitted(OutputPortFalse))
	assert.Equal(t, true, out[OutputPortTrue]["condition_result"])

	out, err = exec.Execute(context.Background(), mainInput(map[string]any{"status": 500}),
		map[string]any{"expression": "{{ eq .input.status 200 }}"})
	require.NoError(t, err)
	assert.True(t, out.Emitted(OutputPortFalse))
	assert.False(t, out.Emitted(OutputPortTrue))
}

func TestConditional_EvaluationFailureIsFatal(t *testing.T) {
	_, err := New().Execute(context.Background(), mainInput(nil),
		map[string]any{"expression": "{{ .input.status"})
	require.Error(t, err)
	assert.True(t, protocol.IsFatal(err))

	_, err = New().Execute(context.Background(), mainInput(map[string]any{"s": "maybe"}),
		map[string]any{"expression": "{{ .input.s }}"})
	require.Error(t, err)
	assert.True(t, protocol.IsFatal(err))

	assert.True(t, protocol.IsConfigError(New().ValidateConfig(map[string]any{"expression": " "})))
}
