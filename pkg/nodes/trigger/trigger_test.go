package trigger

import (
	"context"
	"testing"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_EmitsPayload(t *testing.T) {
	execCtx := &models.ExecutionContext{TriggerPayload: map[string]any{"by": "alice"}}

	out, err := NewManual().Execute(context.Background(), execCtx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"by": "alice"}, out[OutputPortMain])

	out[OutputPortMain]["by"] = "mallory"
	assert.Equal(t, "alice", execCtx.TriggerPayload["by"])
}

func TestManual_EmptyPayload(t *testing.T) {
	out, err := NewManual().Execute(context.Background(), &models.ExecutionContext{}, nil)
	require.NoError(t, err)
	assert.True(t, out.Emitted(OutputPortMain))
	assert.Empty(t, out[OutputPortMain])
}

func TestScheduled_ValidateConfig(t *testing.T) {
	s := NewScheduled()

	assert.NoError(t, s.ValidateConfig(map[string]any{}))
	assert.NoError(t, s.ValidateConfig(map[string]any{"schedule": "*/5 * * * *"}))
	assert.NoError(t, s.ValidateConfig(map[string]any{"queue": "orders"}))

	err := s.ValidateConfig(map[string]any{"schedule": "every minute"})
	require.Error(t, err)
	assert.True(t, protocol.IsConfigError(err))
}

func TestWebhook_SchemaGuardsPayload(t *testing.T) {
	config := map[string]any{
		"schema": map[string]any{
			"type":     "object",
			"required": []any{"order_id"},
			"properties": map[string]any{
				"order_id": map[string]any{"type": "string"},
			},
		},
	}

	w := NewWebhook()
	require.NoError(t, w.ValidateConfig(config))

	out, err := w.Execute(context.Background(), &models.ExecutionContext{
		TriggerPayload: map[string]any{"order_id": "o-1"},
	}, config)
	require.NoError(t, err)
	assert.Equal(t, "o-1", out[OutputPortMain]["order_id"])

	_, err = w.Execute(context.Background(), &models.ExecutionContext{
		TriggerPayload: map[string]any{"order_id": 7},
	}, config)
	require.Error(t, err)
	assert.True(t, protocol.IsFatal(err))
	assert.Contains(t, err.Error(), "order_id")
}

func TestWebhook_InvalidSchema(t *testing.T) {
	err := NewWebhook().ValidateConfig(map[string]any{"schema": map[string]any{"type": 12}})
	assert.True(t, protocol.IsConfigError(err))
}
