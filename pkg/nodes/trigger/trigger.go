// Package trigger provides the executors of run entry points: TRIGGER,
// MANUAL_TRIGGER and WEBHOOK.
package trigger

import (
	"context"
	"fmt"
	"strings"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"
)

const OutputPortMain = "main"

var ports = protocol.PortSpec{Outputs: []string{OutputPortMain}}

// emit passes the trigger payload through on the main port.
func emit(execCtx *models.ExecutionContext) models.Outputs {
	payload := models.CloneMap(execCtx.TriggerPayload)
	if payload == nil {
		payload = map[string]any{}
	}

	return models.Outputs{OutputPortMain: payload}
}

// Manual starts a run on explicit user request.
type Manual struct{}

func NewManual() *Manual { return &Manual{} }

func (*Manual) Type() models.NodeType { return models.NodeTypeManualTrigger }
func (*Manual) Name() string          { return "Manual Trigger" }
func (*Manual) Description() string   { return "Starts the workflow when a user runs it" }
func (*Manual) Ports() protocol.PortSpec {
	return ports
}

func (*Manual) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

func (*Manual) ValidateConfig(map[string]any) error { return nil }

func (*Manual) Execute(_ context.Context, execCtx *models.ExecutionContext, _ map[string]any) (models.Outputs, error) {
	return emit(execCtx), nil
}

// ScheduleConfig configures a generic TRIGGER node.
type ScheduleConfig struct {
	Schedule string `json:"schedule,omitempty"`
	Queue    string `json:"queue,omitempty"`
}

// Scheduled is the generic TRIGGER: fired by a cron schedule, a queue
// message, or an explicit launch.
type Scheduled struct{}

func NewScheduled() *Scheduled { return &Scheduled{} }

func (*Scheduled) Type() models.NodeType { return models.NodeTypeTrigger }
func (*Scheduled) Name() string          { return "Trigger" }
func (*Scheduled) Description() string {
	return "Starts the workflow on a cron schedule, a queue message or an explicit launch"
}
func (*Scheduled) Ports() protocol.PortSpec {
	return ports
}

func (*Scheduled) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"schedule": map[string]any{
				"type":        "string",
				"description": "Standard five-field cron expression",
			},
			"queue": map[string]any{
				"type":        "string",
				"description": "Redis list consumed by the queue trigger",
			},
		},
	}
}

// ParseScheduleConfig decodes and checks a TRIGGER config.
func ParseScheduleConfig(config map[string]any) (*ScheduleConfig, error) {
	var cfg ScheduleConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, protocol.NewConfigError(string(models.NodeTypeTrigger), err.Error())
	}

	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, protocol.NewConfigError(string(models.NodeTypeTrigger), fmt.Sprintf("invalid schedule %q: %v", cfg.Schedule, err))
		}
	}

	return &cfg, nil
}

func (*Scheduled) ValidateConfig(config map[string]any) error {
	_, err := ParseScheduleConfig(config)

	return err
}

func (*Scheduled) Execute(_ context.Context, execCtx *models.ExecutionContext, _ map[string]any) (models.Outputs, error) {
	return emit(execCtx), nil
}

// Webhook starts a run from an inbound HTTP request; an optional JSON schema
// guards the payload.
type Webhook struct{}

func NewWebhook() *Webhook { return &Webhook{} }

func (*Webhook) Type() models.NodeType { return models.NodeTypeWebhook }
func (*Webhook) Name() string          { return "Webhook" }
func (*Webhook) Description() string   { return "Starts the workflow when its webhook URL receives a request" }
func (*Webhook) Ports() protocol.PortSpec {
	return ports
}

func (*Webhook) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"schema": map[string]any{
				"type":        "object",
				"description": "JSON schema the request body must satisfy",
			},
		},
	}
}

func (*Webhook) ValidateConfig(config map[string]any) error {
	schema, ok := config["schema"].(map[string]any)
	if !ok {
		return nil
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
		return protocol.NewConfigError(string(models.NodeTypeWebhook), "invalid payload schema: "+err.Error())
	}

	return nil
}

func (*Webhook) Execute(_ context.Context, execCtx *models.ExecutionContext, config map[string]any) (models.Outputs, error) {
	if schema, ok := config["schema"].(map[string]any); ok {
		if err := ValidatePayload(schema, execCtx.TriggerPayload); err != nil {
			return nil, protocol.Fatal(err)
		}
	}

	return emit(execCtx), nil
}

// ValidatePayload checks a payload against a JSON schema.
func ValidatePayload(schema map[string]any, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("payload validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
