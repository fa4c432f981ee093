// Package action provides the ACTION node: render values into the data flowing
// through the workflow and optionally log a message.
package action

import (
	"context"
	"log/slog"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/Bojackxiang/n8n-demo/pkg/template"
)

const (
	InputPortMain  = "main"
	OutputPortMain = "main"
)

// Config defines the configuration of an ACTION node.
type Config struct {
	Set     map[string]any `json:"set,omitempty"`
	Message string         `json:"message,omitempty"`
	Level   string         `json:"level,omitempty"`
}

type Executor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Executor {
	return &Executor{logger: logger}
}

func (e *Executor) Type() models.NodeType { return models.NodeTypeAction }

func (e *Executor) Name() string { return "Action" }

func (e *Executor) Description() string {
	return "Sets values on the data passing through and logs an optional message"
}

func (e *Executor) Ports() protocol.PortSpec {
	return protocol.PortSpec{
		Inputs:  []string{InputPortMain},
		Outputs: []string{OutputPortMain},
	}
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"set": map[string]any{
				"type":        "object",
				"description": "Values merged into the output, string values may contain templates",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message template written to the log",
			},
			"level": map[string]any{
				"type": "string",
				"enum": []any{"debug", "info", "warn", "error"},
			},
		},
	}
}

func (e *Executor) ValidateConfig(config map[string]any) error {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return protocol.NewConfigError(string(e.Type()), err.Error())
	}

	return nil
}

func (e *Executor) Execute(ctx context.Context, execCtx *models.ExecutionContext, config map[string]any) (models.Outputs, error) {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, protocol.Fatal(err)
	}

	data := execCtx.TemplateData()

	out := models.CloneMap(execCtx.Main())
	if out == nil {
		out = map[string]any{}
	}

	// Render the raw config so literal values keep their decoded type.
	if set, ok := config["set"].(map[string]any); ok && len(set) > 0 {
		rendered, err := template.RenderValue(set, data)
		if err != nil {
			return nil, protocol.Fatalf("failed to render values: %w", err)
		}

		for k, v := range rendered.(map[string]any) {
			out[k] = v
		}
	}

	if cfg.Message != "" {
		msg, err := template.RenderString(cfg.Message, data)
		if err != nil {
			return nil, protocol.Fatalf("failed to render message: %w", err)
		}

		e.logger.Log(ctx, level(cfg.Level), msg,
			"run_id", execCtx.RunID,
			"instance_id", execCtx.InstanceID,
		)

		out["message"] = msg
	}

	return models.Outputs{OutputPortMain: out}, nil
}

func level(name string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}

	return l
}
