// Package conditional provides the CONDITION node, routing data to its true or
// false output port.
package conditional

import (
	"context"
	"strings"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/Bojackxiang/n8n-demo/pkg/template"
)

const (
	InputPortMain   = "main"
	OutputPortTrue  = models.PortTrue
	OutputPortFalse = models.PortFalse
)

type Config struct {
	Expression string `json:"expression"`
}

type Executor struct{}

func New() *Executor { return &Executor{} }

func (e *Executor) Type() models.NodeType { return models.NodeTypeCondition }

func (e *Executor) Name() string { return "Condition" }

func (e *Executor) Description() string {
	return "Evaluates an expression and continues on the true or false branch"
}

func (e *Executor) Ports() protocol.PortSpec {
	return protocol.PortSpec{
		Inputs:  []string{InputPortMain},
		Outputs: []string{OutputPortTrue, OutputPortFalse},
	}
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Template evaluated to a boolean, e.g. {{ eq .input.status_code 200 }}",
			},
		},
		"required": []any{"expression"},
	}
}

func (e *Executor) ValidateConfig(config map[string]any) error {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return protocol.NewConfigError(string(e.Type()), err.Error())
	}

	if strings.TrimSpace(cfg.Expression) == "" {
		return protocol.NewConfigError(string(e.Type()), "expression is required")
	}

	return nil
}

// Execute emits the input on exactly one of the true/false ports.
func (e *Executor) Execute(_ context.Context, execCtx *models.ExecutionContext, config map[string]any) (models.Outputs, error) {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, protocol.Fatal(err)
	}

	result, err := template.RenderWithContext(cfg.Expression, execCtx)
	if err != nil {
		return nil, protocol.Fatalf("condition evaluation failed: %w", err)
	}

	isTrue, err := template.Truthy(result)
	if err != nil {
		return nil, protocol.Fatalf("condition evaluation failed: %w", err)
	}

	data := models.CloneMap(execCtx.Main())
	if data == nil {
		data = map[string]any{}
	}

	data["condition_result"] = isTrue

	port := OutputPortFalse
	if isTrue {
		port = OutputPortTrue
	}

	return models.Outputs{port: data}, nil
}
