// Package loop provides the LOOP node. The planner unrolls the loop body into
// one node-instance per iteration; at run time the LOOP node only forwards its
// input to the body and done ports.
package loop

import (
	"context"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
)

const (
	InputPortMain  = models.DefaultPort
	InputPortBack  = models.LoopPortBack
	OutputPortBody = models.LoopPortBody
	OutputPortDone = models.LoopPortDone
)

type Config struct {
	MaxIterations int `json:"maxIterations"`
}

// ParseConfig decodes a LOOP config and requires a positive iteration count.
func ParseConfig(config map[string]any) (*Config, error) {
	if _, ok := config["maxIterations"]; !ok {
		return nil, protocol.NewConfigError(string(models.NodeTypeLoop), "maxIterations is required")
	}

	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, protocol.NewConfigError(string(models.NodeTypeLoop), "maxIterations must be an integer")
	}

	if cfg.MaxIterations <= 0 {
		return nil, protocol.NewConfigError(string(models.NodeTypeLoop), "maxIterations must be greater than zero")
	}

	return &cfg, nil
}

type Executor struct{}

func New() *Executor { return &Executor{} }

func (e *Executor) Type() models.NodeType { return models.NodeTypeLoop }

func (e *Executor) Name() string { return "Loop" }

func (e *Executor) Description() string {
	return "Runs the connected body a fixed number of times, then continues on done"
}

func (e *Executor) Ports() protocol.PortSpec {
	return protocol.PortSpec{
		Inputs:  []string{InputPortMain, InputPortBack},
		Outputs: []string{OutputPortBody, OutputPortDone},
	}
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"maxIterations": map[string]any{
				"type":    "integer",
				"minimum": 1,
			},
		},
		"required": []any{"maxIterations"},
	}
}

func (e *Executor) ValidateConfig(config map[string]any) error {
	_, err := ParseConfig(config)

	return err
}

func (e *Executor) Execute(_ context.Context, execCtx *models.ExecutionContext, config map[string]any) (models.Outputs, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, protocol.Fatal(err)
	}

	data := models.CloneMap(execCtx.Main())
	if data == nil {
		data = map[string]any{}
	}

	data["max_iterations"] = cfg.MaxIterations

	return models.Outputs{
		OutputPortBody: data,
		OutputPortDone: models.CloneMap(data),
	}, nil
}
