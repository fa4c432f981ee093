// Package merge provides the MERGE node, which joins several branches.
package merge

import (
	"context"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
)

const OutputPortMerged = models.MergePortOutput

type Executor struct{}

func New() *Executor { return &Executor{} }

func (e *Executor) Type() models.NodeType { return models.NodeTypeMerge }

func (e *Executor) Name() string { return "Merge" }

func (e *Executor) Description() string {
	return "Waits for every inbound branch to settle and combines the data of the branches that ran"
}

// Ports accepts any input port name so branches can be told apart.
func (e *Executor) Ports() protocol.PortSpec {
	return protocol.PortSpec{
		DynamicInputs: true,
		Outputs:       []string{OutputPortMerged},
	}
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

func (e *Executor) ValidateConfig(map[string]any) error { return nil }

// Execute groups live inputs by port. Skipped branches never reach it.
func (e *Executor) Execute(_ context.Context, execCtx *models.ExecutionContext, _ map[string]any) (models.Outputs, error) {
	byPort := make(map[string]any)
	flat := make(map[string]any)
	sources := make([]any, 0, len(execCtx.Inputs))

	for _, in := range execCtx.Inputs {
		list, _ := byPort[in.Port].([]any)
		byPort[in.Port] = append(list, models.CloneMap(in.Data))

		for k, v := range in.Data {
			flat[k] = v
		}

		sources = append(sources, in.SourceInstanceID)
	}

	flat["inputs"] = byPort
	flat["sources"] = sources
	flat["input_count"] = len(execCtx.Inputs)

	return models.Outputs{OutputPortMerged: flat}, nil
}
