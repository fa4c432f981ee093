// Package registry maps node types to their executors.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrNotRegistered indicates no executor handles a node type.
var ErrNotRegistered = errors.New("node type not registered")

// Registry is an injectable set of executors keyed by node type.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	executors map[models.NodeType]protocol.Executor
	schemas   map[models.NodeType]*gojsonschema.Schema
}

func New(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log,
		executors: make(map[models.NodeType]protocol.Executor),
		schemas:   make(map[models.NodeType]*gojsonschema.Schema),
	}
}

// Register adds an executor, replacing any previous one for the same type.
func (r *Registry) Register(executor protocol.Executor) error {
	var compiled *gojsonschema.Schema

	if schema := executor.Schema(); schema != nil {
		s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return fmt.Errorf("invalid schema for node type %s: %w", executor.Type(), err)
		}

		compiled = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[executor.Type()] = executor
	r.schemas[executor.Type()] = compiled

	r.logger.Debug("Registered node executor", "type", executor.Type(), "name", executor.Name())

	return nil
}

// MustRegister registers an executor and panics on an invalid schema.
func (r *Registry) MustRegister(executor protocol.Executor) {
	if err := r.Register(executor); err != nil {
		panic(err)
	}
}

// Resolve returns the executor for a node type.
func (r *Registry) Resolve(nodeType models.NodeType) (protocol.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, nodeType)
	}

	return executor, nil
}

// Types returns the registered node types in sorted order.
func (r *Registry) Types() []models.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.NodeType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// Executors returns every registered executor ordered by type.
func (r *Registry) Executors() []protocol.Executor {
	types := r.Types()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Executor, 0, len(types))
	for _, t := range types {
		out = append(out, r.executors[t])
	}

	return out
}

// ValidateConfig checks a node's configuration against the JSON schema and the
// executor's own rules, collecting every problem.
func (r *Registry) ValidateConfig(node *models.Node) error {
	executor, err := r.Resolve(node.Type)
	if err != nil {
		return err
	}

	r.mu.RLock()
	schema := r.schemas[node.Type]
	r.mu.RUnlock()

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	var problems []string

	if schema != nil {
		result, err := schema.Validate(gojsonschema.NewGoLoader(config))
		if err != nil {
			return fmt.Errorf("validating config of node %s: %w", node.ID, err)
		}

		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
	}

	if len(problems) == 0 {
		if err := executor.ValidateConfig(config); err != nil {
			var cfgErr *protocol.ConfigError
			if errors.As(err, &cfgErr) {
				problems = append(problems, cfgErr.Problems...)
			} else {
				problems = append(problems, err.Error())
			}
		}
	}

	if len(problems) > 0 {
		return &protocol.ConfigError{
			NodeType: string(node.Type),
			Problems: problems,
		}
	}

	return nil
}

// Describe returns catalog metadata for every registered node type.
func (r *Registry) Describe() []Descriptor {
	executors := r.Executors()

	out := make([]Descriptor, 0, len(executors))
	for _, e := range executors {
		out = append(out, Descriptor{
			Type:        e.Type(),
			Name:        e.Name(),
			Description: strings.TrimSpace(e.Description()),
			Schema:      e.Schema(),
			Ports:       e.Ports(),
		})
	}

	return out
}

// Descriptor is the public description of a node type.
type Descriptor struct {
	Type        models.NodeType   `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schema      map[string]any    `json:"schema"`
	Ports       protocol.PortSpec `json:"ports"`
}
