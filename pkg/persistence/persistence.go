// Package persistence provides the storage abstraction for workflow
// definitions and the append-only run store.
package persistence

import (
	"context"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
)

type Persistence interface {
	Workflows() WorkflowRepository
	Runs() RunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions. Lookups of a missing id
// return an error matching ErrWorkflowNotFound.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByOwner(ctx context.Context, owner string) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// RunRepository is the durable, append-only log of run and node-instance
// transitions plus the read queries built on it.
type RunRepository interface {
	// CreateRun stores the run with its graph snapshot and plan, followed by
	// the initial events. It fails with ErrRunAlreadyExists for a known id.
	CreateRun(ctx context.Context, run *models.Run, plan *models.ExecutionPlan, events []*models.RunEvent) error

	// AppendEvents appends events atomically and assigns their Seq.
	AppendEvents(ctx context.Context, runID string, events ...*models.RunEvent) error

	Events(ctx context.Context, runID string) ([]*models.RunEvent, error)
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	Plan(ctx context.Context, runID string) (*models.ExecutionPlan, error)
	ListNodeInstances(ctx context.Context, runID string) ([]*models.NodeExecutionRecord, error)
	RunsByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.Run, error)
	RunsByWorkflow(ctx context.Context, workflowID string) ([]*models.Run, error)
}
