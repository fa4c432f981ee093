package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Bojackxiang/n8n-demo/pkg/engine"
	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/Bojackxiang/n8n-demo/pkg/triggers"
)

// Engine is the part of the execution engine the services drive.
type Engine interface {
	Checker
	Launch(ctx context.Context, wf *models.Workflow, req engine.LaunchRequest) (*models.Run, error)
	Cancel(ctx context.Context, runID string) error
}

type Execution struct {
	workflows persistence.WorkflowRepository
	runs      persistence.RunRepository
	engine    Engine
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

type ExecutionOption func(*Execution)

// WithRequestPublisher routes webhook launches through run.requested events
// instead of calling the engine directly.
func WithRequestPublisher(pub eventbus.EventPublisher) ExecutionOption {
	return func(e *Execution) {
		e.publisher = pub
	}
}

func NewExecution(p persistence.Persistence, engine Engine, logger *slog.Logger, opts ...ExecutionOption) *Execution {
	e := &Execution{
		workflows: p.Workflows(),
		runs:      p.Runs(),
		engine:    engine,
		logger:    logger.With("module", "execution_service"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Launch starts a run of the stored workflow. req.Owner restricts the lookup
// to that owner's workflows; an empty owner is an internal caller.
func (e *Execution) Launch(ctx context.Context, workflowID string, req engine.LaunchRequest) (*models.Run, error) {
	workflow, err := fetchOwned(ctx, e.workflows, "Launch", req.Owner, workflowID)
	if err != nil {
		return nil, err
	}

	run, err := e.engine.Launch(ctx, workflow, req)
	if err != nil {
		e.logger.InfoContext(ctx, "Launch rejected",
			"workflow_id", workflowID,
			"trigger_node_id", req.TriggerNodeID,
			"error", err)

		return nil, err
	}

	return run, nil
}

// HookReceipt identifies what a webhook call produced: a run when launched
// directly, a request when handed to the dispatcher.
type HookReceipt struct {
	RunID     string `json:"run_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Webhook fires the WEBHOOK node nodeID of a workflow with payload. Unknown
// workflows and nodes of another type are reported as not found.
func (e *Execution) Webhook(ctx context.Context, workflowID, nodeID string, payload map[string]any) (*HookReceipt, error) {
	workflow, err := fetchOwned(ctx, e.workflows, "Webhook", "", workflowID)
	if err != nil {
		return nil, err
	}

	node := workflow.NodeByID(nodeID)
	if node == nil || node.Type != models.NodeTypeWebhook {
		return nil, notFound("Webhook", ErrWebhookNotFound, workflowID+"/"+nodeID)
	}

	if e.publisher != nil {
		target := triggers.Target{WorkflowID: workflow.ID, NodeID: nodeID, Owner: workflow.Owner}
		req := triggers.Request(target, triggers.SourceWebhook, payload)

		if err := e.publisher.Publish(ctx, workflow.ID, req); err != nil {
			return nil, fmt.Errorf("failed to publish webhook request: %w", err)
		}

		return &HookReceipt{RequestID: req.ID}, nil
	}

	run, err := e.Launch(ctx, workflowID, engine.LaunchRequest{TriggerNodeID: nodeID, Payload: payload})
	if err != nil {
		return nil, err
	}

	return &HookReceipt{RunID: run.ID}, nil
}

// RunDetails is the user-visible state of a run.
type RunDetails struct {
	Run      *models.Run                   `json:"run"`
	Nodes    []*models.NodeExecutionRecord `json:"nodes"`
	Failures []models.FailedNode           `json:"failures,omitempty"`
}

// GetRun returns the run header, every node-instance and, for failed
// instances, their last error.
func (e *Execution) GetRun(ctx context.Context, owner, runID string) (*RunDetails, error) {
	run, err := e.ownedRun(ctx, "GetRun", owner, runID)
	if err != nil {
		return nil, err
	}

	nodes, err := e.runs.ListNodeInstances(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node instances of run %s: %w", runID, err)
	}

	return &RunDetails{
		Run:      run.Header(),
		Nodes:    nodes,
		Failures: failures(nodes),
	}, nil
}

func failures(nodes []*models.NodeExecutionRecord) []models.FailedNode {
	var failed []models.FailedNode

	for _, rec := range nodes {
		if rec.Status != models.NodeStatusFailed {
			continue
		}

		failed = append(failed, models.FailedNode{
			InstanceID: rec.InstanceID,
			NodeID:     rec.NodeID,
			Attempts:   rec.Attempts,
			Error:      rec.Error,
		})
	}

	return failed
}

// ListRuns returns the runs of a workflow, newest first, without snapshots.
func (e *Execution) ListRuns(ctx context.Context, owner, workflowID string) ([]*models.Run, error) {
	if _, err := fetchOwned(ctx, e.workflows, "ListRuns", owner, workflowID); err != nil {
		return nil, err
	}

	runs, err := e.runs.RunsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs of workflow %s: %w", workflowID, err)
	}

	headers := make([]*models.Run, len(runs))
	for i, run := range runs {
		headers[i] = run.Header()
	}

	sort.SliceStable(headers, func(i, j int) bool {
		return headers[i].CreatedAt.After(headers[j].CreatedAt)
	})

	return headers, nil
}

// Cancel requests cooperative cancellation of a run.
func (e *Execution) Cancel(ctx context.Context, owner, runID string) error {
	if _, err := e.ownedRun(ctx, "Cancel", owner, runID); err != nil {
		return err
	}

	err := e.engine.Cancel(ctx, runID)

	switch {
	case err == nil:
		e.logger.InfoContext(ctx, "Run cancellation requested", "run_id", runID)

		return nil
	case errors.Is(err, engine.ErrRunFinished):
		return &ServiceError{Op: "Cancel", Code: "RUN_FINISHED", Message: err.Error(), Err: ErrRunFinished}
	case errors.Is(err, engine.ErrRunNotOwned):
		return &ServiceError{Op: "Cancel", Code: "RUN_NOT_LOCAL", Message: err.Error(), Err: ErrRunNotLocal}
	default:
		return fmt.Errorf("failed to cancel run %s: %w", runID, err)
	}
}

func (e *Execution) ownedRun(ctx context.Context, op, owner, runID string) (*models.Run, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return nil, notFound(op, ErrRunNotFound, runID)
		}

		return nil, err
	}

	if owner != "" && run.Owner != owner {
		return nil, notFound(op, ErrRunNotFound, runID)
	}

	return run, nil
}
