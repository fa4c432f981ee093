package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/graph"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/Bojackxiang/n8n-demo/pkg/planner"
	"github.com/google/uuid"
)

// PlaceholderNodeID is the id of the INITIAL node every new workflow starts with.
const PlaceholderNodeID = "initial"

// Checker reports why a workflow could not be launched.
type Checker interface {
	Check(wf *models.Workflow) error
}

type Workflow struct {
	persistence persistence.Persistence
	checker     Checker
	now         func() time.Time
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, checker Checker) *Workflow {
	return &Workflow{
		persistence: persistence,
		checker:     checker,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns the workflows of owner, most recently updated first.
func (w *Workflow) List(ctx context.Context, owner string) ([]*models.Workflow, error) {
	owner, err := checkOwner("List", owner)
	if err != nil {
		return nil, err
	}

	workflows, err := w.persistence.Workflows().GetByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].UpdatedAt.After(workflows[j].UpdatedAt)
	})

	return workflows, nil
}

// FetchByID retrieves a workflow of owner by its ID.
func (w *Workflow) FetchByID(ctx context.Context, owner, id string) (*models.Workflow, error) {
	return w.owned(ctx, "FetchByID", owner, id)
}

// Create stores a new workflow holding only the INITIAL placeholder node.
func (w *Workflow) Create(ctx context.Context, owner, name string) (*models.Workflow, error) {
	owner, err := checkOwner("Create", owner)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("Create", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
	}

	now := w.now()
	workflow := &models.Workflow{
		ID:    uuid.New().String(),
		Name:  name,
		Owner: owner,
		Nodes: []*models.Node{{
			ID:   PlaceholderNodeID,
			Type: models.NodeTypeInitial,
			Name: "Add first step",
		}},
		Connections: []*models.Connection{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := w.persistence.Workflows().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// UpdateGraph replaces the nodes and connections of a workflow. The new graph
// must pass structural validation; an invalid graph leaves the stored one
// untouched.
func (w *Workflow) UpdateGraph(
	ctx context.Context,
	owner, id string,
	nodes []*models.Node,
	connections []*models.Connection,
) (*models.Workflow, error) {
	existing, err := w.owned(ctx, "UpdateGraph", owner, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.Nodes = nodes
	updated.Connections = connections

	if updated.Nodes == nil {
		updated.Nodes = []*models.Node{}
	}

	if updated.Connections == nil {
		updated.Connections = []*models.Connection{}
	}

	for _, c := range updated.Connections {
		c.Normalize()
	}

	if err := graph.Validate(&updated).Err(); err != nil {
		return nil, err
	}

	updated.UpdatedAt = w.now()

	if err := w.persistence.Workflows().Save(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return &updated, nil
}

// Rename changes the display name of a workflow.
func (w *Workflow) Rename(ctx context.Context, owner, id, name string) (*models.Workflow, error) {
	existing, err := w.owned(ctx, "Rename", owner, id)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("Rename", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
	}

	existing.Name = name
	existing.UpdatedAt = w.now()

	if err := w.persistence.Workflows().Save(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to rename workflow: %w", err)
	}

	return existing, nil
}

// Delete removes a workflow by its ID. Runs already created keep their snapshot.
func (w *Workflow) Delete(ctx context.Context, owner, id string) error {
	if _, err := w.owned(ctx, "Delete", owner, id); err != nil {
		return err
	}

	if err := w.persistence.Workflows().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// ValidationReport lists everything that would stop a workflow from running.
type ValidationReport struct {
	Valid      bool              `json:"valid"`
	Violations []graph.Violation `json:"violations,omitempty"`
	Problems   []planner.Problem `json:"problems,omitempty"`
}

// Validate checks whether the workflow could be launched as it is.
func (w *Workflow) Validate(ctx context.Context, owner, id string) (*ValidationReport, error) {
	workflow, err := w.owned(ctx, "Validate", owner, id)
	if err != nil {
		return nil, err
	}

	return Report(w.checker.Check(workflow))
}

// Report turns the result of a launch check into a ValidationReport. Errors
// other than validation or planning failures are returned unchanged.
func Report(err error) (*ValidationReport, error) {
	if err == nil {
		return &ValidationReport{Valid: true}, nil
	}

	if verr, ok := graph.AsValidationError(err); ok {
		return &ValidationReport{Violations: verr.Violations}, nil
	}

	if perr, ok := planner.AsPlanningError(err); ok {
		return &ValidationReport{Problems: perr.Problems}, nil
	}

	return nil, err
}

func (w *Workflow) owned(ctx context.Context, op, owner, id string) (*models.Workflow, error) {
	owner, err := checkOwner(op, owner)
	if err != nil {
		return nil, err
	}

	return fetchOwned(ctx, w.persistence.Workflows(), op, owner, id)
}

// fetchOwned loads a workflow and hides it from any other owner. An empty
// owner is an internal caller and sees every workflow.
func fetchOwned(ctx context.Context, repo persistence.WorkflowRepository, op, owner, id string) (*models.Workflow, error) {
	workflow, err := repo.GetByID(ctx, id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, notFound(op, ErrWorkflowNotFound, id)
		}

		return nil, err
	}

	if workflow == nil || (owner != "" && workflow.Owner != owner) {
		return nil, notFound(op, ErrWorkflowNotFound, id)
	}

	return workflow, nil
}

func checkOwner(op, owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", NewValidationError(op, "OWNER_REQUIRED", "owner ID cannot be empty", ErrEmptyOwnerID)
	}

	return owner, nil
}
