package web

import "github.com/Bojackxiang/n8n-demo/pkg/models"

// OwnerHeader carries the id of the authenticated account.
const OwnerHeader = "X-Owner-ID"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// RenameWorkflowRequest represents the request body for renaming a workflow.
type RenameWorkflowRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// UpdateGraphRequest replaces the nodes and connections of a workflow.
type UpdateGraphRequest struct {
	Nodes       []*models.Node       `json:"nodes"       validate:"required,dive,required"`
	Connections []*models.Connection `json:"connections" validate:"dive,required"`
}

// LaunchRunRequest represents the request body for starting a run.
type LaunchRunRequest struct {
	TriggerNodeID string         `json:"trigger_node_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// LaunchRunResponse acknowledges an accepted launch.
type LaunchRunResponse struct {
	RunID  string           `json:"run_id"`
	Status models.RunStatus `json:"status"`
}
