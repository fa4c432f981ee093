package web

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
)

// Register mounts every API route on app. metrics may be nil.
func (h *APIHandlers) Register(app *fiber.App, metrics http.Handler) {
	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", h.HealthCheck)

	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	app.Get("/node-types", h.GetNodeTypes)
	app.Post("/hooks/:workflowId/:nodeId", h.Webhook)

	w := app.Group("/workflows", requireOwner)
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.RenameWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Put("/:id/graph", h.UpdateWorkflowGraph)
	w.Post("/:id/validate", h.ValidateWorkflow)
	w.Post("/:id/runs", h.LaunchRun)
	w.Get("/:id/runs", h.GetWorkflowRuns)

	r := app.Group("/runs", requireOwner)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)
}
