package web

import (
	"github.com/Bojackxiang/n8n-demo/pkg/graph"
	"github.com/Bojackxiang/n8n-demo/pkg/planner"
	"github.com/Bojackxiang/n8n-demo/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// invalidWorkflowProblem lists every reason a graph was rejected.
type invalidWorkflowProblem struct {
	*problems.Problem

	Violations []graph.Violation `json:"violations,omitempty"`
	Problems   []planner.Problem `json:"problems,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthorized(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("missing_owner").
		WithDetail("the " + OwnerHeader + " header is required")

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	if verr, ok := graph.AsValidationError(err); ok {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(invalidWorkflowProblem{
			Problem: problems.NewStatusProblem(422).
				WithInstance(c.Path()).
				WithType("invalid_workflow").
				WithDetail(err.Error()),
			Violations: verr.Violations,
		})
	}

	if perr, ok := planner.AsPlanningError(err); ok {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(invalidWorkflowProblem{
			Problem: problems.NewStatusProblem(422).
				WithInstance(c.Path()).
				WithType("unplannable_workflow").
				WithDetail(err.Error()),
			Problems: perr.Problems,
		})
	}

	switch {
	case services.IsValidationError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsNotFoundError(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("not_found").
			WithDetail(err.Error())

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
