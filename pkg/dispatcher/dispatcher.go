// Package dispatcher turns run.requested events into launches. It is the
// single path from the trigger sources to the engine.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Bojackxiang/n8n-demo/pkg/engine"
	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/events"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/services"
	"golang.org/x/time/rate"
)

// Launcher starts a run of a stored workflow.
type Launcher interface {
	Launch(ctx context.Context, workflowID string, req engine.LaunchRequest) (*models.Run, error)
}

type Dispatcher struct {
	launcher Launcher
	limiter  *rate.Limiter
	logger   *slog.Logger
}

type Option func(*Dispatcher)

// WithRateLimit caps launches at limit per second with the given burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(d *Dispatcher) {
		d.limiter = rate.NewLimiter(limit, burst)
	}
}

func New(launcher Launcher, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		launcher: launcher,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		logger:   logger.With("module", "dispatcher"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Register subscribes the dispatcher to run.requested events.
func (d *Dispatcher) Register(sub eventbus.EventSubscriber) error {
	return sub.Handle(events.RunRequestedEvent, d.Handle)
}

// Handle launches the run described by a run.requested event. Requests that
// can never succeed are logged and acknowledged; other failures are returned
// so the message is redelivered.
func (d *Dispatcher) Handle(ctx context.Context, event any) error {
	req, ok := event.(*events.RunRequested)
	if !ok {
		d.logger.ErrorContext(ctx, "Unexpected event payload", "type", fmt.Sprintf("%T", event))

		return nil
	}

	logger := d.logger.With(
		"event_id", req.ID,
		"workflow_id", req.WorkflowID,
		"trigger_node_id", req.TriggerNodeID,
		"source", req.Source,
	)

	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "Dropping invalid run request", "error", err)

		return nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	run, err := d.launcher.Launch(ctx, req.WorkflowID, engine.LaunchRequest{
		TriggerNodeID: req.TriggerNodeID,
		Payload:       req.Payload,
		Owner:         req.Owner,
	})
	if err != nil {
		if permanent(err) {
			logger.WarnContext(ctx, "Run request rejected", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "Failed to launch run", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Run launched from request", "run_id", run.ID)

	return nil
}

func permanent(err error) bool {
	return services.IsValidationError(err) || services.IsNotFoundError(err)
}
