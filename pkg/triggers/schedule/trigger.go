// Package schedule fires TRIGGER nodes on a standard five-field cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/triggers"
	"github.com/robfig/cron/v3"
)

type ScheduleTrigger struct {
	Target   triggers.Target
	CronExpr string
	Enabled  bool

	mu       sync.Mutex
	cron     *cron.Cron
	ctx      context.Context
	callback triggers.Callback
	logger   *slog.Logger
}

func NewScheduleTrigger(target triggers.Target, cronExpr string, logger *slog.Logger) (*ScheduleTrigger, error) {
	trigger := &ScheduleTrigger{
		Target:   target,
		CronExpr: cronExpr,
		Enabled:  true,
		logger: logger.With(
			"module", "schedule_trigger",
			"workflow_id", target.WorkflowID,
			"trigger_node_id", target.NodeID,
			"cron", cronExpr,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *ScheduleTrigger) Validate() error {
	if t.Target.WorkflowID == "" || t.Target.NodeID == "" {
		return errors.New("schedule trigger target is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

func (t *ScheduleTrigger) Start(ctx context.Context, callback triggers.Callback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "ScheduleTrigger is disabled.")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting ScheduleTrigger")

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron != nil {
		return errors.New("schedule trigger already started")
	}

	t.ctx = context.WithoutCancel(ctx)
	t.callback = callback
	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := t.cron.AddFunc(t.CronExpr, t.run)
	if err != nil {
		t.cron = nil

		return fmt.Errorf("failed to add cron job for %s: %w", t.Target, err)
	}

	t.logger.DebugContext(ctx, "Added cron job", "entry_id", id)
	t.cron.Start()

	return nil
}

// Next reports the next scheduled firing, or the zero time when stopped.
func (t *ScheduleTrigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron == nil {
		return time.Time{}
	}

	entries := t.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}

	return entries[0].Next
}

// run is the cron job. The callback runs synchronously so that
// SkipIfStillRunning drops overlapping firings.
func (t *ScheduleTrigger) run() {
	t.mu.Lock()
	ctx, callback := t.ctx, t.callback
	t.mu.Unlock()

	if callback == nil {
		return
	}

	t.logger.Info("Cron job triggered")

	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"schedule":  t.CronExpr,
	}

	if err := callback(ctx, payload); err != nil {
		t.logger.Error("Error requesting run for trigger", "error", err)
	}
}

func (t *ScheduleTrigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping ScheduleTrigger")

	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.callback = nil
	t.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
