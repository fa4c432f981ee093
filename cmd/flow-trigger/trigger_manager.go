package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/Bojackxiang/n8n-demo/pkg/triggers"
	"github.com/Bojackxiang/n8n-demo/pkg/triggers/queue"
	"github.com/Bojackxiang/n8n-demo/pkg/triggers/schedule"
	"github.com/redis/go-redis/v9"
)

var ErrNoRedis = errors.New("queue trigger requires a redis client")

type runningTrigger struct {
	trigger     triggers.Trigger
	fingerprint string
}

// TriggerManager keeps one running trigger per schedule or queue binding of
// the stored workflows, publishing every firing as a run request.
type TriggerManager struct {
	id         string
	workflows  persistence.WorkflowRepository
	publisher  eventbus.EventPublisher
	redis      redis.UniversalClient
	logger     *slog.Logger
	stopPeriod time.Duration

	mu              sync.Mutex
	runningTriggers map[string]runningTrigger
}

func NewTriggerManager(
	id string,
	workflows persistence.WorkflowRepository,
	publisher eventbus.EventPublisher,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
) *TriggerManager {
	return &TriggerManager{
		id:              id,
		workflows:       workflows,
		publisher:       publisher,
		redis:           redisClient,
		stopPeriod:      10 * time.Second,
		runningTriggers: make(map[string]runningTrigger),
		logger: logger.With(
			"module", "trigger_manager",
			"trigger_service_id", id,
		),
	}
}

// Run syncs the triggers every interval until ctx is done, then stops them all.
func (tm *TriggerManager) Run(ctx context.Context, interval time.Duration) error {
	tm.logger.InfoContext(ctx, "Starting trigger service", "sync_interval", interval)

	if err := tm.Sync(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			tm.logger.Info("Shutting down trigger service")
			tm.Stop()

			return nil
		case <-ticker.C:
			if err := tm.Sync(ctx); err != nil {
				tm.logger.ErrorContext(ctx, "Failed to sync triggers", "error", err)
			}
		}
	}
}

// Sync starts triggers for new or changed bindings and stops the ones whose
// workflow or node is gone.
func (tm *TriggerManager) Sync(ctx context.Context) error {
	workflows, err := tm.workflows.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch workflows: %w", err)
	}

	wanted := make(map[string]desiredTrigger)

	for _, wf := range workflows {
		bindings, errs := triggers.Bindings(wf)
		for _, err := range errs {
			tm.logger.WarnContext(ctx, "Skipping invalid trigger", "error", err)
		}

		for _, b := range bindings {
			for _, d := range desired(b) {
				wanted[d.key] = d
			}
		}
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	for key, running := range tm.runningTriggers {
		if d, ok := wanted[key]; ok && d.fingerprint == running.fingerprint {
			continue
		}

		tm.stopTrigger(key, running.trigger)
		delete(tm.runningTriggers, key)
	}

	for key, d := range wanted {
		if _, ok := tm.runningTriggers[key]; ok {
			continue
		}

		logger := tm.logger.With("trigger", key)

		trigger, err := tm.createTrigger(d)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to create trigger", "error", err)

			continue
		}

		callback := triggers.Publish(tm.publisher, d.binding.Target, d.source, tm.logger)

		if err := trigger.Start(ctx, callback); err != nil {
			logger.ErrorContext(ctx, "Failed to start trigger", "error", err)

			continue
		}

		tm.runningTriggers[key] = runningTrigger{trigger: trigger, fingerprint: d.fingerprint}

		logger.InfoContext(ctx, "Started trigger successfully")
	}

	return nil
}

type desiredTrigger struct {
	key         string
	source      string
	fingerprint string
	binding     triggers.Binding
}

func desired(b triggers.Binding) []desiredTrigger {
	var out []desiredTrigger

	if b.Config.Schedule != "" {
		out = append(out, desiredTrigger{
			key:         b.Target.String() + "#" + triggers.SourceSchedule,
			source:      triggers.SourceSchedule,
			fingerprint: b.Target.Owner + "|" + b.Config.Schedule,
			binding:     b,
		})
	}

	if b.Config.Queue != "" {
		out = append(out, desiredTrigger{
			key:         b.Target.String() + "#" + triggers.SourceQueue,
			source:      triggers.SourceQueue,
			fingerprint: b.Target.Owner + "|" + b.Config.Queue,
			binding:     b,
		})
	}

	return out
}

// nolint:ireturn
func (tm *TriggerManager) createTrigger(d desiredTrigger) (triggers.Trigger, error) {
	switch d.source {
	case triggers.SourceSchedule:
		return schedule.NewScheduleTrigger(d.binding.Target, d.binding.Config.Schedule, tm.logger)
	case triggers.SourceQueue:
		if tm.redis == nil {
			return nil, ErrNoRedis
		}

		return queue.NewTrigger(d.binding.Target, d.binding.Config.Queue, tm.redis, tm.logger)
	default:
		return nil, fmt.Errorf("unsupported trigger source %s", d.source)
	}
}

func (tm *TriggerManager) stopTrigger(key string, trigger triggers.Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), tm.stopPeriod)
	defer cancel()

	tm.logger.Info("Stopping trigger", "trigger", key)

	if err := trigger.Stop(ctx); err != nil {
		tm.logger.Error("Error stopping trigger", "trigger", key, "error", err)
	}
}

// Running lists the keys of the started triggers.
func (tm *TriggerManager) Running() []string {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	keys := make([]string, 0, len(tm.runningTriggers))
	for key := range tm.runningTriggers {
		keys = append(keys, key)
	}

	return keys
}

func (tm *TriggerManager) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for key, running := range tm.runningTriggers {
		tm.stopTrigger(key, running.trigger)
	}

	tm.runningTriggers = make(map[string]runningTrigger)
	tm.logger.Info("All triggers stopped")
}
