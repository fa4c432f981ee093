// Package queue fires TRIGGER nodes from messages pushed onto a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/triggers"
	redis "github.com/redis/go-redis/v9"
)

const DefaultPollTimeout = time.Second

type Trigger struct {
	Target      triggers.Target
	Queue       string
	Enabled     bool
	PollTimeout time.Duration

	client   redis.UniversalClient
	callback triggers.Callback
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewTrigger consumes queue through client. The client is shared and is not
// closed by Stop.
func NewTrigger(target triggers.Target, queue string, client redis.UniversalClient, logger *slog.Logger) (*Trigger, error) {
	trigger := &Trigger{
		Target:      target,
		Queue:       queue,
		Enabled:     true,
		PollTimeout: DefaultPollTimeout,
		client:      client,
		logger: logger.With(
			"module", "queue_trigger",
			"workflow_id", target.WorkflowID,
			"trigger_node_id", target.NodeID,
			"queue", queue,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.Target.WorkflowID == "" || t.Target.NodeID == "" {
		return errors.New("queue trigger target is required")
	}

	if t.Queue == "" {
		return errors.New("queue trigger queue name is required")
	}

	if t.client == nil {
		return errors.New("queue trigger redis client is required")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback triggers.Callback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "QueueTrigger is disabled.")

		return nil
	}

	if t.cancel != nil {
		return errors.New("queue trigger already started")
	}

	t.logger.InfoContext(ctx, "Starting QueueTrigger")

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()

	if err := t.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.callback = callback

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel

	t.wg.Add(1)

	go t.consume(consumeCtx)

	return nil
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	t.logger.DebugContext(ctx, "Starting queue consumer")

	for {
		if ctx.Err() != nil {
			t.logger.DebugContext(ctx, "Queue consumer stopped")

			return
		}

		if err := t.processMessage(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}

			t.logger.ErrorContext(ctx, "Error processing message", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, t.PollTimeout, t.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]
	t.logger.DebugContext(ctx, "Received message from queue", "bytes", len(message))

	if err := t.callback(ctx, Payload(message, time.Now())); err != nil {
		t.logger.ErrorContext(ctx, "Error requesting run for message", "error", err)
	}

	return nil
}

// Payload decodes a queue message into a trigger payload. A JSON object is
// used as is; anything else is wrapped under "message".
func Payload(message string, now time.Time) map[string]any {
	timestamp := now.UTC().Format(time.RFC3339)

	var payload map[string]any
	if err := json.Unmarshal([]byte(message), &payload); err != nil || payload == nil {
		return map[string]any{
			"message":   message,
			"timestamp": timestamp,
		}
	}

	if payload["timestamp"] == nil {
		payload["timestamp"] = timestamp
	}

	return payload
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping QueueTrigger")

	if t.cancel == nil {
		return nil
	}

	t.cancel()
	t.cancel = nil

	done := make(chan struct{})

	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
