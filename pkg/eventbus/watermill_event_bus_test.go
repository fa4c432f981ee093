package eventbus

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/channels/gochannel"
	"github.com/Bojackxiang/n8n-demo/pkg/events"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	bus := newTestBus(t)

	requested := make(chan *events.RunRequested, 1)
	finished := make(chan *events.RunFinished, 1)

	require.NoError(t, bus.Handle(events.RunRequestedEvent, func(_ context.Context, event any) error {
		requested <- event.(*events.RunRequested)

		return nil
	}))
	require.NoError(t, bus.Handle(events.RunFailedEvent, func(_ context.Context, event any) error {
		finished <- event.(*events.RunFinished)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "wf-1", &events.RunRequested{
		BaseEvent:     events.NewBaseEvent(events.RunRequestedEvent, "wf-1"),
		TriggerNodeID: "cron",
		Source:        "schedule",
	}))

	run := &models.Run{ID: "run-1", WorkflowID: "wf-1", Status: models.RunStatusFailed, Error: "call failed"}
	require.NoError(t, bus.Publish(ctx, run.ID, events.NewRunFinished(run, nil)))

	select {
	case ev := <-requested:
		assert.Equal(t, "wf-1", ev.WorkflowID)
		assert.Equal(t, "cron", ev.TriggerNodeID)
	case <-time.After(2 * time.Second):
		t.Fatal("run.requested not delivered")
	}

	select {
	case ev := <-finished:
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, models.RunStatusFailed, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("run.failed not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	got := make(chan any, 1)
	require.NoError(t, bus.Handle(events.RunRequestedEvent, func(_ context.Context, event any) error {
		got <- event

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	rec := &models.NodeExecutionRecord{RunID: "run-1", InstanceID: "a", NodeID: "a", Status: models.NodeStatusSucceeded}
	require.NoError(t, bus.Publish(ctx, "run-1", events.NewNodeFinished("wf-1", rec)))

	select {
	case ev := <-got:
		t.Fatalf("unexpected delivery %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
