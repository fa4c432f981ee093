package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/engine"
	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/events"
	"github.com/Bojackxiang/n8n-demo/pkg/mocks"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence/file"
	"github.com/Bojackxiang/n8n-demo/pkg/registry"
	"github.com/Bojackxiang/n8n-demo/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type executionFixture struct {
	persistence *file.Persistence
	engine      *engine.Engine
	service     *Execution
}

func newExecutionFixture(t *testing.T) *executionFixture {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}

	reg := registry.NewDefault(quietLogger(), registry.Options{HTTPClient: client})
	e := engine.New(p.Runs(), reg,
		engine.WithLogger(quietLogger()),
		engine.WithBackoff(engine.BackoffPolicy{Initial: time.Millisecond, Multiplier: 2, Max: 2 * time.Millisecond}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = e.Shutdown(ctx)
	})

	return &executionFixture{persistence: p, engine: e, service: NewExecution(p, e, quietLogger())}
}

func (f *executionFixture) save(t *testing.T, wf *models.Workflow) {
	t.Helper()

	require.NoError(t, f.persistence.Workflows().Save(context.Background(), wf))
}

func (f *executionFixture) wait(t *testing.T, runID string) *models.Run {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := f.engine.Wait(ctx, runID)
	require.NoError(t, err)

	return run
}

func TestExecution_LaunchAndGetRun(t *testing.T) {
	f := newExecutionFixture(t)

	wf := testutil.NewWorkflow("ok").WithOwner("user-1").
		Node("start", models.NodeTypeManualTrigger).
		Node("step", models.NodeTypeAction, testutil.WithConfig(map[string]any{"set": map[string]any{"greeting": "hi {{ .input.name }}"}})).
		Connect("start", "step").
		Build()
	f.save(t, wf)

	run, err := f.service.Launch(context.Background(), wf.ID, engine.LaunchRequest{
		Owner:   "user-1",
		Payload: map[string]any{"name": "ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)

	assert.Equal(t, models.RunStatusSucceeded, f.wait(t, run.ID).Status)

	details, err := f.service.GetRun(context.Background(), "user-1", run.ID)
	require.NoError(t, err)
	assert.Nil(t, details.Run.Snapshot)
	assert.Len(t, details.Nodes, 2)
	assert.Empty(t, details.Failures)

	_, err = f.service.GetRun(context.Background(), "user-2", run.ID)
	assert.True(t, IsNotFoundError(err))

	runs, err := f.service.ListRuns(context.Background(), "user-1", wf.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestExecution_FailedRunListsFailures(t *testing.T) {
	f := newExecutionFixture(t)

	wf := testutil.NewWorkflow("fails").WithOwner("user-1").
		Node("start", models.NodeTypeManualTrigger).
		Node("call", models.NodeTypeHTTPRequest,
			testutil.WithConfig(map[string]any{"endpoint": "http://unreachable.invalid"}),
			testutil.WithRetries(1)).
		Connect("start", "call").
		Build()
	f.save(t, wf)

	run, err := f.service.Launch(context.Background(), wf.ID, engine.LaunchRequest{})
	require.NoError(t, err)
	assert.Equal(t, "user-1", run.Owner)
	assert.Equal(t, models.RunStatusFailed, f.wait(t, run.ID).Status)

	details, err := f.service.GetRun(context.Background(), "", run.ID)
	require.NoError(t, err)
	require.Len(t, details.Failures, 1)
	assert.Equal(t, "call", details.Failures[0].InstanceID)
	assert.Equal(t, 2, details.Failures[0].Attempts)
	assert.Contains(t, details.Failures[0].Error, "connection refused")

	err = f.service.Cancel(context.Background(), "user-1", run.ID)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestExecution_LaunchRejections(t *testing.T) {
	f := newExecutionFixture(t)

	invalid := testutil.NewWorkflow("no-trigger").WithOwner("user-1").
		Node("a", models.NodeTypeAction).
		Build()
	f.save(t, invalid)

	_, err := f.service.Launch(context.Background(), invalid.ID, engine.LaunchRequest{})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	report, err := Report(err)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Violations)

	_, err = f.service.Launch(context.Background(), invalid.ID, engine.LaunchRequest{Owner: "user-2"})
	assert.True(t, IsNotFoundError(err))

	_, err = f.service.Launch(context.Background(), "missing", engine.LaunchRequest{})
	assert.True(t, IsNotFoundError(err))

	_, err = f.service.ListRuns(context.Background(), "user-2", invalid.ID)
	assert.True(t, IsNotFoundError(err))
}

func TestExecution_CancelMapsEngineErrors(t *testing.T) {
	p := mocks.NewMockPersistence()
	runs := p.GetMockRunRepository()
	runs.On("GetRun", mock.Anything, "run-1").Return(&models.Run{ID: "run-1", Owner: "user-1", Status: models.RunStatusRunning}, nil)

	eng := &mocks.MockEngine{}
	eng.On("Cancel", mock.Anything, "run-1").Return(engine.ErrRunNotOwned).Once()
	eng.On("Cancel", mock.Anything, "run-1").Return(nil).Once()
	eng.On("Cancel", mock.Anything, "run-1").Return(errors.New("boom")).Once()

	service := NewExecution(p, eng, quietLogger())

	err := service.Cancel(context.Background(), "user-1", "run-1")
	assert.ErrorIs(t, err, ErrRunNotLocal)
	assert.True(t, IsConflictError(err))

	assert.NoError(t, service.Cancel(context.Background(), "user-1", "run-1"))

	err = service.Cancel(context.Background(), "user-1", "run-1")
	require.Error(t, err)
	assert.False(t, IsConflictError(err))

	assert.True(t, IsNotFoundError(service.Cancel(context.Background(), "user-2", "run-1")))

	eng.AssertExpectations(t)
}

type capturePublisher struct {
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.events = append(p.events, event)

	return nil
}

func TestExecution_Webhook(t *testing.T) {
	f := newExecutionFixture(t)

	wf := testutil.NewWorkflow("hook").WithOwner("user-1").
		Node("hook", models.NodeTypeWebhook).
		Node("manual", models.NodeTypeManualTrigger).
		Node("step", models.NodeTypeAction).
		Connect("hook", "step").
		Connect("manual", "step").
		Build()
	f.save(t, wf)

	receipt, err := f.service.Webhook(context.Background(), wf.ID, "hook", map[string]any{"id": "42"})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.RunID)

	assert.Equal(t, models.RunStatusSucceeded, f.wait(t, receipt.RunID).Status)

	details, err := f.service.GetRun(context.Background(), "user-1", receipt.RunID)
	require.NoError(t, err)
	assert.Equal(t, "hook", details.Run.TriggerNodeID)

	_, err = f.service.Webhook(context.Background(), wf.ID, "manual", nil)
	assert.ErrorIs(t, err, ErrWebhookNotFound)
	assert.True(t, IsNotFoundError(err))

	pub := &capturePublisher{}
	published := NewExecution(f.persistence, f.engine, quietLogger(), WithRequestPublisher(pub))

	receipt, err = published.Webhook(context.Background(), wf.ID, "hook", map[string]any{"id": "43"})
	require.NoError(t, err)
	assert.Empty(t, receipt.RunID)
	require.Len(t, pub.events, 1)

	req, ok := pub.events[0].(*events.RunRequested)
	require.True(t, ok)
	assert.Equal(t, receipt.RequestID, req.ID)
	assert.Equal(t, "hook", req.TriggerNodeID)
	assert.Equal(t, "user-1", req.Owner)
	assert.Equal(t, "webhook", req.Source)
}
