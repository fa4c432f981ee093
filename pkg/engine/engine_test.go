package engine

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/events"
	"github.com/Bojackxiang/n8n-demo/pkg/graph"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence/file"
	"github.com/Bojackxiang/n8n-demo/pkg/planner"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/Bojackxiang/n8n-demo/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	httpOK = testutil.WithConfig(map[string]any{"endpoint": "https://example.test/ok"})
	isOK   = testutil.WithConfig(map[string]any{"expression": "{{ .input.ok }}"})
)

func TestEngine_ManualTriggerToHTTPRequest(t *testing.T) {
	var calls atomic.Int32

	h := newHarness(t, stubClient(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		assert.Equal(t, "https://example.test/ok", req.URL.String())

		return okResponse(`{"ok":true}`), nil
	}))

	wf := testutil.NewWorkflow("fetch").
		Node("start", models.NodeTypeManualTrigger).
		Node("fetch", models.NodeTypeHTTPRequest, httpOK).
		Connect("start", "fetch").
		Build()

	run := h.launch(t, wf, LaunchRequest{})
	assert.Equal(t, models.RunStatusPending, run.Status)

	final := h.wait(t, run.ID)
	assert.Equal(t, models.RunStatusSucceeded, final.Status)
	assert.False(t, final.Fault)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.EndedAt)

	records := h.records(t, run.ID)
	require.Len(t, records, 2)
	assert.Equal(t, models.NodeStatusSucceeded, records["start"].Status)

	fetch := records["fetch"]
	assert.Equal(t, models.NodeStatusSucceeded, fetch.Status)
	assert.Equal(t, 1, fetch.Attempts)
	assert.Equal(t, `{"ok":true}`, fetch.Output["main"]["body"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_UnreachableHostExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	h := newHarness(t, stubClient(func(*http.Request) (*http.Response, error) {
		calls.Add(1)

		return nil, errors.New("dial tcp: no such host")
	}))

	wf := testutil.NewWorkflow("unreachable").
		Node("start", models.NodeTypeManualTrigger).
		Node("fetch", models.NodeTypeHTTPRequest, httpOK, testutil.WithRetries(2)).
		Connect("start", "fetch").
		Build()

	run := h.launch(t, wf, LaunchRequest{})
	final := h.wait(t, run.ID)

	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.False(t, final.Fault)
	assert.Equal(t, int32(3), calls.Load())

	fetch := h.records(t, run.ID)["fetch"]
	assert.Equal(t, models.NodeStatusFailed, fetch.Status)
	assert.Equal(t, 3, fetch.Attempts)
	assert.Contains(t, fetch.Error, "no such host")

	evs, err := h.store.Events(context.Background(), run.ID)
	require.NoError(t, err)

	retries := 0
	for _, ev := range evs {
		if ev.Type == models.NodeEventRetryScheduled {
			retries++
			require.NotNil(t, ev.Node.NotBefore)
		}
	}

	assert.Equal(t, 2, retries)
}

func TestEngine_ConditionSkipsUntakenBranch(t *testing.T) {
	h := newHarness(t, nil)

	wf := testutil.NewWorkflow("branch").
		Node("start", models.NodeTypeManualTrigger).
		Node("check", models.NodeTypeCondition, isOK).
		Node("yes", models.NodeTypeAction).
		Node("yes_after", models.NodeTypeAction).
		Node("no", models.NodeTypeAction).
		Connect("start", "check").
		ConnectPorts("check", models.PortTrue, "yes", "main").
		Connect("yes", "yes_after").
		ConnectPorts("check", models.PortFalse, "no", "main").
		Build()

	run := h.launch(t, wf, LaunchRequest{Payload: map[string]any{"ok": false}})
	final := h.wait(t, run.ID)
	assert.Equal(t, models.RunStatusSucceeded, final.Status)

	records := h.records(t, run.ID)
	for _, id := range []string{"yes", "yes_after"} {
		assert.Equal(t, models.NodeStatusSkipped, records[id].Status, id)
		assert.Equal(t, models.SkipReasonBranchNotTaken, records[id].SkipReason, id)
		assert.Zero(t, records[id].Attempts, id)
	}

	assert.Equal(t, models.NodeStatusSucceeded, records["no"].Status)

	running := h.everRunning(t, run.ID)
	assert.False(t, running["yes"])
	assert.False(t, running["yes_after"])
	assert.ElementsMatch(t, []string{"no"}, h.script.Calls())
}

func TestEngine_MergeRunsWithLiveBranch(t *testing.T) {
	h := newHarness(t, nil)

	wf := testutil.NewWorkflow("merge").
		Node("start", models.NodeTypeManualTrigger).
		Node("check", models.NodeTypeCondition, isOK).
		Node("yes", models.NodeTypeAction).
		Node("no", models.NodeTypeAction).
		Node("join", models.NodeTypeMerge).
		Connect("start", "check").
		ConnectPorts("check", models.PortTrue, "yes", "main").
		ConnectPorts("check", models.PortFalse, "no", "main").
		ConnectPorts("yes", "main", "join", "left").
		ConnectPorts("no", "main", "join", "right").
		Build()

	run := h.launch(t, wf, LaunchRequest{Payload: map[string]any{"ok": true}})
	assert.Equal(t, models.RunStatusSucceeded, h.wait(t, run.ID).Status)

	records := h.records(t, run.ID)
	assert.Equal(t, models.NodeStatusSkipped, records["no"].Status)
	assert.Equal(t, models.NodeStatusSucceeded, records["join"].Status)
	assert.Equal(t, map[string]any{"left": records["yes"].Output["main"]}, records["join"].Input)
}

func TestEngine_RetryExhaustionIsContained(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, nil, WithPublisher(pub))
	h.script.on("flaky", always(protocol.Retryablef("upstream busy")))

	wf := testutil.NewWorkflow("contained").
		Node("start", models.NodeTypeManualTrigger).
		Node("flaky", models.NodeTypeAction, testutil.WithRetries(1)).
		Node("after", models.NodeTypeAction).
		Node("independent", models.NodeTypeAction).
		Connect("start", "flaky").
		Connect("flaky", "after").
		Connect("start", "independent").
		Build()

	run := h.launch(t, wf, LaunchRequest{})
	final := h.wait(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, final.Status)

	records := h.records(t, run.ID)
	assert.Equal(t, models.NodeStatusFailed, records["flaky"].Status)
	assert.Equal(t, 2, records["flaky"].Attempts)
	assert.Equal(t, models.NodeStatusSkipped, records["after"].Status)
	assert.Equal(t, models.SkipReasonUpstreamFailed, records["after"].SkipReason)
	assert.Equal(t, models.NodeStatusSucceeded, records["independent"].Status)

	var report *events.RunFinished

	for _, ev := range pub.Events() {
		if rf, ok := ev.(*events.RunFinished); ok {
			report = rf
		}
	}

	require.NotNil(t, report)
	assert.Equal(t, events.RunFailedEvent, report.GetType())
	require.Len(t, report.FailedNodes, 1)
	assert.Equal(t, "flaky", report.FailedNodes[0].InstanceID)
	assert.Equal(t, 2, report.FailedNodes[0].Attempts)
	assert.Equal(t, "upstream busy", report.FailedNodes[0].Error)
}

func TestEngine_FatalErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.script.on("bad", always(protocol.Fatalf("invalid payload")))

	wf := testutil.NewWorkflow("fatal").
		Node("start", models.NodeTypeManualTrigger).
		Node("bad", models.NodeTypeAction, testutil.WithRetries(5)).
		Connect("start", "bad").
		Build()

	run := h.launch(t, wf, LaunchRequest{})
	assert.Equal(t, models.RunStatusFailed, h.wait(t, run.ID).Status)

	bad := h.records(t, run.ID)["bad"]
	assert.Equal(t, 1, bad.Attempts)
	assert.Equal(t, "invalid payload", bad.Error)
}

func TestEngine_TimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	h := newHarness(t, nil, WithPlannerOptions(planner.WithDefaultTimeout(20*time.Millisecond)))
	h.script.on("slow", func(context.Context, *models.ExecutionContext) (models.Outputs, error) {
		<-release

		return models.Outputs{"main": {}}, nil
	})

	wf := testutil.NewWorkflow("timeout").
		Node("start", models.NodeTypeManualTrigger).
		Node("slow", models.NodeTypeAction, testutil.WithRetries(1)).
		Connect("start", "slow").
		Build()

	run := h.launch(t, wf, LaunchRequest{})
	assert.Equal(t, models.RunStatusFailed, h.wait(t, run.ID).Status)

	slow := h.records(t, run.ID)["slow"]
	assert.Equal(t, 2, slow.Attempts)
	assert.Contains(t, slow.Error, "timed out")
	assert.Nil(t, slow.Output)
}

func TestEngine_LoopRunsIterationsInOrder(t *testing.T) {
	h := newHarness(t, nil)

	wf := testutil.NewWorkflow("loop").
		Node("start", models.NodeTypeManualTrigger).
		Node("loop", models.NodeTypeLoop, testutil.WithConfig(map[string]any{"maxIterations": 3})).
		Node("step", models.NodeTypeAction).
		Node("after", models.NodeTypeAction).
		Connect("start", "loop").
		ConnectPorts("loop", models.LoopPortBody, "step", "main").
		ConnectPorts("step", "main", "loop", models.LoopPortBack).
		ConnectPorts("loop", models.LoopPortDone, "after", "main").
		Build()

	run := h.launch(t, wf, LaunchRequest{})
	assert.Equal(t, models.RunStatusSucceeded, h.wait(t, run.ID).Status)

	assert.Equal(t, []string{"step#0", "step#1", "step#2", "after"}, h.script.Calls())

	records := h.records(t, run.ID)
	for i, id := range []string{"step#0", "step#1", "step#2"} {
		assert.Equal(t, i, records[id].Iteration)
		assert.Equal(t, models.NodeStatusSucceeded, records[id].Status)
	}

	assert.Equal(t, float64(2), records["step#2"].Output["main"]["step"])
}

func TestEngine_TriggerSelection(t *testing.T) {
	h := newHarness(t, nil)

	wf := testutil.NewWorkflow("two-entries").
		Node("manual", models.NodeTypeManualTrigger).
		Node("hook", models.NodeTypeWebhook).
		Node("work", models.NodeTypeAction).
		Connect("manual", "work").
		Connect("hook", "work").
		Build()

	run := h.launch(t, wf, LaunchRequest{TriggerNodeID: "hook", Payload: map[string]any{"id": 7}})
	assert.Equal(t, models.RunStatusSucceeded, h.wait(t, run.ID).Status)

	records := h.records(t, run.ID)
	assert.Equal(t, models.SkipReasonNotSelected, records["manual"].SkipReason)
	assert.Equal(t, models.NodeStatusSucceeded, records["hook"].Status)
	assert.Equal(t, models.NodeStatusSucceeded, records["work"].Status)
	assert.Equal(t, map[string]any{"main": map[string]any{"id": float64(7)}}, records["work"].Input)
}

func TestEngine_LaunchRejections(t *testing.T) {
	h := newHarness(t, nil)

	noTrigger := testutil.NewWorkflow("no-trigger").
		Node("a", models.NodeTypeAction).
		Build()

	_, err := h.engine.Launch(context.Background(), noTrigger, LaunchRequest{})
	assert.True(t, graph.IsValidationError(err))

	runs, err := h.store.RunsByWorkflow(context.Background(), noTrigger.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)

	wf := testutil.NewWorkflow("ok").
		Node("start", models.NodeTypeManualTrigger).
		Node("a", models.NodeTypeAction).
		Connect("start", "a").
		Build()

	_, err = h.engine.Launch(context.Background(), wf, LaunchRequest{TriggerNodeID: "a"})
	assert.True(t, IsInvalidTrigger(err))

	_, err = h.engine.Launch(context.Background(), wf, LaunchRequest{TriggerNodeID: "missing"})
	assert.True(t, IsInvalidTrigger(err))

	badLoop := testutil.NewWorkflow("bad-loop").
		Node("start", models.NodeTypeManualTrigger).
		Node("loop", models.NodeTypeLoop, testutil.WithConfig(map[string]any{"maxIterations": 0})).
		Connect("start", "loop").
		Build()

	_, err = h.engine.Launch(context.Background(), badLoop, LaunchRequest{})
	assert.True(t, planner.IsPlanningError(err))

	assert.True(t, graph.IsValidationError(h.engine.Check(noTrigger)))
	assert.True(t, planner.IsPlanningError(h.engine.Check(badLoop)))
	assert.NoError(t, h.engine.Check(wf))
}

func TestEngine_SnapshotIsolation(t *testing.T) {
	release := make(chan struct{})

	h := newHarness(t, nil)
	h.script.on("a", func(_ context.Context, execCtx *models.ExecutionContext) (models.Outputs, error) {
		<-release

		return models.Outputs{"main": execCtx.Main()}, nil
	})

	wf := testutil.NewWorkflow("isolated").
		Node("start", models.NodeTypeManualTrigger).
		Node("a", models.NodeTypeAction, testutil.WithConfig(map[string]any{"set": map[string]any{"v": "1"}})).
		Connect("start", "a").
		Build()

	run := h.launch(t, wf, LaunchRequest{})

	wf.Nodes[1].Config["set"] = map[string]any{"v": "2"}
	wf.Nodes = wf.Nodes[:1]
	close(release)

	h.wait(t, run.ID)

	stored, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Snapshot.Nodes, 2)
	assert.Equal(t, "1", stored.Snapshot.Nodes[1].Config["set"].(map[string]any)["v"])
}

func TestEngine_GlobalConcurrencyLimit(t *testing.T) {
	h := newHarness(t, nil, WithMaxConcurrency(1))

	slow := func(context.Context, *models.ExecutionContext) (models.Outputs, error) {
		time.Sleep(5 * time.Millisecond)

		return models.Outputs{"main": {}}, nil
	}

	b := testutil.NewWorkflow("fan-out").Node("start", models.NodeTypeManualTrigger)
	for _, id := range []string{"a", "b", "c", "d"} {
		b.Node(id, models.NodeTypeAction).Connect("start", id)
		h.script.on(id, slow)
	}

	run := h.launch(t, b.Build(), LaunchRequest{})
	assert.Equal(t, models.RunStatusSucceeded, h.wait(t, run.ID).Status)

	assert.Len(t, h.script.Calls(), 4)
	assert.Equal(t, int32(1), h.script.peak.Load())
}

func TestEngine_ReportsNodeTransitions(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, nil, WithPublisher(pub))

	wf := testutil.NewWorkflow("reported").
		Node("start", models.NodeTypeManualTrigger).
		Node("a", models.NodeTypeAction).
		Connect("start", "a").
		Build()

	run := h.launch(t, wf, LaunchRequest{})
	h.wait(t, run.ID)

	var nodes []string

	var finished *events.RunFinished

	for _, ev := range pub.Events() {
		switch e := ev.(type) {
		case *events.NodeFinished:
			nodes = append(nodes, e.InstanceID)
		case *events.RunFinished:
			finished = e
		}
	}

	assert.Equal(t, []string{"start", "a"}, nodes)
	require.NotNil(t, finished)
	assert.Equal(t, events.RunSucceededEvent, finished.GetType())
	assert.Equal(t, run.ID, finished.RunID)
}

func TestEngine_EngineFault(t *testing.T) {
	pub := &recordingPublisher{}
	store := &failingStore{RunRepository: file.NewPersistence(t.TempDir()).Runs()}
	store.allowed.Store(1)

	h := newHarnessWithStore(t, store, nil, WithPublisher(pub))

	wf := testutil.NewWorkflow("fault").
		Node("start", models.NodeTypeManualTrigger).
		Node("a", models.NodeTypeAction).
		Connect("start", "a").
		Build()

	run := h.launch(t, wf, LaunchRequest{})
	final := h.wait(t, run.ID)

	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.True(t, final.Fault)
	assert.Contains(t, final.Error, errStoreDown.Error())

	published := pub.Events()
	require.NotEmpty(t, published)

	report, ok := published[len(published)-1].(*events.RunFinished)
	require.True(t, ok)
	assert.Equal(t, events.RunFailedEvent, report.GetType())
	assert.True(t, report.Fault)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	// the fault itself could not be written either
	assert.Equal(t, models.RunStatusRunning, stored.Status)
}

func TestEngine_UnknownRunAndClosedEngine(t *testing.T) {
	h := newHarness(t, nil)

	err := h.engine.Cancel(context.Background(), "nope")
	assert.Error(t, err)

	require.NoError(t, h.engine.Shutdown(context.Background()))

	_, err = h.engine.Launch(context.Background(), testutil.NewWorkflow("x").Build(), LaunchRequest{})
	assert.ErrorIs(t, err, ErrEngineClosed)
}
