// Package engine executes workflow runs: it plans a snapshot, drives every
// node-instance through its lifecycle and records each transition in the run
// log before acting on it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Bojackxiang/n8n-demo/pkg/graph"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/Bojackxiang/n8n-demo/pkg/planner"
	"github.com/Bojackxiang/n8n-demo/pkg/runstate"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// LaunchRequest describes how a run is started.
type LaunchRequest struct {
	// TriggerNodeID selects the entry point. Empty starts every trigger.
	TriggerNodeID string
	Payload       map[string]any
	Owner         string
}

type Engine struct {
	store     persistence.RunRepository
	executors planner.Resolver
	planner   *planner.Planner
	cfg       config
	logger    *slog.Logger
	sem       *semaphore.Weighted

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	closed bool
	runs   map[string]*runner
	wg     sync.WaitGroup
}

func New(store persistence.RunRepository, executors planner.Resolver, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, stop := context.WithCancel(context.Background())

	return &Engine{
		store:     store,
		executors: executors,
		planner:   planner.New(executors, cfg.plannerOpts...),
		cfg:       cfg,
		logger:    cfg.logger.With("module", "engine"),
		sem:       semaphore.NewWeighted(cfg.maxConcurrency),
		baseCtx:   ctx,
		stop:      stop,
		runs:      make(map[string]*runner),
	}
}

// Launch validates and plans wf, records the new run and starts executing it.
// The returned run is PENDING; validation and planning failures create no run.
func (e *Engine) Launch(ctx context.Context, wf *models.Workflow, req LaunchRequest) (*models.Run, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	if err := graph.ValidateForRun(wf).Err(); err != nil {
		e.cfg.metrics.LaunchRejected("validation")

		return nil, err
	}

	if err := checkTrigger(wf, req.TriggerNodeID); err != nil {
		e.cfg.metrics.LaunchRejected("trigger")

		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	snapshot := wf.Snapshot()

	plan, err := e.planner.Plan(id.String(), snapshot)
	if err != nil {
		e.cfg.metrics.LaunchRejected("planning")

		return nil, err
	}

	now := e.cfg.now()
	owner := req.Owner
	if owner == "" {
		owner = wf.Owner
	}

	run := &models.Run{
		ID:             id.String(),
		WorkflowID:     wf.ID,
		Owner:          owner,
		Snapshot:       snapshot,
		TriggerNodeID:  req.TriggerNodeID,
		TriggerPayload: models.CloneMap(req.Payload),
		Status:         models.RunStatusPending,
		CreatedAt:      now,
	}

	initial := make([]*models.RunEvent, 0, len(plan.Instances)+1)
	initial = append(initial, models.NewRunEvent(models.RunEventCreated, run))

	for _, inst := range plan.Instances {
		initial = append(initial, models.NewNodeEvent(models.NodeEventPending, &models.NodeExecutionRecord{
			RunID:      run.ID,
			InstanceID: inst.ID,
			NodeID:     inst.NodeID,
			NodeType:   inst.NodeType,
			Iteration:  inst.Iteration,
			Status:     models.NodeStatusPending,
			CreatedAt:  now,
		}))
	}

	if err := e.store.CreateRun(ctx, run, plan, initial); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	state, err := runstate.Replay(run, initial)
	if err != nil {
		return nil, fmt.Errorf("failed to project run %s: %w", run.ID, err)
	}

	if err := e.start(newRunner(e, plan, state, false)); err != nil {
		return nil, err
	}

	e.logger.Info("Run launched",
		"run_id", run.ID,
		"workflow_id", wf.ID,
		"trigger_node_id", req.TriggerNodeID,
		"instances", len(plan.Instances))

	return run.Header(), nil
}

// Check reports the validation or planning error Launch would return for wf,
// without creating a run.
func (e *Engine) Check(wf *models.Workflow) error {
	if err := graph.ValidateForRun(wf).Err(); err != nil {
		return err
	}

	_, err := e.planner.Plan("check", wf.Snapshot())

	return err
}

func checkTrigger(wf *models.Workflow, triggerNodeID string) error {
	if triggerNodeID == "" {
		return nil
	}

	node := wf.NodeByID(triggerNodeID)
	if node == nil {
		return fmt.Errorf("%w: node %s does not exist", ErrInvalidTrigger, triggerNodeID)
	}

	if !node.Type.IsTrigger() {
		return fmt.Errorf("%w: node %s is %s", ErrInvalidTrigger, triggerNodeID, node.Type)
	}

	return nil
}

func (e *Engine) start(r *runner) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	e.runs[r.id] = r
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer e.release(r.id)

		r.loop()
	}()

	return nil
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.runs, runID)
}

func (e *Engine) active(runID string) (*runner, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[runID]

	return r, ok
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.closed
}

// Cancel requests cooperative cancellation of a run executed by this engine.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if r, ok := e.active(runID); ok {
		if run := r.concluded.Load(); run != nil {
			return fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, run.Status)
		}

		if r.detached.Load() {
			return ErrEngineClosed
		}

		r.requestCancel()

		return nil
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, run.Status)
	}

	return fmt.Errorf("%w: %s", ErrRunNotOwned, runID)
}

// Wait blocks until the run is terminal and returns its final header.
func (e *Engine) Wait(ctx context.Context, runID string) (*models.Run, error) {
	r, ok := e.active(runID)
	if !ok {
		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}

		return run.Header(), nil
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if r.final == nil {
		return nil, ErrEngineClosed
	}

	return r.final, nil
}

// Resume restarts every PENDING or RUNNING run found in the store by replaying
// its log. Runs already executed by this engine are left alone.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	runs, err := e.store.RunsByStatus(ctx, models.RunStatusPending, models.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished runs: %w", err)
	}

	resumed := 0

	var errs []error

	for _, run := range runs {
		if _, ok := e.active(run.ID); ok {
			continue
		}

		r, err := e.restore(ctx, run)
		if err != nil {
			e.logger.Error("Failed to restore run", "run_id", run.ID, "error", err)
			errs = append(errs, err)

			continue
		}

		if err := e.start(r); err != nil {
			return resumed, err
		}

		e.logger.Info("Run resumed", "run_id", run.ID, "workflow_id", run.WorkflowID, "last_seq", r.state.LastSeq)

		resumed++
	}

	return resumed, errors.Join(errs...)
}

func (e *Engine) restore(ctx context.Context, run *models.Run) (*runner, error) {
	plan, err := e.store.Plan(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	events, err := e.store.Events(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	base := &models.Run{ID: run.ID, Snapshot: run.Snapshot}

	state, err := runstate.Replay(base, events)
	if err != nil {
		return nil, fmt.Errorf("failed to replay run %s: %w", run.ID, err)
	}

	cancelled := false

	for _, ev := range events {
		if ev.Type == models.RunEventCancelRequested {
			cancelled = true
		}
	}

	return newRunner(e, plan, state, cancelled), nil
}

// Shutdown stops every run loop without writing further transitions, leaving
// unfinished runs resumable.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stop()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
