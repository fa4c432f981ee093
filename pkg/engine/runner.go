package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/events"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/otelhelper"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/Bojackxiang/n8n-demo/pkg/runstate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	abandonedError   = "abandoned after cancellation"
	interruptedError = "attempt interrupted by engine restart"
	publishTimeout   = 5 * time.Second
)

// runner owns the state of one run. Only its loop goroutine reads or writes
// the state; executors report back through results.
type runner struct {
	e      *Engine
	id     string
	plan   *models.ExecutionPlan
	insts  map[string]*models.PlanInstance
	state  *runstate.State
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	results  chan attemptResult
	wake     chan struct{}
	cancelCh chan struct{}
	done     chan struct{}

	inflight   map[string]context.CancelFunc
	pending    []*models.RunEvent
	finished   []*models.NodeExecutionRecord
	resumed    bool
	cancelling bool
	ended      bool

	graceTimer *time.Timer
	grace      <-chan time.Time
	retryTimer *time.Timer

	final *models.Run

	// concluded and detached are read by Cancel outside the loop goroutine.
	concluded atomic.Pointer[models.Run]
	detached  atomic.Bool
}

func newRunner(e *Engine, plan *models.ExecutionPlan, state *runstate.State, cancelRequested bool) *runner {
	ctx, cancel := context.WithCancel(e.baseCtx)

	insts := make(map[string]*models.PlanInstance, len(plan.Instances))
	for _, inst := range plan.Instances {
		insts[inst.ID] = inst
	}

	return &runner{
		e:          e,
		id:         state.Run.ID,
		plan:       plan,
		insts:      insts,
		state:      state,
		logger:     e.logger.With("run_id", state.Run.ID, "workflow_id", state.Run.WorkflowID),
		ctx:        ctx,
		cancel:     cancel,
		results:    make(chan attemptResult, len(plan.Instances)),
		wake:       make(chan struct{}, 1),
		cancelCh:   make(chan struct{}, 1),
		done:       make(chan struct{}),
		inflight:   make(map[string]context.CancelFunc),
		resumed:    state.LastSeq > 0 && state.Run.Status != models.RunStatusPending,
		cancelling: cancelRequested,
	}
}

func (r *runner) now() time.Time {
	return r.e.cfg.now()
}

func (r *runner) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *runner) requestCancel() {
	select {
	case r.cancelCh <- struct{}{}:
	default:
	}
}

func (r *runner) loop() {
	defer close(r.done)
	defer r.cancel()
	defer r.stopTimers()

	r.ctx, r.span = otelhelper.StartSpan(r.ctx, r.e.cfg.tracer, "run",
		attribute.String(otelhelper.RunIDKey, r.id),
		attribute.String(otelhelper.WorkflowIDKey, r.state.Run.WorkflowID),
		attribute.String(otelhelper.TriggerNodeKey, r.state.Run.TriggerNodeID),
	)

	r.e.cfg.metrics.RunStarted()

	r.begin()
	r.step()

	for !r.ended {
		select {
		case <-r.ctx.Done():
			r.detach()

			return
		case res := <-r.results:
			r.complete(res)
		case <-r.wake:
		case <-r.cancelCh:
			r.beginCancel()
		case <-r.grace:
			r.abandon()
		}

		r.step()
	}
}

// begin moves a fresh run to RUNNING, or reconciles a replayed one.
func (r *runner) begin() {
	if r.resumed {
		r.reconcile()
	}

	if r.state.Run.Status == models.RunStatusPending {
		now := r.now()

		r.setRun(models.RunEventStarted, func(run *models.Run) {
			run.Status = models.RunStatusRunning
			run.StartedAt = &now
		})
	}

	if r.cancelling {
		r.skipUnstarted()
	}
}

// reconcile settles instances whose attempt was cut short by a restart. The
// interrupted attempt counts toward the retry ceiling.
func (r *runner) reconcile() {
	for _, inst := range r.plan.Instances {
		rec, ok := r.state.Record(inst.ID)
		if !ok || rec.Status != models.NodeStatusRunning {
			continue
		}

		next := rec.Clone()
		now := r.now()

		switch {
		case r.cancelling:
			next.Status = models.NodeStatusFailed
			next.Error = abandonedError
			next.Output = nil
			next.EndedAt = &now
		case next.Attempts <= inst.MaxRetries:
			next.Status = models.NodeStatusReady
			next.Error = interruptedError
			next.NotBefore = &now
		default:
			next.Status = models.NodeStatusFailed
			next.Error = interruptedError
			next.EndedAt = &now
		}

		eventType := models.NodeEventFor(next.Status)
		if next.Status == models.NodeStatusReady {
			eventType = models.NodeEventRetryScheduled
		}

		r.emitNode(eventType, next)
		r.logger.Warn("Reconciled interrupted attempt", "instance_id", inst.ID, "attempts", next.Attempts, "status", next.Status)
	}
}

// step advances the state machine until it blocks on an executor or a timer.
func (r *runner) step() {
	if r.ended {
		return
	}

	if r.ctx.Err() != nil {
		r.detach()

		return
	}

	if !r.cancelling {
		r.evaluate()
	}

	starts := r.dispatchReady()

	if !r.flush("transition") {
		return
	}

	for _, d := range starts {
		r.launch(d)
	}

	r.checkDone()
}

func (r *runner) record(id string) *models.NodeExecutionRecord {
	rec, _ := r.state.Record(id)

	return rec
}

// evaluate resolves PENDING instances whose dependencies allow a decision.
// Plan order is topological, so one pass propagates skips downstream.
func (r *runner) evaluate() {
	for _, inst := range r.plan.Instances {
		rec := r.record(inst.ID)
		if rec == nil || rec.Status != models.NodeStatusPending {
			continue
		}

		status, reason, decided := r.readiness(inst)
		if !decided {
			continue
		}

		next := rec.Clone()
		next.Status = status

		if status == models.NodeStatusSkipped {
			now := r.now()
			next.SkipReason = reason
			next.EndedAt = &now
		}

		r.emitNode(models.NodeEventFor(status), next)
	}
}

func (r *runner) readiness(inst *models.PlanInstance) (models.NodeStatus, models.SkipReason, bool) {
	if len(inst.DependsOn) == 0 {
		selected := r.state.Run.TriggerNodeID
		if inst.NodeType.IsTrigger() && selected != "" && inst.NodeID != selected {
			return models.NodeStatusSkipped, models.SkipReasonNotSelected, true
		}

		return models.NodeStatusReady, "", true
	}

	waiting, cancelled := false, false

	for _, dep := range inst.DependsOn {
		d := r.record(dep)
		if d == nil {
			waiting = true

			continue
		}

		switch {
		case d.Status == models.NodeStatusFailed,
			d.Status == models.NodeStatusSkipped && d.SkipReason == models.SkipReasonUpstreamFailed:
			return models.NodeStatusSkipped, models.SkipReasonUpstreamFailed, true
		case d.Status == models.NodeStatusSkipped && d.SkipReason == models.SkipReasonCancelled:
			cancelled = true
		case !d.Status.Terminal():
			waiting = true
		}
	}

	if waiting {
		return "", "", false
	}

	if cancelled {
		return models.NodeStatusSkipped, models.SkipReasonCancelled, true
	}

	if len(inst.Inputs) == 0 {
		return models.NodeStatusReady, "", true
	}

	for _, in := range inst.Inputs {
		if r.live(in) {
			return models.NodeStatusReady, "", true
		}
	}

	return models.NodeStatusSkipped, models.SkipReasonBranchNotTaken, true
}

// live reports whether the source of a binding succeeded and emitted on the bound port.
func (r *runner) live(in models.InputBinding) bool {
	src := r.record(in.SourceInstanceID)

	return src != nil && src.Status == models.NodeStatusSucceeded && src.Output.Emitted(in.SourcePort)
}

func (r *runner) executionContext(inst *models.PlanInstance, attempt int) *models.ExecutionContext {
	execCtx := &models.ExecutionContext{
		RunID:          r.id,
		WorkflowID:     r.state.Run.WorkflowID,
		NodeID:         inst.NodeID,
		InstanceID:     inst.ID,
		Iteration:      inst.Iteration,
		Attempt:        attempt,
		TriggerPayload: models.CloneMap(r.state.Run.TriggerPayload),
	}

	for _, in := range inst.Inputs {
		if !r.live(in) {
			continue
		}

		execCtx.Inputs = append(execCtx.Inputs, models.Input{
			Port:             in.TargetPort,
			SourceInstanceID: in.SourceInstanceID,
			SourcePort:       in.SourcePort,
			Data:             models.CloneMap(r.record(in.SourceInstanceID).Output[in.SourcePort]),
		})
	}

	return execCtx
}

// dispatchReady marks due READY instances RUNNING, in plan order.
func (r *runner) dispatchReady() []*dispatch {
	if r.cancelling {
		return nil
	}

	limit := r.e.cfg.runConcurrency
	now := r.now()

	var starts []*dispatch

	for _, inst := range r.plan.Instances {
		rec := r.record(inst.ID)
		if rec == nil || rec.Status != models.NodeStatusReady {
			continue
		}

		if rec.NotBefore != nil && rec.NotBefore.After(now) {
			continue
		}

		if limit > 0 && len(r.inflight)+len(starts) >= limit {
			break
		}

		next := rec.Clone()
		next.Attempts++
		next.Status = models.NodeStatusRunning
		next.NotBefore = nil
		next.StartedAt = &now

		execCtx := r.executionContext(inst, next.Attempts)
		next.Input = execCtx.InputMap()

		r.emitNode(models.NodeEventRunning, next)

		starts = append(starts, &dispatch{
			runID:   r.id,
			inst:    inst,
			execCtx: execCtx,
			attempt: next.Attempts,
		})
	}

	return starts
}

func (r *runner) launch(d *dispatch) {
	ctx, cancel := context.WithCancel(r.ctx)
	r.inflight[d.inst.ID] = cancel

	r.logger.Debug("Dispatching node-instance", "instance_id", d.inst.ID, "node_type", d.inst.NodeType, "attempt", d.attempt)

	go r.e.attempt(ctx, r.results, d)
}

// complete records the outcome of an attempt.
func (r *runner) complete(res attemptResult) {
	cancel, ok := r.inflight[res.instanceID]
	if !ok || r.ctx.Err() != nil {
		return
	}

	cancel()
	delete(r.inflight, res.instanceID)

	rec := r.record(res.instanceID)
	if rec == nil || rec.Status != models.NodeStatusRunning || rec.Attempts != res.attempt {
		return
	}

	inst := r.insts[res.instanceID]
	next := rec.Clone()
	now := r.now()
	outcome := "succeeded"

	switch {
	case res.err == nil:
		next.Status = models.NodeStatusSucceeded
		next.Output = res.outputs.Clone()
		next.Error = ""
		next.EndedAt = &now

		r.emitNode(models.NodeEventSucceeded, next)
	case protocol.IsRetryable(res.err) && !r.cancelling && next.Attempts <= inst.MaxRetries:
		outcome = "retryable"
		notBefore := now.Add(r.e.cfg.backoff.Delay(next.Attempts))
		next.Status = models.NodeStatusReady
		next.Error = res.err.Error()
		next.NotBefore = &notBefore

		r.emitNode(models.NodeEventRetryScheduled, next)
		r.e.cfg.metrics.RetryScheduled(string(inst.NodeType))
		r.logger.Warn("Node-instance attempt failed, retry scheduled",
			"instance_id", inst.ID, "attempt", next.Attempts, "not_before", notBefore, "error", res.err)
	default:
		outcome = "fatal"
		if protocol.IsRetryable(res.err) {
			outcome = "retryable"
		}

		next.Status = models.NodeStatusFailed
		next.Error = res.err.Error()
		next.EndedAt = &now

		r.emitNode(models.NodeEventFailed, next)
		r.logger.Error("Node-instance failed", "instance_id", inst.ID, "attempts", next.Attempts, "error", res.err)
	}

	r.e.cfg.metrics.Attempt(string(inst.NodeType), outcome, res.ended.Sub(res.started))
}

func (r *runner) beginCancel() {
	if r.cancelling {
		return
	}

	r.cancelling = true
	r.setRun(models.RunEventCancelRequested, func(*models.Run) {})
	r.skipUnstarted()

	r.logger.Info("Run cancellation requested", "in_flight", len(r.inflight))
}

// skipUnstarted marks every PENDING or READY instance cancelled and starts the
// grace period of in-flight calls.
func (r *runner) skipUnstarted() {
	now := r.now()

	for _, inst := range r.plan.Instances {
		rec := r.record(inst.ID)
		if rec == nil || (rec.Status != models.NodeStatusPending && rec.Status != models.NodeStatusReady) {
			continue
		}

		next := rec.Clone()
		next.Status = models.NodeStatusSkipped
		next.SkipReason = models.SkipReasonCancelled
		next.NotBefore = nil
		next.EndedAt = &now

		r.emitNode(models.NodeEventSkipped, next)
	}

	if r.retryTimer != nil {
		r.retryTimer.Stop()
	}

	if len(r.inflight) > 0 && r.graceTimer == nil {
		r.graceTimer = time.NewTimer(r.e.cfg.cancelGrace)
		r.grace = r.graceTimer.C
	}
}

// abandon gives up on calls still running when the grace period ends. Their
// partial output is never recorded.
func (r *runner) abandon() {
	r.grace = nil
	now := r.now()

	for _, inst := range r.plan.Instances {
		cancel, ok := r.inflight[inst.ID]
		if !ok {
			continue
		}

		cancel()
		delete(r.inflight, inst.ID)

		rec := r.record(inst.ID)
		if rec == nil || rec.Status != models.NodeStatusRunning {
			continue
		}

		next := rec.Clone()
		next.Status = models.NodeStatusFailed
		next.Error = abandonedError
		next.Output = nil
		next.EndedAt = &now

		r.emitNode(models.NodeEventFailed, next)
		r.logger.Warn("Abandoned node-instance after cancellation", "instance_id", inst.ID)
	}
}

func (r *runner) checkDone() {
	if r.ended {
		return
	}

	if len(r.inflight) > 0 {
		r.armRetry()

		return
	}

	if r.cancelling {
		r.finish(models.RunStatusCancelled, "")

		return
	}

	waiting := 0

	for _, rec := range r.state.Records() {
		switch rec.Status {
		case models.NodeStatusReady:
			r.armRetry()

			return
		case models.NodeStatusPending, models.NodeStatusRunning:
			waiting++
		}
	}

	if waiting > 0 {
		r.fault("schedule", fmt.Errorf("%d node-instances can never become ready", waiting))

		return
	}

	if failed := r.state.Failed(); len(failed) > 0 {
		r.finish(models.RunStatusFailed, fmt.Sprintf("%d node-instance(s) failed", len(failed)))

		return
	}

	r.finish(models.RunStatusSucceeded, "")
}

// armRetry wakes the loop when the earliest backed-off instance is due.
func (r *runner) armRetry() {
	var earliest *time.Time

	for _, rec := range r.state.Records() {
		if rec.Status != models.NodeStatusReady || rec.NotBefore == nil {
			continue
		}

		if earliest == nil || rec.NotBefore.Before(*earliest) {
			earliest = rec.NotBefore
		}
	}

	if earliest == nil {
		return
	}

	wait := max(earliest.Sub(r.now()), 0)

	if r.retryTimer == nil {
		r.retryTimer = time.AfterFunc(wait, r.poke)

		return
	}

	r.retryTimer.Reset(wait)
}

func (r *runner) stopTimers() {
	if r.retryTimer != nil {
		r.retryTimer.Stop()
	}

	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
}

func (r *runner) finish(status models.RunStatus, msg string) {
	now := r.now()

	r.setRun(models.RunEventFinished, func(run *models.Run) {
		run.Status = status
		run.Error = msg
		run.EndedAt = &now
	})

	if !r.flush("finish") {
		return
	}

	r.conclude()
}

// fault aborts the run after a log write failed. The final state is written
// best-effort and always published.
func (r *runner) fault(op string, err error) {
	fault := &EngineFault{RunID: r.id, Op: op, Err: err}

	for id, cancel := range r.inflight {
		cancel()
		delete(r.inflight, id)
	}

	r.pending = nil
	r.finished = nil

	now := r.now()
	header := *r.state.Run
	header.Status = models.RunStatusFailed
	header.Fault = true
	header.Error = fault.Error()
	header.EndedAt = &now

	ev := models.NewRunEvent(models.RunEventFinished, &header)
	if applyErr := r.state.Apply(ev); applyErr != nil {
		r.logger.Error("Failed to apply fault event", "error", applyErr)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), publishTimeout)
	defer cancel()

	if writeErr := r.e.store.AppendEvents(ctx, r.id, ev); writeErr != nil {
		r.logger.Error("Failed to record engine fault", "error", writeErr)
	}

	r.logger.Error("Run aborted by engine fault", "op", op, "error", err)

	r.conclude()
}

// detach stops the loop on engine shutdown without writing anything.
func (r *runner) detach() {
	if r.ended {
		return
	}

	r.ended = true
	r.detached.Store(true)

	for _, cancel := range r.inflight {
		cancel()
	}

	r.e.cfg.metrics.RunDetached()
	r.span.SetStatus(codes.Unset, "detached")
	r.span.End()

	r.logger.Info("Run detached, resumable on next start", "status", r.state.Run.Status)
}

func (r *runner) conclude() {
	r.ended = true

	run := r.state.Run.Header()
	r.final = run
	r.concluded.Store(run)

	var duration time.Duration
	if run.StartedAt != nil && run.EndedAt != nil {
		duration = run.EndedAt.Sub(*run.StartedAt)
	}

	r.e.cfg.metrics.RunFinished(string(run.Status), run.Fault, duration)
	r.publish(events.NewRunFinished(run, r.state.Failed()))

	r.span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(run.Status)))

	if run.Status == models.RunStatusFailed {
		r.span.SetStatus(codes.Error, run.Error)
	}

	r.span.End()

	r.logger.Info("Run finished", "status", run.Status, "fault", run.Fault, "duration", duration)
}

func (r *runner) setRun(eventType models.RunEventType, mutate func(*models.Run)) {
	header := *r.state.Run
	mutate(&header)

	r.emit(models.NewRunEvent(eventType, &header))
}

func (r *runner) emitNode(eventType models.RunEventType, rec *models.NodeExecutionRecord) {
	if !r.emit(models.NewNodeEvent(eventType, rec)) {
		return
	}

	if rec.Status.Terminal() {
		r.finished = append(r.finished, rec)
		r.e.cfg.metrics.NodeFinished(string(rec.Status), string(rec.SkipReason))
	}
}

func (r *runner) emit(ev *models.RunEvent) bool {
	if err := r.state.Apply(ev); err != nil {
		r.logger.Error("Rejected invalid transition", "event", ev.Type, "error", err)

		return false
	}

	r.pending = append(r.pending, ev)

	return true
}

// flush appends the buffered transitions to the log. Nothing is dispatched or
// reported before its transition is durable.
func (r *runner) flush(op string) bool {
	if len(r.pending) == 0 {
		return true
	}

	batch := r.pending
	r.pending = nil

	if err := r.e.store.AppendEvents(r.ctx, r.id, batch...); err != nil {
		if r.ctx.Err() != nil {
			r.detach()

			return false
		}

		r.fault(op, err)

		return false
	}

	for _, rec := range r.finished {
		r.publish(events.NewNodeFinished(r.state.Run.WorkflowID, rec))
	}

	r.finished = nil

	return true
}

func (r *runner) publish(event eventbus.Event) {
	if r.e.cfg.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), publishTimeout)
	defer cancel()

	if err := r.e.cfg.publisher.Publish(ctx, r.id, event); err != nil {
		r.logger.Warn("Failed to publish run event", "event_type", event.GetType(), "error", err)
	}
}
