package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/otelhelper"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// dispatch is one attempt handed to a worker goroutine.
type dispatch struct {
	runID   string
	inst    *models.PlanInstance
	execCtx *models.ExecutionContext
	attempt int
}

type attemptResult struct {
	instanceID string
	attempt    int
	outputs    models.Outputs
	err        error
	started    time.Time
	ended      time.Time
}

type outcome struct {
	outputs models.Outputs
	err     error
}

// attempt runs one executor call and always reports exactly one result.
func (e *Engine) attempt(ctx context.Context, results chan<- attemptResult, d *dispatch) {
	res := attemptResult{instanceID: d.inst.ID, attempt: d.attempt}

	defer func() {
		res.ended = e.cfg.now()
		results <- res
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		res.started = e.cfg.now()
		res.err = err

		return
	}
	defer e.sem.Release(1)

	ctx, span := otelhelper.StartSpan(ctx, e.cfg.tracer, "node.attempt",
		attribute.String(otelhelper.RunIDKey, d.runID),
		attribute.String(otelhelper.InstanceIDKey, d.inst.ID),
		attribute.String(otelhelper.NodeIDKey, d.inst.NodeID),
		attribute.String(otelhelper.NodeTypeKey, string(d.inst.NodeType)),
		attribute.Int(otelhelper.IterationKey, d.inst.Iteration),
		attribute.Int(otelhelper.AttemptKey, d.attempt),
	)
	defer span.End()

	res.started = e.cfg.now()
	res.outputs, res.err = e.invoke(ctx, d)

	if res.err != nil {
		otelhelper.FailAttempt(span, res.err, protocol.IsRetryable(res.err))
	}
}

// invoke calls the executor under the instance timeout. An executor that
// outlives its deadline is abandoned and the attempt counts as retryable.
func (e *Engine) invoke(parent context.Context, d *dispatch) (models.Outputs, error) {
	executor, err := e.executors.Resolve(d.inst.NodeType)
	if err != nil {
		return nil, protocol.Fatal(err)
	}

	ctx, cancel := parent, context.CancelFunc(func() {})
	if d.inst.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, d.inst.Timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: protocol.Fatalf("executor panicked: %v", p)}
			}
		}()

		out, err := executor.Execute(ctx, d.execCtx, models.CloneMap(d.inst.Config))
		done <- outcome{outputs: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if timedOut(ctx, parent) {
				return nil, protocol.Retryablef("node %s timed out after %s: %w", d.inst.ID, d.inst.Timeout, o.err)
			}

			return nil, o.err
		}

		if err := checkOutputs(executor, o.outputs); err != nil {
			return nil, err
		}

		return o.outputs, nil
	case <-ctx.Done():
		if parent.Err() != nil {
			return nil, parent.Err()
		}

		return nil, protocol.Retryablef("node %s timed out after %s", d.inst.ID, d.inst.Timeout)
	}
}

func timedOut(ctx, parent context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
}

func checkOutputs(executor protocol.Executor, outputs models.Outputs) error {
	ports := executor.Ports()

	for port := range outputs {
		if !ports.HasOutput(port) {
			return protocol.Fatal(fmt.Errorf("%s emitted undeclared output port %q", executor.Type(), port))
		}
	}

	return nil
}
