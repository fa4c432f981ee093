package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// RunRepository stores the run log in run_events and keeps runs.header and
// node_instances up to date in the same transaction as each append.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run, plan *models.ExecutionPlan, events []*models.RunEvent) (err error) {
	header, err := json.Marshal(run.Header())
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	snapshot, err := json.Marshal(run.Snapshot)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, header, snapshot, plan, last_seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, run.ID, run.WorkflowID, run.Status, header, snapshot, planJSON, run.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewRunError("CreateRun", run.ID, persistence.ErrRunAlreadyExists)
		}

		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	positions := make(map[string]int, len(plan.Instances))
	for i, inst := range plan.Instances {
		positions[inst.ID] = i
	}

	err = r.appendTx(ctx, tx, run.ID, 0, positions, events)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

func (r *RunRepository) AppendEvents(ctx context.Context, runID string, events ...*models.RunEvent) (err error) {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("AppendEvents", runID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lastSeq int64

	err = tx.QueryRowContext(ctx, `SELECT last_seq FROM runs WHERE id = $1 FOR UPDATE`, runID).Scan(&lastSeq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewRunError("AppendEvents", runID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("AppendEvents", runID, err)
	}

	err = r.appendTx(ctx, tx, runID, lastSeq, nil, events)
	if err != nil {
		return persistence.NewRunError("AppendEvents", runID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewRunError("AppendEvents", runID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

// appendTx inserts the events after lastSeq and folds them into runs and
// node_instances. Instances first seen here get the position given by
// positions, or -1.
func (r *RunRepository) appendTx(ctx context.Context, tx *sql.Tx, runID string, lastSeq int64, positions map[string]int, events []*models.RunEvent) error {
	seq := lastSeq

	for _, ev := range events {
		if ev.RunID != runID {
			return fmt.Errorf("event for run %s appended to %s", ev.RunID, runID)
		}

		seq++
		ev.Seq = seq

		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", seq, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_events (run_id, seq, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, runID, seq, ev.Type, payload, ev.At)
		if err != nil {
			return fmt.Errorf("failed to insert event %d: %w", seq, err)
		}

		switch {
		case ev.Run != nil:
			header, err := json.Marshal(ev.Run)
			if err != nil {
				return fmt.Errorf("failed to marshal run header: %w", err)
			}

			_, err = tx.ExecContext(ctx, `UPDATE runs SET status = $2, header = $3 WHERE id = $1`, runID, ev.Run.Status, header)
			if err != nil {
				return fmt.Errorf("failed to update run header: %w", err)
			}
		case ev.Node != nil:
			record, err := json.Marshal(ev.Node)
			if err != nil {
				return fmt.Errorf("failed to marshal node record: %w", err)
			}

			position, ok := positions[ev.Node.InstanceID]
			if !ok {
				position = -1
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO node_instances (run_id, instance_id, position, node_id, iteration, status, record, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (run_id, instance_id) DO UPDATE SET
					status = EXCLUDED.status,
					record = EXCLUDED.record,
					updated_at = EXCLUDED.updated_at
			`, runID, ev.Node.InstanceID, position, ev.Node.NodeID, ev.Node.Iteration, ev.Node.Status, record, ev.At)
			if err != nil {
				return fmt.Errorf("failed to upsert node instance %s: %w", ev.Node.InstanceID, err)
			}
		}
	}

	_, err := tx.ExecContext(ctx, `UPDATE runs SET last_seq = $2, updated_at = $3 WHERE id = $1`, runID, seq, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance sequence: %w", err)
	}

	return nil
}

func (r *RunRepository) Events(ctx context.Context, runID string) ([]*models.RunEvent, error) {
	if err := r.exists(ctx, runID); err != nil {
		return nil, persistence.NewRunError("Events", runID, err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM run_events WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, persistence.NewRunError("Events", runID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.RunEvent, 0)

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, persistence.NewRunError("Events", runID, err)
		}

		var ev models.RunEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, persistence.NewRunError("Events", runID, fmt.Errorf("%w: %v", persistence.ErrCorruptLog, err))
		}

		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRunError("Events", runID, err)
	}

	return events, nil
}

func (r *RunRepository) exists(ctx context.Context, runID string) error {
	var found bool

	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, runID).Scan(&found)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrRunNotFound
	}

	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT header, snapshot FROM runs WHERE id = $1`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetRun", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetRun", runID, err)
	}

	return run, nil
}

func (r *RunRepository) Plan(ctx context.Context, runID string) (*models.ExecutionPlan, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `SELECT plan FROM runs WHERE id = $1`, runID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("Plan", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("Plan", runID, err)
	}

	var plan models.ExecutionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, persistence.NewRunError("Plan", runID, err)
	}

	return &plan, nil
}

func (r *RunRepository) ListNodeInstances(ctx context.Context, runID string) ([]*models.NodeExecutionRecord, error) {
	if err := r.exists(ctx, runID); err != nil {
		return nil, persistence.NewRunError("ListNodeInstances", runID, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT record FROM node_instances
		WHERE run_id = $1
		ORDER BY position, instance_id
	`, runID)
	if err != nil {
		return nil, persistence.NewRunError("ListNodeInstances", runID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	records := make([]*models.NodeExecutionRecord, 0)

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, persistence.NewRunError("ListNodeInstances", runID, err)
		}

		var record models.NodeExecutionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, persistence.NewRunError("ListNodeInstances", runID, err)
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRunError("ListNodeInstances", runID, err)
	}

	return records, nil
}

func (r *RunRepository) RunsByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.Run, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	return r.listRuns(ctx, `
		SELECT header, snapshot FROM runs
		WHERE status = ANY($1)
		ORDER BY created_at
	`, pq.Array(values))
}

func (r *RunRepository) RunsByWorkflow(ctx context.Context, workflowID string) ([]*models.Run, error) {
	return r.listRuns(ctx, `
		SELECT header, snapshot FROM runs
		WHERE workflow_id = $1
		ORDER BY created_at
	`, workflowID)
}

func (r *RunRepository) listRuns(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row scanner) (*models.Run, error) {
	var header, snapshot []byte

	if err := row.Scan(&header, &snapshot); err != nil {
		return nil, err
	}

	var run models.Run
	if err := json.Unmarshal(header, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run header: %w", err)
	}

	if err := json.Unmarshal(snapshot, &run.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run snapshot: %w", err)
	}

	return &run, nil
}
