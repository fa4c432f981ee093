package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/Bojackxiang/n8n-demo/pkg/runstate"
)

const (
	runFile    = "run.json"
	planFile   = "plan.json"
	eventsFile = "events.jsonl"
)

// RunRepository keeps each run under <root>/runs/<id>: the run as launched,
// its plan, and an events.jsonl log that is only ever appended to.
type RunRepository struct {
	root string

	mu      sync.Mutex
	lastSeq map[string]int64
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{
		root:    root,
		lastSeq: make(map[string]int64),
	}
}

func (rr *RunRepository) runDir(runID string) string {
	return filepath.Join(rr.root, "runs", filepath.Base(runID))
}

func (rr *RunRepository) CreateRun(ctx context.Context, run *models.Run, plan *models.ExecutionPlan, events []*models.RunEvent) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	dir := rr.runDir(run.ID)

	if err := os.MkdirAll(filepath.Dir(dir), 0750); err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	if err := os.Mkdir(dir, 0750); err != nil {
		if os.IsExist(err) {
			return persistence.NewRunError("CreateRun", run.ID, persistence.ErrRunAlreadyExists)
		}

		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	for name, doc := range map[string]any{runFile: run, planFile: plan} {
		data, err := json.Marshal(doc)
		if err != nil {
			return persistence.NewRunError("CreateRun", run.ID, err)
		}

		if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
			return persistence.NewRunError("CreateRun", run.ID, err)
		}
	}

	rr.lastSeq[run.ID] = 0

	return rr.appendLocked(run.ID, events)
}

func (rr *RunRepository) AppendEvents(_ context.Context, runID string, events ...*models.RunEvent) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, err := os.Stat(filepath.Join(rr.runDir(runID), runFile)); err != nil {
		if os.IsNotExist(err) {
			return persistence.NewRunError("AppendEvents", runID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("AppendEvents", runID, err)
	}

	return rr.appendLocked(runID, events)
}

// appendLocked writes the batch with a single write call. Callers hold rr.mu.
func (rr *RunRepository) appendLocked(runID string, events []*models.RunEvent) error {
	if len(events) == 0 {
		return nil
	}

	seq, known := rr.lastSeq[runID]
	if !known {
		existing, err := rr.readEvents(runID)
		if err != nil {
			return persistence.NewRunError("AppendEvents", runID, err)
		}

		if n := len(existing); n > 0 {
			seq = existing[n-1].Seq
		}
	}

	var buf []byte

	for _, ev := range events {
		if ev.RunID != runID {
			return persistence.NewRunError("AppendEvents", runID, fmt.Errorf("%w: event for run %s", runstate.ErrForeignEvent, ev.RunID))
		}

		seq++
		ev.Seq = seq

		line, err := json.Marshal(ev)
		if err != nil {
			return persistence.NewRunError("AppendEvents", runID, err)
		}

		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	f, err := os.OpenFile(filepath.Join(rr.runDir(runID), eventsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return persistence.NewRunError("AppendEvents", runID, err)
	}

	_, werr := f.Write(buf)
	serr := f.Sync()
	cerr := f.Close()

	if err := errors.Join(werr, serr, cerr); err != nil {
		delete(rr.lastSeq, runID)

		return persistence.NewRunError("AppendEvents", runID, err)
	}

	rr.lastSeq[runID] = seq

	return nil
}

func (rr *RunRepository) readEvents(runID string) ([]*models.RunEvent, error) {
	f, err := os.Open(filepath.Join(rr.runDir(runID), eventsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}
	defer f.Close()

	var events []*models.RunEvent

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var ev models.RunEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", persistence.ErrCorruptLog, len(events)+1, err)
		}

		events = append(events, &ev)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func (rr *RunRepository) Events(_ context.Context, runID string) ([]*models.RunEvent, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, err := rr.readBase(runID); err != nil {
		return nil, persistence.NewRunError("Events", runID, err)
	}

	events, err := rr.readEvents(runID)
	if err != nil {
		return nil, persistence.NewRunError("Events", runID, err)
	}

	return events, nil
}

func (rr *RunRepository) readBase(runID string) (*models.Run, error) {
	data, err := os.ReadFile(filepath.Join(rr.runDir(runID), runFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, err
	}

	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("%w: %v", persistence.ErrCorruptLog, err)
	}

	return &run, nil
}

func (rr *RunRepository) replay(op, runID string) (*runstate.State, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	base, err := rr.readBase(runID)
	if err != nil {
		return nil, persistence.NewRunError(op, runID, err)
	}

	events, err := rr.readEvents(runID)
	if err != nil {
		return nil, persistence.NewRunError(op, runID, err)
	}

	state, err := runstate.Replay(base, events)
	if err != nil {
		return nil, persistence.NewRunError(op, runID, fmt.Errorf("%w: %v", persistence.ErrCorruptLog, err))
	}

	return state, nil
}

func (rr *RunRepository) GetRun(_ context.Context, runID string) (*models.Run, error) {
	state, err := rr.replay("GetRun", runID)
	if err != nil {
		return nil, err
	}

	return state.Run, nil
}

func (rr *RunRepository) ListNodeInstances(_ context.Context, runID string) ([]*models.NodeExecutionRecord, error) {
	state, err := rr.replay("ListNodeInstances", runID)
	if err != nil {
		return nil, err
	}

	return state.Records(), nil
}

func (rr *RunRepository) Plan(_ context.Context, runID string) (*models.ExecutionPlan, error) {
	data, err := os.ReadFile(filepath.Join(rr.runDir(runID), planFile))
	if err != nil {
		if os.IsNotExist(err) {
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

// runs replays every stored run and keeps those accepted by keep, oldest first.
func (rr *RunRepository) runs(keep func(*models.Run) bool) ([]*models.Run, error) {
	entries, err := os.ReadDir(filepath.Join(rr.root, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Run{}, nil
		}

		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*models.Run, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		state, err := rr.replay("ListRuns", entry.Name())
		if err != nil {
			return nil, err
		}

		if keep(state.Run) {
			out = append(out, state.Run)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func (rr *RunRepository) RunsByStatus(_ context.Context, statuses ...models.RunStatus) ([]*models.Run, error) {
	return rr.runs(func(run *models.Run) bool {
		return slices.Contains(statuses, run.Status)
	})
}

func (rr *RunRepository) RunsByWorkflow(_ context.Context, workflowID string) ([]*models.Run, error) {
	return rr.runs(func(run *models.Run) bool {
		return run.WorkflowID == workflowID
	})
}
