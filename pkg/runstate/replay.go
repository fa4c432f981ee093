// Package runstate folds the append-only run log back into a run header and
// its node-instance records.
package runstate

import (
	"errors"
	"fmt"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
)

var (
	ErrForeignEvent   = errors.New("event belongs to another run")
	ErrOutOfOrder     = errors.New("event sequence is not increasing")
	ErrTerminalRecord = errors.New("node-instance already terminal")
	ErrEmptyEvent     = errors.New("event carries no state")
)

// State is the projection of a run log.
type State struct {
	Run     *models.Run
	LastSeq int64

	records map[string]*models.NodeExecutionRecord
	order   []string
}

// Record returns the current record of a node-instance.
func (s *State) Record(instanceID string) (*models.NodeExecutionRecord, bool) {
	rec, ok := s.records[instanceID]

	return rec, ok
}

// Records lists node-instances in the order they first appeared in the log.
func (s *State) Records() []*models.NodeExecutionRecord {
	out := make([]*models.NodeExecutionRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}

	return out
}

// Failed lists the node-instances that ended FAILED with their last error.
func (s *State) Failed() []models.FailedNode {
	var out []models.FailedNode

	for _, rec := range s.Records() {
		if rec.Status == models.NodeStatusFailed {
			out = append(out, models.FailedNode{
				InstanceID: rec.InstanceID,
				NodeID:     rec.NodeID,
				Attempts:   rec.Attempts,
				Error:      rec.Error,
			})
		}
	}

	return out
}

// Replay applies events, in log order, on top of base. The base run supplies
// the graph snapshot, which header events never carry. Base is not modified.
func Replay(base *models.Run, events []*models.RunEvent) (*State, error) {
	run := *base

	s := &State{
		Run:     &run,
		records: make(map[string]*models.NodeExecutionRecord),
	}

	for _, ev := range events {
		if err := s.Apply(ev); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Apply folds one event into the state.
func (s *State) Apply(ev *models.RunEvent) error {
	if ev.RunID != s.Run.ID {
		return fmt.Errorf("%w: event %d of %s applied to %s", ErrForeignEvent, ev.Seq, ev.RunID, s.Run.ID)
	}

	if ev.Seq != 0 && ev.Seq <= s.LastSeq {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, ev.Seq, s.LastSeq)
	}

	switch {
	case ev.Run != nil:
		snapshot := s.Run.Snapshot
		header := *ev.Run
		header.Snapshot = snapshot
		s.Run = &header
	case ev.Node != nil:
		current, seen := s.records[ev.Node.InstanceID]
		if seen && current.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s, got %s", ErrTerminalRecord, current.InstanceID, current.Status, ev.Type)
		}

		if !seen {
			s.order = append(s.order, ev.Node.InstanceID)
		}

		s.records[ev.Node.InstanceID] = ev.Node.Clone()
	default:
		return fmt.Errorf("%w: %s", ErrEmptyEvent, ev.Type)
	}

	if ev.Seq > 0 {
		s.LastSeq = ev.Seq
	}

	return nil
}
