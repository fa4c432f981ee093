package engine

import (
	"errors"
	"fmt"
)

var (
	ErrEngineClosed   = errors.New("engine is shut down")
	ErrInvalidTrigger = errors.New("trigger node cannot start this workflow")
	ErrRunFinished    = errors.New("run already finished")
	ErrRunNotOwned    = errors.New("run is not executed by this engine")
	ErrEngineFault    = errors.New("engine fault")
)

// EngineFault reports a run aborted because its log could not be written.
type EngineFault struct {
	RunID string
	Op    string
	Err   error
}

func (e *EngineFault) Error() string {
	return fmt.Sprintf("engine fault in run %s during %s: %v", e.RunID, e.Op, e.Err)
}

func (e *EngineFault) Unwrap() error {
	return e.Err
}

func (e *EngineFault) Is(target error) bool {
	return target == ErrEngineFault
}

func IsEngineFault(err error) bool {
	return errors.Is(err, ErrEngineFault)
}

func IsInvalidTrigger(err error) bool {
	return errors.Is(err, ErrInvalidTrigger)
}
