package sensitivity

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by Runner.Run wraps exactly one.
var (
	ErrConfig   = errors.New("configuration error")
	ErrRecordIO = errors.New("record store error")
	ErrInvoke   = errors.New("simulation failed")
	ErrExtract  = errors.New("result extraction failed")
)

// Phase names one step of a trial.
type Phase string

const (
	PhaseSample    Phase = "sample"
	PhaseOverwrite Phase = "overwrite"
	PhaseInvoke    Phase = "invoke"
	PhaseExtract   Phase = "extract"
	PhaseRecord    Phase = "record"
)

// Phases lists trial phases in execution order.
var Phases = []Phase{PhaseSample, PhaseOverwrite, PhaseInvoke, PhaseExtract, PhaseRecord}

// TrialError reports the trial and phase a run failed in.
type TrialError struct {
	Index int
	Phase Phase
	Err   error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("trial %d: %s: %v", e.Index, e.Phase, e.Err)
}

func (e *TrialError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
