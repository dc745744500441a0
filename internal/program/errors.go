package program

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownScenario        = errors.New("unknown scenario")
	ErrEmptyScenarioSteps     = errors.New("scenario has no steps")
	ErrNonPositiveRepeatCount = errors.New("repeat day count must be positive")
	ErrTimeEndMismatch        = errors.New("declared time_end does not match derived time_end")
	ErrEmptyDefinition        = errors.New("schedule has no scenarios")
	ErrStepOrder              = errors.New("scenario steps out of order")
	ErrSectorMismatch         = errors.New("step sector count does not match chamber")
	ErrTimeEndOverflow        = errors.New("schedule ends beyond representable time")
)

// CompileError reports why a Definition could not be compiled. Slot is the
// index into Definition.ScheduleScenarios, or -1 when the failure is not tied
// to one placement.
type CompileError struct {
	Err    error
	Slot   int
	Detail string
}

func (e *CompileError) Error() string {
	if e.Slot >= 0 {
		return fmt.Sprintf("compile schedule: slot %d: %v: %s", e.Slot, e.Err, e.Detail)
	}
	return fmt.Sprintf("compile schedule: %v: %s", e.Err, e.Detail)
}

func (e *CompileError) Unwrap() error { return e.Err }

func compileErr(err error, slot int, format string, args ...any) *CompileError {
	return &CompileError{Err: err, Slot: slot, Detail: fmt.Sprintf(format, args...)}
}
