package wizard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingPrecondition = errors.New("a patient must be selected before this step can be submitted")
	ErrAtFirstStep         = errors.New("already at the first step")
	ErrStepMismatch        = errors.New("step is not the current step")
	ErrUnknownStep         = errors.New("unknown step")
	ErrEntryOutOfRange     = errors.New("draft entry index out of range")
	ErrNotReady            = errors.New("the last step has not been submitted yet")
	ErrFinalized           = errors.New("wizard is already complete")
	ErrPreconditionLocked  = errors.New("selection cannot change after the record was created")
	ErrNoFinalize          = errors.New("flow has no finalize step")
	ErrNotDraftStep        = errors.New("step does not hold draft entries")
	ErrInvalidFlow         = errors.New("invalid flow")
)

// ServiceError is a failure reported by a collaborator. Message is what the
// collaborator said, verbatim, and may be empty.
type ServiceError struct {
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return "service error"
}

func (e *ServiceError) Unwrap() error { return e.Err }

// StepError wraps a failed operation on a step.
type StepError struct {
	Step StepKey
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ServiceMessage returns the message a collaborator attached to err, or
// fallback when it attached none.
func ServiceMessage(err error, fallback string) string {
	var se *ServiceError
	if errors.As(err, &se) && strings.TrimSpace(se.Message) != "" {
		return se.Message
	}
	return fallback
}
