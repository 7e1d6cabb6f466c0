package workflow

import (
	"errors"
	"fmt"

	apperrors "github.com/goliatone/go-errors"
)

// Outcome classifies how a step or workflow finished.
type Outcome int

const (
	// Continue means the workflow finished normally and its poller may reschedule.
	Continue Outcome = iota
	// Stop means a step asked its poller to halt; this is an expected termination.
	Stop
	// Fail means a step returned an unexpected error.
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const ErrCodeStepFailed = "WORKFLOW_STEP_FAILED"

// ErrStepFailed wraps step errors with the workflow and step position.
var ErrStepFailed = apperrors.New("workflow step failed", apperrors.CategoryHandler).
	WithTextCode(ErrCodeStepFailed)

// StopSignal is returned by a step that wants the owning poller to halt.
type StopSignal struct {
	Reason string
}

func (s *StopSignal) Error() string {
	if s.Reason == "" {
		return "stop polling"
	}
	return "stop polling: " + s.Reason
}

// StopPolling builds the signal a step returns to halt its poller.
func StopPolling(reason string) error {
	return &StopSignal{Reason: reason}
}

// AsStop returns the stop signal carried by err, if any.
func AsStop(err error) (*StopSignal, bool) {
	var sig *StopSignal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}

// OutcomeOf maps the error returned by a workflow to its outcome.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Continue
	}
	if _, ok := AsStop(err); ok {
		return Stop
	}
	return Fail
}
