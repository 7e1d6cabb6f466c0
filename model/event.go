package model

import (
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

// RunCreated announces a persisted run that the orchestrator should pick up.
type RunCreated struct {
	RunID string `json:"run_id"`
	// Task is the run reference, carried so subscribers can route by
	// runtime+action without a store lookup.
	Task string `json:"task,omitempty"`
}

func (RunCreated) Type() string { return "run.created" }

func (e RunCreated) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return apperrors.New("run created event requires a run id", apperrors.CategoryValidation).
			WithTextCode("RUN_ID_REQUIRED")
	}
	if e.Task != "" {
		if _, err := ParseRunRef(e.Task); err != nil {
			return err
		}
	}
	return nil
}

// RunStopped asks the orchestrator to stop monitoring a run.
type RunStopped struct {
	RunID string `json:"run_id"`
}

func (RunStopped) Type() string { return "run.stopped" }

func (e RunStopped) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return apperrors.New("run stopped event requires a run id", apperrors.CategoryValidation).
			WithTextCode("RUN_ID_REQUIRED")
	}
	return nil
}
