package orchestrator

import (
	"fmt"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeBuildFailed   = "RUN_BUILD_FAILED"
	ErrCodeLaunchFailed  = "RUN_LAUNCH_FAILED"
	ErrCodeMonitorFailed = "RUN_MONITOR_FAILED"
	ErrCodeInvalidRun    = "RUN_INVALID"
	ErrCodeConfigInvalid = "ORCHESTRATOR_CONFIG_INVALID"
)

var (
	ErrBuildFailed = apperrors.New("run build failed", apperrors.CategoryInternal).
		WithTextCode(ErrCodeBuildFailed)
	ErrLaunchFailed = apperrors.New("run launch failed", apperrors.CategoryExternal).
		WithTextCode(ErrCodeLaunchFailed)
	ErrMonitorFailed = apperrors.New("run monitor could not start", apperrors.CategoryInternal).
		WithTextCode(ErrCodeMonitorFailed)
	ErrInvalidRun = apperrors.New("orchestrator: nil run", apperrors.CategoryBadInput).
		WithTextCode(ErrCodeInvalidRun)
	ErrConfigInvalid = apperrors.New("orchestrator: invalid configuration", apperrors.CategoryBadInput).
		WithTextCode(ErrCodeConfigInvalid)
)

func configError(reason string) error {
	e := ErrConfigInvalid.Clone()
	e.Message = "orchestrator: " + reason
	return e
}

func stageError(base *apperrors.Error, runID, stage string, cause error) error {
	e := base.Clone()
	e.Message = fmt.Sprintf("%s: run %s: %s: %v", base.Message, runID, stage, cause)
	e.Source = cause
	return e.WithMetadata(map[string]any{"run_id": runID, "stage": stage})
}
