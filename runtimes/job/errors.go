package job

import (
	"fmt"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeBuildInvalid = "JOB_BUILD_INVALID"
	ErrCodeSpecMismatch = "JOB_SPEC_MISMATCH"
)

var (
	// ErrBuildInvalid reports a run that cannot be turned into a job spec.
	ErrBuildInvalid = apperrors.New("job build invalid", apperrors.CategoryBadInput).
		WithTextCode(ErrCodeBuildInvalid)
	ErrSpecMismatch = apperrors.New("job spec type mismatch", apperrors.CategoryInternal).
		WithTextCode(ErrCodeSpecMismatch)
)

func jobError(base *apperrors.Error, metadata map[string]any, format string, args ...any) error {
	e := base.Clone()
	e.Message = fmt.Sprintf(format, args...)
	return e.WithMetadata(metadata)
}
