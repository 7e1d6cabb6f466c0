package local

import (
	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInvalidRunnable   = "LOCAL_INVALID_RUNNABLE"
	ErrCodeExecutionNotFound = "LOCAL_EXECUTION_NOT_FOUND"
)

var (
	ErrInvalidRunnable = apperrors.New("local: runnable has no image", apperrors.CategoryBadInput).
		WithTextCode(ErrCodeInvalidRunnable)
	ErrExecutionNotFound = apperrors.New("local: execution not found", apperrors.CategoryNotFound).
		WithTextCode(ErrCodeExecutionNotFound)
)

func notFound(id string) error {
	e := ErrExecutionNotFound.Clone()
	e.Message = "local: execution " + id + " not found"
	return e.WithMetadata(map[string]any{"execution_id": id})
}
