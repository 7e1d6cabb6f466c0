package spec

import (
	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeKindNotFound = "SPEC_KIND_NOT_FOUND"
	ErrCodeDecodeFailed = "SPEC_DECODE_FAILED"
)

var (
	// ErrKindNotFound is a configuration error: no spec type is registered for
	// the requested kind.
	ErrKindNotFound = apperrors.New("spec kind not found", apperrors.CategoryInternal).
			WithTextCode(ErrCodeKindNotFound)
	ErrDecodeFailed = apperrors.New("spec decode failed", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeDecodeFailed)
)

func specError(base *apperrors.Error, message string, source error, metadata map[string]any) error {
	e := base.Clone()
	e.Message = message
	if source != nil {
		e.Source = source
	}
	return e.WithMetadata(metadata)
}
