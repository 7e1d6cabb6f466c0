package model

import (
	"errors"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeRefMalformed = "REF_MALFORMED"
	ErrCodeNotFound     = "STORE_NOT_FOUND"
)

var (
	// ErrRefMalformed is returned for task or run references that do not match
	// their grammar. References are never partially parsed.
	ErrRefMalformed = apperrors.New("malformed reference", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeRefMalformed)
	ErrNotFound = apperrors.New("entity not found", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeNotFound)
)

// NotFound builds a not found error for an entity kind and identifier.
func NotFound(entity, id string) error {
	e := ErrNotFound.Clone()
	e.Message = entity + " " + id + " not found"
	return e.WithMetadata(map[string]any{"entity": entity, "id": id})
}

// IsNotFound reports whether err is a store miss.
func IsNotFound(err error) bool {
	var ge *apperrors.Error
	return errors.As(err, &ge) && ge.TextCode == ErrCodeNotFound
}
