package registry

import (
	"fmt"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeKeyMissing   = "REGISTRY_KEY_MISSING"
	ErrCodeDuplicateKey = "REGISTRY_DUPLICATE_KEY"
	ErrCodeNotFound     = "REGISTRY_NOT_FOUND"
)

var (
	ErrKeyMissing = apperrors.New("strategy has no key", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeKeyMissing)
	ErrDuplicateKey = apperrors.New("duplicate strategy key", apperrors.CategoryConflict).
			WithTextCode(ErrCodeDuplicateKey)
	ErrNotFound = apperrors.New("strategy not found", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeNotFound)
)

func registryError(base *apperrors.Error, message string, metadata map[string]any) error {
	err := base.Clone()
	if message != "" {
		err.Message = message
	}
	return err.WithMetadata(metadata)
}

// NotFound builds the miss error a registry named name returns for key.
func NotFound(name string, key Key) error {
	return registryError(ErrNotFound,
		fmt.Sprintf("%s registry: no strategy for key %s", name, key),
		map[string]any{"registry": name, "key": key.String()},
	)
}
