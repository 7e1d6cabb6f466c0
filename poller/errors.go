package poller

import (
	"errors"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInactive = "POLLER_INACTIVE"
	ErrCodeNotFound = "POLLER_NOT_FOUND"
)

var (
	// ErrInactive is returned when starting a poller that has been stopped.
	// Stopped pollers cannot be reactivated.
	ErrInactive = apperrors.New("poller is inactive", apperrors.CategoryConflict).
			WithTextCode(ErrCodeInactive)
	ErrNotFound = apperrors.New("poller not found", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeNotFound)
)

func inactive(name string) error {
	return ErrInactive.Clone().WithMetadata(map[string]any{"poller": name})
}

// NotFound reports a lookup miss for the named poller.
func NotFound(name string) error {
	e := ErrNotFound.Clone()
	e.Message = "poller " + name + " not found"
	return e.WithMetadata(map[string]any{"poller": name})
}

// IsNotFound reports whether err is a poller lookup miss.
func IsNotFound(err error) bool {
	var ge *apperrors.Error
	return errors.As(err, &ge) && ge.TextCode == ErrCodeNotFound
}
