package fsm

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeStateNotFound        = "FSM_STATE_NOT_FOUND"
	ErrCodeErrorStateMissing    = "FSM_ERROR_STATE_MISSING"
	ErrCodeInvalidTransition    = "FSM_INVALID_TRANSITION"
	ErrCodeGuardRejected        = "FSM_GUARD_REJECTED"
	ErrCodeDuplicateTransition  = "FSM_DUPLICATE_TRANSITION"
	ErrCodeDuplicateState       = "FSM_DUPLICATE_STATE"
	ErrCodeActionFailed         = "FSM_ACTION_FAILED"
	ErrCodeContextNotCloneable  = "FSM_CONTEXT_NOT_CLONEABLE"
	ErrCodeInternalLogicFailure = "FSM_INTERNAL_LOGIC_FAILED"
)

var (
	// ErrStateNotFound marks a state with no definition: a configuration bug.
	ErrStateNotFound = apperrors.New("state not found", apperrors.CategoryInternal).
				WithTextCode(ErrCodeStateNotFound)
	// ErrErrorStateMissing is raised when an error path runs on a machine without an error state.
	ErrErrorStateMissing = apperrors.New("error state not configured", apperrors.CategoryInternal).
				WithTextCode(ErrCodeErrorStateMissing)
	ErrInvalidTransition = apperrors.New("invalid transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)
	ErrGuardRejected = apperrors.New("guard rejected", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeGuardRejected)
	ErrDuplicateTransition = apperrors.New("duplicate transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeDuplicateTransition)
	ErrDuplicateState = apperrors.New("duplicate state", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeDuplicateState)
	ErrActionFailed = apperrors.New("state action failed", apperrors.CategoryHandler).
			WithTextCode(ErrCodeActionFailed)
	ErrContextNotCloneable = apperrors.New("context does not implement Cloner", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeContextNotCloneable)
	ErrInternalLogicFailed = apperrors.New("state internal logic failed", apperrors.CategoryHandler).
				WithTextCode(ErrCodeInternalLogicFailure)
)

func cloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of a fsm error, or an empty string.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsConfigurationError reports errors that signal a broken machine definition.
func IsConfigurationError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeStateNotFound, ErrCodeErrorStateMissing, ErrCodeDuplicateState, ErrCodeDuplicateTransition:
		return true
	default:
		return false
	}
}
