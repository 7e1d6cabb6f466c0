package runcore

import (
	"reflect"

	"github.com/goliatone/go-errors"
)

const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

var (
	// ErrInvalidMessage is returned for nil messages.
	ErrInvalidMessage = errors.New("nil message", errors.CategoryValidation).
				WithTextCode(ErrCodeInvalidMessage)

	// ErrValidation marks a message whose Validate method failed.
	ErrValidation = errors.New("message validation failed", errors.CategoryValidation).
			WithTextCode(ErrCodeValidationFailed)
)

// Message is implemented by every event and command routed through a
// dispatcher or a trigger.
type Message interface {
	Type() string
	Validate() error
}

// IsNilMessage reports whether msg is nil or a nil pointer.
func IsNilMessage(msg any) bool {
	if msg == nil {
		return true
	}
	v := reflect.ValueOf(msg)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// MessageHandler validates messages before a handler sees them.
type MessageHandler[T any] struct{}

func (h *MessageHandler[T]) ValidateMessage(msg T) error {
	if IsNilMessage(msg) {
		err := ErrInvalidMessage.Clone()
		err.Message = "nil message pointer"
		return err
	}

	m, ok := any(msg).(Message)
	if !ok {
		return nil
	}
	if cause := m.Validate(); cause != nil {
		err := ErrValidation.Clone()
		err.Message = "message validation failed: " + cause.Error()
		err.Source = cause
		return err.WithMetadata(map[string]any{"message_type": m.Type()})
	}
	return nil
}
