package runcore

import (
	"bytes"
	"errors"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startRun struct {
	ID string
}

func (startRun) Type() string { return "run.start" }

func (m startRun) Validate() error {
	if m.ID == "" {
		return errors.New("id is required")
	}
	return nil
}

func TestValidateMessage(t *testing.T) {
	h := &MessageHandler[startRun]{}
	require.NoError(t, h.ValidateMessage(startRun{ID: "r1"}))

	err := h.ValidateMessage(startRun{})
	require.Error(t, err)
	var ge *apperrors.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, ErrCodeValidationFailed, ge.TextCode)
	assert.Contains(t, err.Error(), "id is required")
}

func TestValidateNilPointerMessage(t *testing.T) {
	h := &MessageHandler[*startRun]{}
	err := h.ValidateMessage(nil)
	var ge *apperrors.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, ErrCodeInvalidMessage, ge.TextCode)

	assert.True(t, IsNilMessage(nil))
	assert.True(t, IsNilMessage((*startRun)(nil)))
	assert.False(t, IsNilMessage(startRun{}))
}

func TestRecoverPanicStoresError(t *testing.T) {
	var logged string
	run := func() (err error) {
		defer RecoverPanic("run", &err, func(funcName string, _ any, _ []byte, _ ...map[string]any) {
			logged = funcName
		})
		panic("boom")
	}

	err := run()
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Value)
	assert.Equal(t, "run", logged)
	assert.Contains(t, err.Error(), "panic in run")
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("store offline")
	err := WrapError("ContextError", "lookup failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ContextError: lookup failed: store offline", err.Error())
}

func TestFmtLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := WithLoggerFields(NewFmtLogger(&buf), map[string]any{"run": "r1", "attempt": 2})
	logger.Info("launched %s", "job")

	line := buf.String()
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "launched job attempt=2 run=r1")
	assert.NotNil(t, NormalizeLogger(nil))
}
