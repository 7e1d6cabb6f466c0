package model

import (
	"errors"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunRef(t *testing.T) {
	ref, err := ParseRunRef("job+perform://proj/fn:1")
	require.NoError(t, err)
	assert.Equal(t, RunRef{Runtime: "job", Action: "perform", Project: "proj", Name: "fn", Version: "1"}, ref)
	assert.Equal(t, "job+perform://proj/fn:1", ref.String())
	assert.Equal(t, "job://proj/fn:1", ref.Function().String())
}

func TestParseTaskRef(t *testing.T) {
	ref, err := ParseTaskRef("job://proj/fn:latest")
	require.NoError(t, err)
	assert.Equal(t, TaskRef{Runtime: "job", Project: "proj", Name: "fn", Version: "latest"}, ref)
}

func TestMalformedReferencesAreRejected(t *testing.T) {
	for _, raw := range []string{
		"",
		"job://proj/fn",
		"job+perform://proj/fn",
		"job://proj:1",
		"job perform://proj/fn:1",
		"://proj/fn:1",
	} {
		_, err := ParseRunRef(raw)
		require.Error(t, err, raw)

		var ge *apperrors.Error
		require.True(t, errors.As(err, &ge), raw)
		assert.Equal(t, ErrCodeRefMalformed, ge.TextCode)
	}

	_, err := ParseTaskRef("job+perform://proj/fn:1")
	assert.Error(t, err, "a run reference is not a task reference")
}

func TestRunCloneIsDeep(t *testing.T) {
	run := &Run{
		ID:    "r1",
		State: StateCreated,
		Spec:  map[string]any{"env": map[string]any{"A": "1"}, "args": []any{"x"}},
	}
	run.SetExtra(ExtraStatus, "pending")

	cp := run.Clone()
	cp.Spec["env"].(map[string]any)["A"] = "2"
	cp.Spec["args"].([]any)[0] = "y"
	cp.SetExtra(ExtraStatus, "running")

	assert.Equal(t, "1", run.Spec["env"].(map[string]any)["A"])
	assert.Equal(t, "x", run.Spec["args"].([]any)[0])
	assert.Equal(t, "pending", run.ExtraString(ExtraStatus))
	assert.Nil(t, (*Run)(nil).Clone())
}

func TestNotFound(t *testing.T) {
	err := NotFound("run", "r1")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "r1")
	assert.False(t, IsNotFound(errors.New("other")))
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateRunning.Terminal())
}
