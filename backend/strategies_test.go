package backend

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/registry"
	"github.com/goliatone/go-runcore/workflow"
)

type stubBuilder struct{ key registry.Key }

func (b stubBuilder) Key() registry.Key { return b.key }
func (b stubBuilder) Build(_ context.Context, _ *model.Function, _ *model.Task, _ *model.Run) (map[string]any, error) {
	return map[string]any{"built_by": b.key.String()}, nil
}

type stubRunner struct{ key registry.Key }

func (r stubRunner) Key() registry.Key { return r.key }
func (r stubRunner) Run(_ context.Context, run *model.Run) (*Runnable, error) {
	return &Runnable{RunID: run.ID, Runtime: r.key.Scope, Action: "job"}, nil
}

type stubFramework struct{ key registry.Key }

func (f stubFramework) Key() registry.Key { return f.key }
func (f stubFramework) Execute(context.Context, *Runnable) (Execution, error) {
	return Execution{ID: "x", Framework: f.key.String()}, nil
}
func (f stubFramework) Inspect(context.Context, Execution) (Observation, error) {
	return Observation{Status: StatusSucceeded}, nil
}

type stubWorkflows struct{ key registry.Key }

func (w stubWorkflows) Key() registry.Key { return w.key }
func (w stubWorkflows) Workflows(*Session) ([]*workflow.Workflow, error) { return nil, nil }

func code(err error) string {
	var ge *apperrors.Error
	if errors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func TestStrategiesBuildFacadePerRuntime(t *testing.T) {
	st, err := NewStrategies(
		Set{
			Builders: []Builder{stubBuilder{registry.NewKey("job", "perform")}, stubBuilder{registry.NewKey("job", "build")}},
			Runners:  []Runner{stubRunner{registry.NewKey("job", "perform")}},
		},
		Set{Frameworks: []Framework{stubFramework{registry.NewKey("local", "job")}}},
	)
	require.NoError(t, err)

	rt, err := st.Runtime("job")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"perform", "build"}, rt.(*Facade).Actions())

	run := &model.Run{ID: "r1", Task: "job+perform://proj/fn:1"}
	built, err := rt.Build(context.Background(), nil, nil, run)
	require.NoError(t, err)
	assert.Equal(t, "job+perform", built["built_by"])

	unit, err := rt.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "r1", unit.RunID)

	_, err = rt.Run(context.Background(), &model.Run{Task: "job+build://proj/fn:1"})
	assert.Equal(t, registry.ErrCodeNotFound, code(err))

	_, err = rt.Build(context.Background(), nil, nil, &model.Run{Task: "broken"})
	assert.Equal(t, model.ErrCodeRefMalformed, code(err))

	fw, err := st.Framework("local", "job")
	require.NoError(t, err)
	assert.Equal(t, registry.NewKey("local", "job"), fw.Key())
}

func TestStrategiesMissIsExplicit(t *testing.T) {
	st, err := NewStrategies()
	require.NoError(t, err)

	_, err = st.Runtime("spark")
	assert.Equal(t, registry.ErrCodeNotFound, code(err))
	_, err = st.Framework("docker", "job")
	assert.Equal(t, registry.ErrCodeNotFound, code(err))
	_, err = st.Workflow("job", "perform")
	assert.Equal(t, registry.ErrCodeNotFound, code(err))
}

func TestStrategiesRejectDuplicatesAcrossSets(t *testing.T) {
	_, err := NewStrategies(
		Set{Workflows: []WorkflowFactory{stubWorkflows{registry.NewKey("job", "perform")}}},
		Set{Workflows: []WorkflowFactory{stubWorkflows{registry.NewKey("job", "perform")}}},
	)
	require.Error(t, err)
	assert.Equal(t, registry.ErrCodeDuplicateKey, code(err))

	_, err = NewStrategies(Set{Runners: []Runner{stubRunner{}}})
	assert.Equal(t, registry.ErrCodeKeyMissing, code(err))
}

func TestExplicitRuntimeWinsOverFacade(t *testing.T) {
	custom := NewFacade("job", nil, nil)
	st, err := NewStrategies(Set{
		Builders: []Builder{stubBuilder{registry.NewKey("job", "perform")}},
		Runtimes: []Runtime{custom},
	})
	require.NoError(t, err)

	rt, err := st.Runtime("job")
	require.NoError(t, err)
	assert.Same(t, custom, rt)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
