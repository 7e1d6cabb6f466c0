package job

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/registry"
	"github.com/goliatone/go-runcore/spec"
)

// Label keys attached to every launched job.
const (
	LabelRunID   = "runcore.run-id"
	LabelProject = "runcore.project"
)

// Runner turns a built job run into a runnable.
type Runner struct {
	specs *spec.Registry
}

var _ backend.Runner = (*Runner)(nil)

func NewRunner(specs *spec.Registry) *Runner {
	return &Runner{specs: specs}
}

func (r *Runner) Key() registry.Key {
	return registry.NewKey(Runtime, ActionPerform)
}

func (r *Runner) Run(_ context.Context, run *model.Run) (*backend.Runnable, error) {
	rs, err := create[*RunSpec](r.specs, Runtime, "", spec.CategoryRun, run.Spec)
	if err != nil {
		return nil, err
	}
	if rs.Image == "" {
		return nil, fmt.Errorf("job runner: run %s has no image, was it built?", run.ID)
	}

	labels := map[string]string{LabelRunID: run.ID, LabelProject: run.Project}
	maps.Copy(labels, rs.Labels)

	return &backend.Runnable{
		RunID:        run.ID,
		Runtime:      Runtime,
		Action:       FrameworkAction,
		Image:        rs.Image,
		Command:      rs.Command,
		Args:         rs.Args,
		Env:          rs.Env,
		WorkingDir:   rs.WorkingDir,
		Labels:       labels,
		BackoffLimit: rs.BackoffLimit,
		Timeout:      time.Duration(rs.TimeoutSeconds) * time.Second,
	}, nil
}
