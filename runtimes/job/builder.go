package job

import (
	"context"
	"maps"

	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/registry"
	"github.com/goliatone/go-runcore/spec"
)

// Builder merges function, task and draft run specs. Later layers win:
// function, then task, then the run draft.
type Builder struct {
	specs *spec.Registry
}

var _ backend.Builder = (*Builder)(nil)

func NewBuilder(specs *spec.Registry) *Builder {
	return &Builder{specs: specs}
}

func (b *Builder) Key() registry.Key {
	return registry.NewKey(Runtime, ActionPerform)
}

func (b *Builder) Build(_ context.Context, fn *model.Function, task *model.Task, run *model.Run) (map[string]any, error) {
	if fn == nil {
		return nil, jobError(ErrBuildInvalid, map[string]any{"run_id": run.ID},
			"job builder: run %s has no function", run.ID)
	}

	fs, err := create[*FunctionSpec](b.specs, Runtime, "", spec.CategoryFunction, fn.Spec)
	if err != nil {
		return nil, err
	}
	ts := &TaskSpec{}
	if task != nil {
		if ts, err = create[*TaskSpec](b.specs, ActionPerform, Runtime, spec.CategoryTask, task.Spec); err != nil {
			return nil, err
		}
	}
	draft, err := create[*RunSpec](b.specs, Runtime, "", spec.CategoryRun, run.Spec)
	if err != nil {
		return nil, err
	}

	out := &RunSpec{
		Image:      fs.Image,
		Command:    fs.Command,
		Args:       fs.Args,
		Env:        mergeEnv(fs.Env, ts.Env, draft.Env),
		WorkingDir: fs.WorkingDir,
		Labels:     draft.Labels,
	}
	if len(ts.Args) > 0 {
		out.Args = ts.Args
	}
	out.BackoffLimit = ts.BackoffLimit
	out.TimeoutSeconds = ts.TimeoutSeconds

	if draft.Image != "" {
		out.Image = draft.Image
	}
	if len(draft.Command) > 0 {
		out.Command = draft.Command
	}
	if len(draft.Args) > 0 {
		out.Args = draft.Args
	}
	if draft.WorkingDir != "" {
		out.WorkingDir = draft.WorkingDir
	}
	if draft.BackoffLimit > 0 {
		out.BackoffLimit = draft.BackoffLimit
	}
	if draft.TimeoutSeconds > 0 {
		out.TimeoutSeconds = draft.TimeoutSeconds
	}

	extra := make(map[string]any)
	maps.Copy(extra, fs.ExtraFields())
	maps.Copy(extra, ts.ExtraFields())
	maps.Copy(extra, draft.ExtraFields())
	if len(extra) > 0 {
		out.SetExtraFields(extra)
	}

	if out.Image == "" {
		return nil, jobError(ErrBuildInvalid, map[string]any{"run_id": run.ID, "function": fn.Name},
			"job builder: function %s/%s:%s declares no image", fn.Project, fn.Name, fn.Version)
	}
	return spec.ToMap(out)
}

func create[T spec.Spec](specs *spec.Registry, kind, runtime string, category spec.Category, raw map[string]any) (T, error) {
	var zero T
	s, err := specs.Create(kind, runtime, category, raw)
	if err != nil {
		return zero, err
	}
	typed, ok := s.(T)
	if !ok {
		return zero, jobError(ErrSpecMismatch, map[string]any{"kind": kind, "category": string(category)},
			"job: %s spec %q is %T, want %T", category, kind, s, zero)
	}
	return typed, nil
}

func mergeEnv(layers ...map[string]string) map[string]string {
	var out map[string]string
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		maps.Copy(out, layer)
	}
	return out
}
