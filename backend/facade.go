package backend

import (
	"context"

	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/registry"
)

// Facade is a Runtime assembled from the builders and runners registered
// under one runtime name.
type Facade struct {
	runtime  string
	builders map[string]Builder
	runners  map[string]Runner
}

var _ Runtime = (*Facade)(nil)

func NewFacade(runtime string, builders map[string]Builder, runners map[string]Runner) *Facade {
	return &Facade{runtime: runtime, builders: builders, runners: runners}
}

func (f *Facade) Key() registry.Key {
	return registry.NewKey(f.runtime, "")
}

// Actions lists the task actions with a builder.
func (f *Facade) Actions() []string {
	out := make([]string, 0, len(f.builders))
	for action := range f.builders {
		out = append(out, action)
	}
	return out
}

func (f *Facade) Build(ctx context.Context, fn *model.Function, task *model.Task, run *model.Run) (map[string]any, error) {
	ref, err := run.Ref()
	if err != nil {
		return nil, err
	}
	b, ok := f.builders[ref.Action]
	if !ok {
		return nil, f.missing("builder", ref.Action)
	}
	return b.Build(ctx, fn, task, run)
}

func (f *Facade) Run(ctx context.Context, run *model.Run) (*Runnable, error) {
	ref, err := run.Ref()
	if err != nil {
		return nil, err
	}
	r, ok := f.runners[ref.Action]
	if !ok {
		return nil, f.missing("runner", ref.Action)
	}
	return r.Run(ctx, run)
}

func (f *Facade) missing(role, action string) error {
	return registry.NotFound(role, registry.NewKey(f.runtime, action))
}
