package backend

import (
	"errors"
	"sort"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/lifecycle"
	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/registry"
	"github.com/goliatone/go-runcore/workflow"
)

// Session is what a workflow factory needs to monitor one launched run.
type Session struct {
	Run       *model.Run
	Ref       model.RunRef
	Machine   *lifecycle.Machine
	Store     model.RunStore
	Framework Framework
	Execution Execution
	Sink      ArtifactSink
	Logger    runcore.Logger
}

// WorkflowFactory builds the workflows a poller drives for a run. Factories
// are keyed runtime+action.
type WorkflowFactory interface {
	registry.Keyed
	Workflows(s *Session) ([]*workflow.Workflow, error)
}

// Set groups the strategies contributed by one runtime or platform.
type Set struct {
	Builders   []Builder
	Runners    []Runner
	Runtimes   []Runtime
	Frameworks []Framework
	Workflows  []WorkflowFactory
}

// Strategies holds every registry. It is immutable once built.
type Strategies struct {
	Builders   *registry.Registry[Builder]
	Runners    *registry.Registry[Runner]
	Runtimes   *registry.Registry[Runtime]
	Frameworks *registry.Registry[Framework]
	Workflows  *registry.Registry[WorkflowFactory]
}

// NewStrategies merges sets into registries. A runtime with builders or
// runners but no explicit Runtime gets a Facade over them. Missing and
// duplicate keys fail construction.
func NewStrategies(sets ...Set) (*Strategies, error) {
	var merged Set
	for _, s := range sets {
		merged.Builders = append(merged.Builders, s.Builders...)
		merged.Runners = append(merged.Runners, s.Runners...)
		merged.Runtimes = append(merged.Runtimes, s.Runtimes...)
		merged.Frameworks = append(merged.Frameworks, s.Frameworks...)
		merged.Workflows = append(merged.Workflows, s.Workflows...)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	st := &Strategies{}
	var err error
	st.Builders, err = registry.FromKeyed("builder", merged.Builders...)
	collect(err)
	st.Runners, err = registry.FromKeyed("runner", merged.Runners...)
	collect(err)
	st.Frameworks, err = registry.FromKeyed("framework", merged.Frameworks...)
	collect(err)
	st.Workflows, err = registry.FromKeyed("workflow", merged.Workflows...)
	collect(err)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	runtimes := append([]Runtime(nil), merged.Runtimes...)
	explicit := make(map[string]bool, len(runtimes))
	for _, rt := range runtimes {
		explicit[rt.Key().Scope] = true
	}
	for _, scope := range scopes(st.Builders.Keys(), st.Runners.Keys()) {
		if explicit[scope] {
			continue
		}
		runtimes = append(runtimes, NewFacade(scope, st.Builders.ResolveAll(scope), st.Runners.ResolveAll(scope)))
	}
	st.Runtimes, err = registry.FromKeyed("runtime", runtimes...)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Runtime resolves the runtime facade by name.
func (s *Strategies) Runtime(name string) (Runtime, error) {
	return s.Runtimes.Resolve(registry.NewKey(name, ""))
}

// Framework resolves the framework for platform+action.
func (s *Strategies) Framework(platform, action string) (Framework, error) {
	return s.Frameworks.ResolveParts(platform, action)
}

// Workflow resolves the workflow factory for runtime+action.
func (s *Strategies) Workflow(runtime, action string) (WorkflowFactory, error) {
	return s.Workflows.ResolveParts(runtime, action)
}

func scopes(keys ...[]registry.Key) []string {
	seen := make(map[string]struct{})
	for _, list := range keys {
		for _, k := range list {
			seen[k.Scope] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for scope := range seen {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}
