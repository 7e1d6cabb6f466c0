package job

import (
	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/spec"
)

// Register returns the job runtime strategies. specs must contain SpecEntries.
func Register(specs *spec.Registry) backend.Set {
	return backend.Set{
		Builders:  []backend.Builder{NewBuilder(specs)},
		Runners:   []backend.Runner{NewRunner(specs)},
		Workflows: []backend.WorkflowFactory{Monitor{}},
	}
}
