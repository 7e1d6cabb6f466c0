package model

import "context"

// RunStore persists runs. Implementations must be read-after-write consistent
// for a single run id.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*Run, error)
	Save(ctx context.Context, run *Run) (*Run, error)
	UpdateRun(ctx context.Context, run *Run, id string) (*Run, error)
}

// FunctionStore resolves functions by reference fields.
type FunctionStore interface {
	GetFunction(ctx context.Context, project, name, version string) (*Function, error)
	SaveFunction(ctx context.Context, fn *Function) (*Function, error)
}

// TaskStore resolves the task of a given kind bound to a function reference.
type TaskStore interface {
	FindTask(ctx context.Context, function string, kind string) (*Task, error)
	SaveTask(ctx context.Context, task *Task) (*Task, error)
}

// Store bundles every collaborator.
type Store interface {
	RunStore
	FunctionStore
	TaskStore
	Close() error
}
