package job

import (
	"github.com/goliatone/go-runcore/spec"
)

const (
	// Runtime is the runtime name used in task and run references.
	Runtime = "job"
	// ActionPerform runs the function as a batch job.
	ActionPerform = "perform"
	// FrameworkAction is the action frameworks register for batch jobs.
	FrameworkAction = "job"
)

// FunctionSpec is the job configuration of a function.
type FunctionSpec struct {
	spec.Open  `yaml:"-"`
	Image      string            `yaml:"image"`
	Command    []string          `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"working_dir"`
}

// TaskSpec tunes how the function is executed by a perform task.
type TaskSpec struct {
	spec.Open      `yaml:"-"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	BackoffLimit   int               `yaml:"backoff_limit"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// RunSpec is the final, launchable configuration of a job run.
type RunSpec struct {
	spec.Open      `yaml:"-"`
	Image          string            `yaml:"image"`
	Command        []string          `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	WorkingDir     string            `yaml:"working_dir"`
	Labels         map[string]string `yaml:"labels"`
	BackoffLimit   int               `yaml:"backoff_limit"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// SpecEntries registers the job spec types.
func SpecEntries() []spec.Entry {
	return []spec.Entry{
		{Kind: Runtime, Category: spec.CategoryFunction, New: func() spec.Spec { return &FunctionSpec{} }},
		{Kind: ActionPerform, Runtime: Runtime, Category: spec.CategoryTask, New: func() spec.Spec { return &TaskSpec{} }},
		{Kind: Runtime, Category: spec.CategoryRun, New: func() spec.Spec { return &RunSpec{} }},
	}
}
