package model

import "time"

// State is a Run lifecycle state.
type State string

const (
	StateCreated   State = "CREATED"
	StateBuilt     State = "BUILT"
	StateReady     State = "READY"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateError     State = "ERROR"
)

// Terminal reports whether no further lifecycle transition is expected.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Well-known keys of Run.Extra.
const (
	ExtraExecutionID = "execution_id"
	ExtraStatus      = "status"
	ExtraError       = "error"
	ExtraArtifacts   = "artifacts"
	ExtraStateAt     = "state_changed_at"
	// ExtraPreviousState names the build state a run left.
	ExtraPreviousState = "previous_state"
)

// Run is one execution of a task against a runtime.
type Run struct {
	ID        string         `json:"id" yaml:"id"`
	Project   string         `json:"project" yaml:"project"`
	Kind      string         `json:"kind" yaml:"kind"`
	Task      string         `json:"task" yaml:"task"`
	Spec      map[string]any `json:"spec" yaml:"spec"`
	State     State          `json:"state" yaml:"state"`
	Extra     map[string]any `json:"extra" yaml:"extra"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Ref parses the run's task reference.
func (r *Run) Ref() (RunRef, error) {
	return ParseRunRef(r.Task)
}

// SetExtra records a side-channel value.
func (r *Run) SetExtra(key string, value any) {
	if r.Extra == nil {
		r.Extra = make(map[string]any)
	}
	r.Extra[key] = value
}

// ExtraString returns a string side-channel value.
func (r *Run) ExtraString(key string) string {
	if r.Extra == nil {
		return ""
	}
	s, _ := r.Extra[key].(string)
	return s
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Spec = CloneMap(r.Spec)
	cp.Extra = CloneMap(r.Extra)
	return &cp
}

// Function is a versioned unit of work.
type Function struct {
	ID      string         `json:"id" yaml:"id"`
	Project string         `json:"project" yaml:"project"`
	Name    string         `json:"name" yaml:"name"`
	Version string         `json:"version" yaml:"version"`
	Kind    string         `json:"kind" yaml:"kind"`
	Spec    map[string]any `json:"spec" yaml:"spec"`
}

// Ref returns the function reference for runtime.
func (f *Function) Ref() TaskRef {
	return TaskRef{Runtime: f.Kind, Project: f.Project, Name: f.Name, Version: f.Version}
}

// Task is an execution configuration bound to one function.
type Task struct {
	ID       string         `json:"id" yaml:"id"`
	Project  string         `json:"project" yaml:"project"`
	Function string         `json:"function" yaml:"function"`
	Kind     string         `json:"kind" yaml:"kind"`
	Spec     map[string]any `json:"spec" yaml:"spec"`
}

// CloneMap deep copies nested maps and slices of a decoded document.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
