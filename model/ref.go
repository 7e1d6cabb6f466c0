package model

import (
	"fmt"
	"regexp"
)

var (
	taskRefPattern = regexp.MustCompile(`^([A-Za-z0-9_\-]+)://([^/\s]+)/([^:/\s]+):([^\s]+)$`)
	runRefPattern  = regexp.MustCompile(`^([A-Za-z0-9_\-]+)\+([A-Za-z0-9_\-]+)://([^/\s]+)/([^:/\s]+):([^\s]+)$`)
)

// TaskRef addresses a function for a runtime: {runtime}://{project}/{name}:{version}.
type TaskRef struct {
	Runtime string
	Project string
	Name    string
	Version string
}

func (r TaskRef) String() string {
	return fmt.Sprintf("%s://%s/%s:%s", r.Runtime, r.Project, r.Name, r.Version)
}

// RunRef addresses a task action: {runtime}+{action}://{project}/{name}:{version}.
type RunRef struct {
	Runtime string
	Action  string
	Project string
	Name    string
	Version string
}

func (r RunRef) String() string {
	return fmt.Sprintf("%s+%s://%s/%s:%s", r.Runtime, r.Action, r.Project, r.Name, r.Version)
}

// Function returns the reference of the function the run executes.
func (r RunRef) Function() TaskRef {
	return TaskRef{Runtime: r.Runtime, Project: r.Project, Name: r.Name, Version: r.Version}
}

// ParseTaskRef parses a task reference.
func ParseTaskRef(raw string) (TaskRef, error) {
	m := taskRefPattern.FindStringSubmatch(raw)
	if m == nil {
		return TaskRef{}, malformed("task", raw, "{runtime}://{project}/{name}:{version}")
	}
	return TaskRef{Runtime: m[1], Project: m[2], Name: m[3], Version: m[4]}, nil
}

// ParseRunRef parses a run reference.
func ParseRunRef(raw string) (RunRef, error) {
	m := runRefPattern.FindStringSubmatch(raw)
	if m == nil {
		return RunRef{}, malformed("run", raw, "{runtime}+{action}://{project}/{name}:{version}")
	}
	return RunRef{Runtime: m[1], Action: m[2], Project: m[3], Name: m[4], Version: m[5]}, nil
}

func malformed(kind, raw, grammar string) error {
	e := ErrRefMalformed.Clone()
	e.Message = fmt.Sprintf("malformed %s reference %q, expected %s", kind, raw, grammar)
	return e.WithMetadata(map[string]any{"reference": raw, "kind": kind})
}
