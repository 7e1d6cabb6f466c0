package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-runcore/model"
)

// Definitions lists the functions and tasks a run can reference.
type Definitions struct {
	Functions []model.Function `yaml:"functions"`
	Tasks     []model.Task     `yaml:"tasks"`
}

// LoadDefinitions reads a definitions document.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions %s: %w", path, err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates a definitions document. Task
// function references must parse.
func ParseDefinitions(data []byte) (*Definitions, error) {
	defs := &Definitions{}
	if err := yaml.Unmarshal(data, defs); err != nil {
		return nil, err
	}
	for i, fn := range defs.Functions {
		if fn.Project == "" || fn.Name == "" || fn.Version == "" {
			return nil, fmt.Errorf("function %d: project, name and version are required", i)
		}
	}
	for i, task := range defs.Tasks {
		if _, err := model.ParseTaskRef(task.Function); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		if task.Kind == "" {
			return nil, fmt.Errorf("task %d: kind is required", i)
		}
	}
	return defs, nil
}

// Apply saves every definition into s.
func (d *Definitions) Apply(ctx context.Context, s model.Store) error {
	for i := range d.Functions {
		if _, err := s.SaveFunction(ctx, &d.Functions[i]); err != nil {
			return fmt.Errorf("save function %s: %w", d.Functions[i].Name, err)
		}
	}
	for i := range d.Tasks {
		if _, err := s.SaveTask(ctx, &d.Tasks[i]); err != nil {
			return fmt.Errorf("save task %s/%s: %w", d.Tasks[i].Function, d.Tasks[i].Kind, err)
		}
	}
	return nil
}
