package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-runcore/model"
)

// Memory is an in-process store. Values are cloned on the way in and out so
// callers never share maps with the store.
type Memory struct {
	mu        sync.RWMutex
	runs      map[string]*model.Run
	functions map[string]*model.Function
	tasks     map[string]*model.Task
	now       func() time.Time
}

var _ model.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		runs:      make(map[string]*model.Run),
		functions: make(map[string]*model.Function),
		tasks:     make(map[string]*model.Task),
		now:       time.Now,
	}
}

func (m *Memory) GetRun(_ context.Context, id string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, model.NotFound("run", id)
	}
	return run.Clone(), nil
}

func (m *Memory) Save(_ context.Context, run *model.Run) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := prepareRun(run, m.now())
	if existing, ok := m.runs[stored.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	m.runs[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *Memory) UpdateRun(_ context.Context, run *model.Run, id string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.runs[id]
	if !ok {
		return nil, model.NotFound("run", id)
	}
	stored := run.Clone()
	stored.ID = id
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = m.now().UTC()
	m.runs[id] = stored
	return stored.Clone(), nil
}

func (m *Memory) GetFunction(_ context.Context, project, name, version string) (*model.Function, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := functionKey(project, name, version)
	fn, ok := m.functions[key]
	if !ok {
		return nil, model.NotFound("function", key)
	}
	cp := *fn
	cp.Spec = model.CloneMap(fn.Spec)
	return &cp, nil
}

func (m *Memory) SaveFunction(_ context.Context, fn *model.Function) (*model.Function, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *fn
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Spec = model.CloneMap(fn.Spec)
	m.functions[functionKey(cp.Project, cp.Name, cp.Version)] = &cp
	out := cp
	out.Spec = model.CloneMap(cp.Spec)
	return &out, nil
}

func (m *Memory) FindTask(_ context.Context, function, kind string) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := taskKey(function, kind)
	task, ok := m.tasks[key]
	if !ok {
		return nil, model.NotFound("task", key)
	}
	cp := *task
	cp.Spec = model.CloneMap(task.Spec)
	return &cp, nil
}

func (m *Memory) SaveTask(_ context.Context, task *model.Task) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Spec = model.CloneMap(task.Spec)
	m.tasks[taskKey(cp.Function, cp.Kind)] = &cp
	out := cp
	out.Spec = model.CloneMap(cp.Spec)
	return &out, nil
}

func (m *Memory) Close() error {
	return nil
}

func prepareRun(run *model.Run, now time.Time) *model.Run {
	stored := run.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.State == "" {
		stored.State = model.StateCreated
	}
	now = now.UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	return stored
}

func functionKey(project, name, version string) string {
	return project + "/" + name + ":" + version
}

func taskKey(function, kind string) string {
	return function + "|" + kind
}
