package workflow

import (
	"context"
	"fmt"

	"github.com/goliatone/go-runcore"
)

// Step is one stage of a workflow. Its output becomes the next step's input.
type Step func(ctx context.Context, in any) (any, error)

// Predicate gates a conditional step.
type Predicate func(ctx context.Context, in any) bool

type namedStep struct {
	name string
	fn   Step
}

// Workflow is an immutable, ordered pipeline of steps.
type Workflow struct {
	name  string
	steps []namedStep
}

// Name returns the workflow name.
func (w *Workflow) Name() string {
	if w == nil {
		return ""
	}
	return w.name
}

// Len returns the number of steps.
func (w *Workflow) Len() int {
	if w == nil {
		return 0
	}
	return len(w.steps)
}

// Execute folds in through every step in order on the calling goroutine.
// The first failing step ends the fold and its error is returned. A stop
// signal is returned unwrapped so OutcomeOf can classify it.
func (w *Workflow) Execute(ctx context.Context, in any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	current := in
	for i, step := range w.steps {
		out, err := w.invoke(ctx, i, step, current)
		if err != nil {
			return out, err
		}
		current = out
	}
	return current, nil
}

// ExecuteAsync runs each step as a continuation of the previous one on exec.
// The returned future completes after the last step, or with the first error.
func (w *Workflow) ExecuteAsync(ctx context.Context, in any, exec Executor) *Future[any] {
	if ctx == nil {
		ctx = context.Background()
	}
	future := Resolved[any](in, nil)
	for i, step := range w.steps {
		i, step := i, step
		future = Then(future, exec, func(current any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return w.invoke(ctx, i, step, current)
		})
	}
	return future
}

func (w *Workflow) invoke(ctx context.Context, index int, step namedStep, in any) (out any, err error) {
	defer runcore.RecoverPanic(fmt.Sprintf("workflow %s step %s", w.name, step.name), &err, nil)

	out, err = step.fn(ctx, in)
	if err == nil {
		return out, nil
	}
	if _, ok := AsStop(err); ok {
		return out, err
	}
	wrapped := ErrStepFailed.Clone()
	wrapped.Message = fmt.Sprintf("workflow %s step %s failed: %v", w.name, step.name, err)
	wrapped.Source = err
	return out, wrapped.WithMetadata(map[string]any{
		"workflow": w.name,
		"step":     step.name,
		"index":    index,
	})
}

// Builder assembles a Workflow.
type Builder struct {
	name  string
	steps []namedStep
}

// NewBuilder starts a workflow named name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Then appends a step that receives the running input.
func (b *Builder) Then(name string, step Step) *Builder {
	if step == nil {
		return b
	}
	b.steps = append(b.steps, namedStep{name: b.stepName(name), fn: step})
	return b
}

// ThenWith appends a step bound to arg; the running input is ignored.
func ThenWith[A any](b *Builder, name string, arg A, fn func(ctx context.Context, arg A) (any, error)) *Builder {
	return b.Then(name, func(ctx context.Context, _ any) (any, error) {
		return fn(ctx, arg)
	})
}

// ThenVariadic appends a step bound to a fixed argument list; the running input is ignored.
func (b *Builder) ThenVariadic(name string, fn func(ctx context.Context, args ...any) (any, error), args ...any) *Builder {
	bound := append([]any(nil), args...)
	return b.Then(name, func(ctx context.Context, _ any) (any, error) {
		return fn(ctx, bound...)
	})
}

// ThenIf appends a step that only runs when pred accepts the running input;
// otherwise the input passes through unchanged.
func (b *Builder) ThenIf(name string, pred Predicate, step Step) *Builder {
	if step == nil {
		return b
	}
	return b.Then(name, func(ctx context.Context, in any) (any, error) {
		if pred != nil && !pred(ctx, in) {
			return in, nil
		}
		return step(ctx, in)
	})
}

// Build returns the workflow. Later builder calls do not affect it.
func (b *Builder) Build() *Workflow {
	return &Workflow{
		name:  b.name,
		steps: append([]namedStep(nil), b.steps...),
	}
}

func (b *Builder) stepName(name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("step-%d", len(b.steps)+1)
}

// Of builds an anonymous workflow from steps.
func Of(name string, steps ...Step) *Workflow {
	b := NewBuilder(name)
	for _, s := range steps {
		b.Then("", s)
	}
	return b.Build()
}
