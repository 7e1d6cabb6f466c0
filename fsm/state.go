package fsm

import (
	"context"
	"fmt"
)

// Guard decides whether a transition may fire for the given input and context.
type Guard[C any] func(input any, c C) bool

// Action is an entry or exit side effect of a state.
type Action[C any] func(ctx context.Context, c C) error

// InternalLogic runs after a state has been entered and may produce a result.
type InternalLogic[S comparable, E comparable, C any] func(ctx context.Context, input any, c C, m *Machine[S, E, C]) (any, error)

// EventListener is notified when a transition for its event commits.
type EventListener[C any] func(input any, c C)

// StateChangeListener is notified after the current state changes.
type StateChangeListener[S comparable, C any] func(state S, c C)

// Transition moves the machine to Next when Event is processed and Guard passes.
// Auto transitions are attempted right after their owning state is entered.
type Transition[S comparable, E comparable, C any] struct {
	Event E
	Next  S
	Guard Guard[C]
	Auto  bool
}

func (t Transition[S, E, C]) allows(input any, c C) bool {
	if t.Guard == nil {
		return true
	}
	return t.Guard(input, c)
}

// StateDefinition holds the behavior attached to one state.
type StateDefinition[S comparable, E comparable, C any] struct {
	entry       Action[C]
	exit        Action[C]
	internal    InternalLogic[S, E, C]
	transitions map[E]Transition[S, E, C]
	order       []E
	errs        []error
}

// NewState creates an empty state definition.
func NewState[S comparable, E comparable, C any]() *StateDefinition[S, E, C] {
	return &StateDefinition[S, E, C]{
		transitions: make(map[E]Transition[S, E, C]),
	}
}

// WithEntryAction sets the action run when the state is entered.
func (d *StateDefinition[S, E, C]) WithEntryAction(action Action[C]) *StateDefinition[S, E, C] {
	d.entry = action
	return d
}

// WithExitAction sets the action run when an event is processed from this state.
func (d *StateDefinition[S, E, C]) WithExitAction(action Action[C]) *StateDefinition[S, E, C] {
	d.exit = action
	return d
}

// WithInternalLogic sets the hook run after the state is entered.
func (d *StateDefinition[S, E, C]) WithInternalLogic(logic InternalLogic[S, E, C]) *StateDefinition[S, E, C] {
	d.internal = logic
	return d
}

// WithTransition registers a transition. A second transition for the same
// event is recorded as a definition error surfaced by Builder.Build.
func (d *StateDefinition[S, E, C]) WithTransition(t Transition[S, E, C]) *StateDefinition[S, E, C] {
	if _, exists := d.transitions[t.Event]; exists {
		d.errs = append(d.errs, cloneError(
			ErrDuplicateTransition,
			fmt.Sprintf("transition for event %v already registered", t.Event),
			nil,
			map[string]any{"event": fmt.Sprint(t.Event)},
		))
		return d
	}
	d.transitions[t.Event] = t
	d.order = append(d.order, t.Event)
	return d
}

// On is shorthand for WithTransition with a guard-less transition.
func (d *StateDefinition[S, E, C]) On(event E, next S) *StateDefinition[S, E, C] {
	return d.WithTransition(Transition[S, E, C]{Event: event, Next: next})
}

// Transition returns the transition registered for event.
func (d *StateDefinition[S, E, C]) Transition(event E) (Transition[S, E, C], bool) {
	t, ok := d.transitions[event]
	return t, ok
}

// Transitions returns the registered transitions in declaration order.
func (d *StateDefinition[S, E, C]) Transitions() []Transition[S, E, C] {
	out := make([]Transition[S, E, C], 0, len(d.order))
	for _, event := range d.order {
		out = append(out, d.transitions[event])
	}
	return out
}

func (d *StateDefinition[S, E, C]) autoTransitions() []Transition[S, E, C] {
	var out []Transition[S, E, C]
	for _, event := range d.order {
		if t := d.transitions[event]; t.Auto {
			out = append(out, t)
		}
	}
	return out
}
