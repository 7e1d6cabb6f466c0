package fsm

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-runcore"
)

// Cloner is implemented by context types that can produce a deep copy of themselves.
type Cloner[C any] interface {
	Clone() C
}

// Recorder observes committed and rejected transitions.
type Recorder interface {
	RecordTransition(machine, from, to, event string)
	RecordRejection(machine, state, event, reason string)
}

// Machine is a finite state machine over states S, events E and a shared context C.
//
// A Machine is not safe for concurrent use. Drive each instance from a single
// goroutine at a time.
type Machine[S comparable, E comparable, C any] struct {
	name           string
	current        S
	context        C
	states         map[S]*StateDefinition[S, E, C]
	errorState     S
	hasErrorState  bool
	eventListeners map[E]EventListener[C]
	stateChange    StateChangeListener[S, C]
	logger         runcore.Logger
	recorder       Recorder
	lastErr        error
}

// Builder assembles an immutable Machine.
type Builder[S comparable, E comparable, C any] struct {
	name           string
	initial        S
	context        C
	states         map[S]*StateDefinition[S, E, C]
	errorState     S
	hasErrorState  bool
	eventListeners map[E]EventListener[C]
	stateChange    StateChangeListener[S, C]
	logger         runcore.Logger
	recorder       Recorder
	errs           []error
}

// NewBuilder starts a machine definition with its initial state and context.
func NewBuilder[S comparable, E comparable, C any](initial S, c C) *Builder[S, E, C] {
	return &Builder[S, E, C]{
		initial:        initial,
		context:        c,
		states:         make(map[S]*StateDefinition[S, E, C]),
		eventListeners: make(map[E]EventListener[C]),
	}
}

// WithName labels the machine in logs and metrics.
func (b *Builder[S, E, C]) WithName(name string) *Builder[S, E, C] {
	b.name = name
	return b
}

// WithState registers the definition of state.
func (b *Builder[S, E, C]) WithState(state S, def *StateDefinition[S, E, C]) *Builder[S, E, C] {
	if def == nil {
		def = NewState[S, E, C]()
	}
	if _, exists := b.states[state]; exists {
		b.errs = append(b.errs, cloneError(
			ErrDuplicateState,
			fmt.Sprintf("state %v already defined", state),
			nil,
			map[string]any{"state": fmt.Sprint(state)},
		))
		return b
	}
	b.states[state] = def
	return b
}

// WithStates registers several state definitions at once.
func (b *Builder[S, E, C]) WithStates(defs map[S]*StateDefinition[S, E, C]) *Builder[S, E, C] {
	for state, def := range defs {
		b.WithState(state, def)
	}
	return b
}

// WithErrorState designates the state entered on guard failures and invalid transitions.
func (b *Builder[S, E, C]) WithErrorState(state S) *Builder[S, E, C] {
	b.errorState = state
	b.hasErrorState = true
	return b
}

// WithEventListener binds a listener notified when a transition for event commits.
func (b *Builder[S, E, C]) WithEventListener(event E, listener EventListener[C]) *Builder[S, E, C] {
	if listener != nil {
		b.eventListeners[event] = listener
	}
	return b
}

// WithStateChangeListener binds the listener notified after each state change.
func (b *Builder[S, E, C]) WithStateChangeListener(listener StateChangeListener[S, C]) *Builder[S, E, C] {
	b.stateChange = listener
	return b
}

// WithLogger sets the machine logger.
func (b *Builder[S, E, C]) WithLogger(logger runcore.Logger) *Builder[S, E, C] {
	b.logger = logger
	return b
}

// WithRecorder sets the transition recorder.
func (b *Builder[S, E, C]) WithRecorder(recorder Recorder) *Builder[S, E, C] {
	b.recorder = recorder
	return b
}

// Build validates the definition and returns the machine.
func (b *Builder[S, E, C]) Build() (*Machine[S, E, C], error) {
	errs := append([]error(nil), b.errs...)
	for state, def := range b.states {
		for _, err := range def.errs {
			errs = append(errs, fmt.Errorf("state %v: %w", state, err))
		}
	}
	if _, ok := b.states[b.initial]; !ok {
		errs = append(errs, stateNotFound(b.name, b.initial, "initial"))
	}
	if b.hasErrorState {
		if _, ok := b.states[b.errorState]; !ok {
			errs = append(errs, stateNotFound(b.name, b.errorState, "error"))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	states := make(map[S]*StateDefinition[S, E, C], len(b.states))
	for k, v := range b.states {
		states[k] = v
	}
	listeners := make(map[E]EventListener[C], len(b.eventListeners))
	for k, v := range b.eventListeners {
		listeners[k] = v
	}

	name := b.name
	if name == "" {
		name = "fsm"
	}

	return &Machine[S, E, C]{
		name:           name,
		current:        b.initial,
		context:        b.context,
		states:         states,
		errorState:     b.errorState,
		hasErrorState:  b.hasErrorState,
		eventListeners: listeners,
		stateChange:    b.stateChange,
		logger:         runcore.WithLoggerFields(b.logger, map[string]any{"machine": name}),
		recorder:       b.recorder,
	}, nil
}

// CurrentState returns the state the machine is in.
func (m *Machine[S, E, C]) CurrentState() S {
	return m.current
}

// Context returns the shared context.
func (m *Machine[S, E, C]) Context() C {
	return m.context
}

// ErrorState returns the configured error state and whether one exists.
func (m *Machine[S, E, C]) ErrorState() (S, bool) {
	return m.errorState, m.hasErrorState
}

// LastTransitionError returns the cause of the most recent routing to the error state.
func (m *Machine[S, E, C]) LastTransitionError() error {
	return m.lastErr
}

// CanProcess reports whether the current state has a transition for event.
func (m *Machine[S, E, C]) CanProcess(event E) bool {
	def, ok := m.states[m.current]
	if !ok {
		return false
	}
	_, ok = def.Transition(event)
	return ok
}

// SnapshotContext returns a deep copy of the context. The context type must
// implement Cloner.
func (m *Machine[S, E, C]) SnapshotContext() (C, error) {
	if cloner, ok := any(m.context).(Cloner[C]); ok {
		return cloner.Clone(), nil
	}
	var zero C
	return zero, cloneError(ErrContextNotCloneable, "", nil, map[string]any{
		"machine": m.name,
		"context": fmt.Sprintf("%T", m.context),
	})
}

// ProcessEvent applies event to the current state.
//
// The current state's exit action runs first. A missing transition or a
// rejecting guard routes the machine to its error state, whose internal logic
// receives input. Once a transition commits, every auto transition of the
// new state whose guard accepts the produced result is processed in
// declaration order, each with the original input and from whatever state
// the previous one left. Cycles between auto transitions are not detected.
func (m *Machine[S, E, C]) ProcessEvent(ctx context.Context, event E, input any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	from := m.current
	current, ok := m.states[from]
	if !ok {
		return nil, stateNotFound(m.name, from, "current")
	}

	if current.exit != nil {
		if err := current.exit(ctx, m.context); err != nil {
			return nil, actionFailed(m.name, from, event, "exit", err)
		}
	}

	transition, ok := current.Transition(event)
	if !ok {
		return m.handleError(ctx, event, input, cloneError(
			ErrInvalidTransition,
			fmt.Sprintf("no transition for event %v from state %v", event, from),
			nil,
			m.fields(from, event),
		))
	}

	if !transition.allows(input, m.context) {
		return m.handleError(ctx, event, input, cloneError(
			ErrGuardRejected,
			fmt.Sprintf("guard rejected event %v from state %v", event, from),
			nil,
			m.fields(from, event),
		))
	}

	next, ok := m.states[transition.Next]
	if !ok {
		return nil, stateNotFound(m.name, transition.Next, "next")
	}

	if next.entry != nil {
		if err := next.entry(ctx, m.context); err != nil {
			return nil, actionFailed(m.name, transition.Next, event, "entry", err)
		}
	}

	if listener, ok := m.eventListeners[event]; ok {
		listener(input, m.context)
	}

	m.commit(transition.Next)
	m.logger.Debug("transition %v -[%v]-> %v", from, event, transition.Next)
	if m.recorder != nil {
		m.recorder.RecordTransition(m.name, fmt.Sprint(from), fmt.Sprint(transition.Next), fmt.Sprint(event))
	}

	var result any
	if next.internal != nil {
		var err error
		result, err = next.internal(ctx, input, m.context, m)
		if err != nil {
			return result, cloneError(ErrInternalLogicFailed, "", err, m.fields(transition.Next, event))
		}
	}

	for _, auto := range next.autoTransitions() {
		if !auto.allows(result, m.context) {
			continue
		}
		if _, err := m.ProcessEvent(ctx, auto.Event, input); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (m *Machine[S, E, C]) handleError(ctx context.Context, event E, input any, cause error) (any, error) {
	from := m.current
	if m.recorder != nil {
		m.recorder.RecordRejection(m.name, fmt.Sprint(from), fmt.Sprint(event), ErrorCode(cause))
	}
	if !m.hasErrorState {
		return nil, cloneError(ErrErrorStateMissing, "", cause, m.fields(from, event))
	}
	def, ok := m.states[m.errorState]
	if !ok {
		return nil, stateNotFound(m.name, m.errorState, "error")
	}

	m.lastErr = cause
	m.logger.Warn("routing to error state %v: %v", m.errorState, cause)

	if def.entry != nil {
		if err := def.entry(ctx, m.context); err != nil {
			return nil, actionFailed(m.name, m.errorState, event, "entry", err)
		}
	}
	m.commit(m.errorState)
	if m.recorder != nil {
		m.recorder.RecordTransition(m.name, fmt.Sprint(from), fmt.Sprint(m.errorState), fmt.Sprint(event))
	}

	if def.internal == nil {
		return nil, nil
	}
	result, err := def.internal(ctx, input, m.context, m)
	if err != nil {
		return result, cloneError(ErrInternalLogicFailed, "", err, m.fields(m.errorState, event))
	}
	return result, nil
}

func (m *Machine[S, E, C]) commit(state S) {
	m.current = state
	if m.stateChange != nil {
		m.stateChange(state, m.context)
	}
}

func (m *Machine[S, E, C]) fields(state S, event E) map[string]any {
	return map[string]any{
		"machine": m.name,
		"state":   fmt.Sprint(state),
		"event":   fmt.Sprint(event),
	}
}

func stateNotFound[S comparable](machine string, state S, role string) error {
	return cloneError(
		ErrStateNotFound,
		fmt.Sprintf("%s state %v has no definition", role, state),
		nil,
		map[string]any{"machine": machine, "state": fmt.Sprint(state), "role": role},
	)
}

func actionFailed[S comparable, E comparable](machine string, state S, event E, kind string, err error) error {
	return cloneError(
		ErrActionFailed,
		fmt.Sprintf("%s action of state %v failed", kind, state),
		err,
		map[string]any{"machine": machine, "state": fmt.Sprint(state), "event": fmt.Sprint(event), "action": kind},
	)
}
