package fsm

import (
	"context"
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/goliatone/go-errors"
)

type light string
type signal string

const (
	red    light = "red"
	green  light = "green"
	yellow light = "yellow"
	broken light = "broken"

	goSignal   signal = "go"
	slowSignal signal = "slow"
	stopSignal signal = "stop"
)

type counter struct {
	visits []string
}

func (c *counter) Clone() *counter {
	return &counter{visits: append([]string(nil), c.visits...)}
}

func trafficMachine(t *testing.T, c *counter, trace *[]string, guard Guard[*counter]) *Machine[light, signal, *counter] {
	t.Helper()

	record := func(label string) Action[*counter] {
		return func(_ context.Context, c *counter) error {
			c.visits = append(c.visits, label)
			return nil
		}
	}

	m, err := NewBuilder[light, signal, *counter](red, c).
		WithName("traffic").
		WithState(red, NewState[light, signal, *counter]().
			WithExitAction(record("exit:red")).
			WithTransition(Transition[light, signal, *counter]{Event: goSignal, Next: green, Guard: guard})).
		WithState(green, NewState[light, signal, *counter]().
			WithEntryAction(record("enter:green")).
			On(slowSignal, yellow)).
		WithState(yellow, NewState[light, signal, *counter]().
			WithEntryAction(record("enter:yellow")).
			On(stopSignal, red)).
		WithState(broken, NewState[light, signal, *counter]().
			WithEntryAction(record("enter:broken")).
			WithInternalLogic(func(_ context.Context, input any, _ *counter, _ *Machine[light, signal, *counter]) (any, error) {
				return input, nil
			})).
		WithErrorState(broken).
		WithStateChangeListener(func(s light, _ *counter) {
			*trace = append(*trace, "state:"+string(s))
		}).
		WithEventListener(goSignal, func(_ any, _ *counter) {
			*trace = append(*trace, "event:go")
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return m
}

func TestMachineDeterministicReplay(t *testing.T) {
	events := []signal{goSignal, slowSignal, stopSignal, goSignal}

	run := func() (light, []string, []string) {
		var trace []string
		c := &counter{}
		m := trafficMachine(t, c, &trace, nil)
		for _, e := range events {
			if _, err := m.ProcessEvent(context.Background(), e, nil); err != nil {
				t.Fatalf("process %s: %v", e, err)
			}
		}
		return m.CurrentState(), trace, c.visits
	}

	s1, trace1, visits1 := run()
	s2, trace2, visits2 := run()

	if s1 != green || s2 != green {
		t.Fatalf("expected green after replay, got %s and %s", s1, s2)
	}
	if !reflect.DeepEqual(trace1, trace2) {
		t.Fatalf("listener trace differs: %v vs %v", trace1, trace2)
	}
	if !reflect.DeepEqual(visits1, visits2) {
		t.Fatalf("action trace differs: %v vs %v", visits1, visits2)
	}
	want := []string{"event:go", "state:green", "state:yellow", "state:red", "event:go", "state:green"}
	if !reflect.DeepEqual(trace1, want) {
		t.Fatalf("unexpected trace %v", trace1)
	}
}

func TestMachineGuardFailureRoutesToErrorState(t *testing.T) {
	var trace []string
	c := &counter{}
	m := trafficMachine(t, c, &trace, func(input any, _ *counter) bool {
		return input == "allowed"
	})

	result, err := m.ProcessEvent(context.Background(), goSignal, "denied")
	if err != nil {
		t.Fatalf("expected error path to be handled, got %v", err)
	}
	if m.CurrentState() != broken {
		t.Fatalf("expected error state, got %s", m.CurrentState())
	}
	if result != "denied" {
		t.Fatalf("expected error internal logic to receive original input, got %v", result)
	}
	if ErrorCode(m.LastTransitionError()) != ErrCodeGuardRejected {
		t.Fatalf("expected guard rejection cause, got %v", m.LastTransitionError())
	}
	for _, v := range c.visits {
		if v == "enter:green" {
			t.Fatalf("entry action of rejected target must not run")
		}
	}
}

func TestMachineInvalidTransitionRoutesToErrorState(t *testing.T) {
	var trace []string
	m := trafficMachine(t, &counter{}, &trace, nil)

	if _, err := m.ProcessEvent(context.Background(), stopSignal, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.CurrentState() != broken {
		t.Fatalf("expected error state, got %s", m.CurrentState())
	}
	if ErrorCode(m.LastTransitionError()) != ErrCodeInvalidTransition {
		t.Fatalf("expected invalid transition cause, got %v", m.LastTransitionError())
	}
}

func TestMachineWithoutErrorStateFailsFast(t *testing.T) {
	guardCalls := 0
	m, err := NewBuilder[light, signal, *counter](red, &counter{}).
		WithState(red, NewState[light, signal, *counter]().
			WithTransition(Transition[light, signal, *counter]{
				Event: goSignal,
				Next:  green,
				Guard: func(any, *counter) bool { guardCalls++; return false },
			})).
		WithState(green, NewState[light, signal, *counter]()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	_, err = m.ProcessEvent(context.Background(), goSignal, nil)
	if ErrorCode(err) != ErrCodeErrorStateMissing {
		t.Fatalf("expected missing error state, got %v", err)
	}
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error classification")
	}
	if m.CurrentState() != red {
		t.Fatalf("state must not change, got %s", m.CurrentState())
	}
	if guardCalls != 1 {
		t.Fatalf("expected guard evaluated once, got %d", guardCalls)
	}
}

func TestMachineUnmappedNextStateIsFatal(t *testing.T) {
	_, err := NewBuilder[light, signal, *counter](red, &counter{}).
		WithState(green, NewState[light, signal, *counter]()).
		Build()
	if err == nil {
		t.Fatalf("expected build error for missing initial state")
	}

	m, err := NewBuilder[light, signal, *counter](red, &counter{}).
		WithState(red, NewState[light, signal, *counter]().On(goSignal, green)).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err = m.ProcessEvent(context.Background(), goSignal, nil)
	if ErrorCode(err) != ErrCodeStateNotFound {
		t.Fatalf("expected state not found, got %v", err)
	}
	if m.CurrentState() != red {
		t.Fatalf("state must not change on fatal error")
	}
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	_, err := NewBuilder[light, signal, *counter](red, &counter{}).
		WithState(red, NewState[light, signal, *counter]().On(goSignal, green).On(goSignal, yellow)).
		WithState(green, NewState[light, signal, *counter]()).
		WithState(green, NewState[light, signal, *counter]()).
		WithState(yellow, NewState[light, signal, *counter]()).
		Build()
	if err == nil {
		t.Fatalf("expected duplicate definition errors")
	}
	if ErrorCode(err) != ErrCodeDuplicateState && ErrorCode(err) != ErrCodeDuplicateTransition {
		t.Fatalf("unexpected code %q", ErrorCode(err))
	}
}

func TestMachineAutoTransitionUsesOriginalInput(t *testing.T) {
	var seen []any
	m, err := NewBuilder[light, signal, *counter](red, &counter{}).
		WithState(red, NewState[light, signal, *counter]().On(goSignal, green)).
		WithState(green, NewState[light, signal, *counter]().
			WithInternalLogic(func(_ context.Context, input any, _ *counter, _ *Machine[light, signal, *counter]) (any, error) {
				seen = append(seen, input)
				return "computed", nil
			}).
			WithTransition(Transition[light, signal, *counter]{
				Event: stopSignal,
				Next:  red,
				Auto:  true,
				Guard: func(result any, _ *counter) bool { return result == "never" },
			}).
			WithTransition(Transition[light, signal, *counter]{
				Event: slowSignal,
				Next:  yellow,
				Auto:  true,
				Guard: func(result any, _ *counter) bool { return result == "computed" },
			})).
		WithState(yellow, NewState[light, signal, *counter]().
			WithInternalLogic(func(_ context.Context, input any, _ *counter, _ *Machine[light, signal, *counter]) (any, error) {
				seen = append(seen, input)
				return nil, nil
			})).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	result, err := m.ProcessEvent(context.Background(), goSignal, "original")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if m.CurrentState() != yellow {
		t.Fatalf("expected auto transition to yellow, got %s", m.CurrentState())
	}
	if result != "computed" {
		t.Fatalf("expected result of the explicitly entered state, got %v", result)
	}
	if !reflect.DeepEqual(seen, []any{"original", "original"}) {
		t.Fatalf("expected original input to flow through auto transition, got %v", seen)
	}
}

func TestMachineFiresEveryPassingAutoTransition(t *testing.T) {
	var states []light
	m, err := NewBuilder[light, signal, *counter](red, &counter{}).
		WithState(red, NewState[light, signal, *counter]().On(goSignal, green)).
		WithState(green, NewState[light, signal, *counter]().
			WithTransition(Transition[light, signal, *counter]{Event: slowSignal, Next: yellow, Auto: true}).
			WithTransition(Transition[light, signal, *counter]{Event: stopSignal, Next: broken, Auto: true})).
		WithState(yellow, NewState[light, signal, *counter]().On(stopSignal, red)).
		WithState(broken, NewState[light, signal, *counter]()).
		WithStateChangeListener(func(s light, _ *counter) {
			states = append(states, s)
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, err := m.ProcessEvent(context.Background(), goSignal, nil); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !reflect.DeepEqual(states, []light{green, yellow, red}) {
		t.Fatalf("expected both auto events to fire in order, got %v", states)
	}
	if m.CurrentState() != red {
		t.Fatalf("expected red, got %s", m.CurrentState())
	}
}

func TestMachineActionErrorAbortsTransition(t *testing.T) {
	boom := errors.New("boom")
	m, err := NewBuilder[light, signal, *counter](red, &counter{}).
		WithState(red, NewState[light, signal, *counter]().On(goSignal, green)).
		WithState(green, NewState[light, signal, *counter]().
			WithEntryAction(func(context.Context, *counter) error { return boom })).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	_, err = m.ProcessEvent(context.Background(), goSignal, nil)
	if ErrorCode(err) != ErrCodeActionFailed {
		t.Fatalf("expected action failure, got %v", err)
	}
	var ge *apperrors.Error
	if !errors.As(err, &ge) || ge.Source != boom {
		t.Fatalf("expected source error to be kept, got %v", err)
	}
	if m.CurrentState() != red {
		t.Fatalf("state must not be committed, got %s", m.CurrentState())
	}
}

func TestMachineSnapshotContext(t *testing.T) {
	c := &counter{visits: []string{"a"}}
	m, err := NewBuilder[light, signal, *counter](red, c).
		WithState(red, NewState[light, signal, *counter]()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	snap, err := m.SnapshotContext()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	c.visits = append(c.visits, "b")
	if len(snap.visits) != 1 {
		t.Fatalf("snapshot must be independent, got %v", snap.visits)
	}

	plain, err := NewBuilder[light, signal, map[string]int](red, map[string]int{}).
		WithState(red, NewState[light, signal, map[string]int]()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := plain.SnapshotContext(); ErrorCode(err) != ErrCodeContextNotCloneable {
		t.Fatalf("expected not cloneable, got %v", err)
	}
	if plain.CanProcess(goSignal) {
		t.Fatalf("no transitions registered")
	}
}
