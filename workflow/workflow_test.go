package workflow

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	apperrors "github.com/goliatone/go-errors"
)

func appendStep(mu *sync.Mutex, order *[]string, label string) Step {
	return func(_ context.Context, in any) (any, error) {
		mu.Lock()
		*order = append(*order, label)
		mu.Unlock()
		return in.(int) + 1, nil
	}
}

func TestWorkflowExecuteSequentialOrder(t *testing.T) {
	for i := 0; i < 20; i++ {
		var mu sync.Mutex
		var order []string
		w := NewBuilder("abc").
			Then("a", appendStep(&mu, &order, "a")).
			Then("b", appendStep(&mu, &order, "b")).
			Then("c", appendStep(&mu, &order, "c")).
			Build()

		out, err := w.Execute(context.Background(), 0)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if out != 3 {
			t.Fatalf("expected 3, got %v", out)
		}
		if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
			t.Fatalf("unexpected order %v", order)
		}
	}
}

func TestWorkflowExecuteAsyncPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	slow := func(label string, d time.Duration) Step {
		return func(ctx context.Context, in any) (any, error) {
			time.Sleep(d)
			return appendStep(&mu, &order, label)(ctx, in)
		}
	}
	w := NewBuilder("async").
		Then("a", slow("a", 20*time.Millisecond)).
		Then("b", slow("b", 0)).
		Then("c", slow("c", 5*time.Millisecond)).
		Build()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := w.ExecuteAsync(ctx, 10, GoExecutor).Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out != 13 {
		t.Fatalf("expected 13, got %v", out)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestWorkflowAsyncStopsOnFirstFailure(t *testing.T) {
	var mu sync.Mutex
	var order []string
	boom := errors.New("boom")
	w := NewBuilder("failing").
		Then("a", appendStep(&mu, &order, "a")).
		Then("b", func(context.Context, any) (any, error) { return nil, boom }).
		Then("c", appendStep(&mu, &order, "c")).
		Build()

	_, err := w.ExecuteAsync(context.Background(), 0, nil).Await(context.Background())
	if OutcomeOf(err) != Fail {
		t.Fatalf("expected fail outcome, got %v", err)
	}
	var ge *apperrors.Error
	if !errors.As(err, &ge) || ge.TextCode != ErrCodeStepFailed || ge.Source != boom {
		t.Fatalf("expected wrapped step error, got %v", err)
	}
	if !reflect.DeepEqual(order, []string{"a"}) {
		t.Fatalf("step after failure must not run, got %v", order)
	}
}

func TestWorkflowStopSignalIsNotWrapped(t *testing.T) {
	w := Of("stopper", func(context.Context, any) (any, error) {
		return nil, StopPolling("done")
	})

	_, err := w.Execute(context.Background(), nil)
	if OutcomeOf(err) != Stop {
		t.Fatalf("expected stop outcome, got %v", err)
	}
	sig, ok := AsStop(err)
	if !ok || sig.Reason != "done" {
		t.Fatalf("unexpected signal %v", err)
	}
}

func TestWorkflowPanicBecomesFailure(t *testing.T) {
	w := Of("panics", func(context.Context, any) (any, error) {
		panic("kaboom")
	})
	_, err := w.Execute(context.Background(), nil)
	if OutcomeOf(err) != Fail {
		t.Fatalf("expected fail outcome, got %v", err)
	}
}

func TestBuilderBoundAndConditionalSteps(t *testing.T) {
	var got []any
	w := ThenWith(NewBuilder("bound"), "fixed", "arg", func(_ context.Context, arg string) (any, error) {
		got = append(got, arg)
		return 5, nil
	}).
		ThenVariadic("sum", func(_ context.Context, args ...any) (any, error) {
			total := 0
			for _, a := range args {
				total += a.(int)
			}
			return total, nil
		}, 1, 2, 3).
		ThenIf("double-if-even", func(_ context.Context, in any) bool { return in.(int)%2 == 0 },
			func(_ context.Context, in any) (any, error) { return in.(int) * 2, nil }).
		ThenIf("skip-if-odd", func(_ context.Context, in any) bool { return in.(int)%2 == 1 },
			func(_ context.Context, in any) (any, error) { return -1, nil }).
		Build()

	out, err := w.Execute(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != 12 {
		t.Fatalf("expected 12, got %v", out)
	}
	if !reflect.DeepEqual(got, []any{"arg"}) {
		t.Fatalf("bound step did not receive its argument: %v", got)
	}
	if w.Len() != 4 || w.Name() != "bound" {
		t.Fatalf("unexpected workflow shape %s/%d", w.Name(), w.Len())
	}
}

func TestFutureCompletesOnce(t *testing.T) {
	f := NewFuture[int]()
	var calls int
	f.OnComplete(func(v int, err error) {
		calls++
		if v != 1 || err != nil {
			t.Errorf("unexpected completion %d %v", v, err)
		}
	})
	f.Store(1)
	f.StoreError(errors.New("late"))
	f.Store(2)

	v, ok := f.Load()
	if !ok || v != 1 || f.Error() != nil {
		t.Fatalf("first completion must win, got %d %v", v, f.Error())
	}
	if calls != 1 {
		t.Fatalf("expected one callback, got %d", calls)
	}
}

func TestFutureAwaitHonorsContext(t *testing.T) {
	f := NewFuture[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
