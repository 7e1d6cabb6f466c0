package poller

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-runcore/cron"
	"github.com/goliatone/go-runcore/workflow"
)

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("poller %s did not stop", p.Name())
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func countingWorkflow(name string, counter *atomic.Int32) *workflow.Workflow {
	return workflow.Of(name, func(_ context.Context, in any) (any, error) {
		counter.Add(1)
		return in, nil
	})
}

func TestPollerWithoutRescheduleRunsOnce(t *testing.T) {
	for _, async := range []bool{false, true} {
		var count atomic.Int32
		p := New("once", []*workflow.Workflow{countingWorkflow("count", &count)}, 5*time.Millisecond, false, async)

		if err := p.StartPolling(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		waitDone(t, p)

		time.Sleep(30 * time.Millisecond)
		if got := count.Load(); got != 1 {
			t.Fatalf("async=%t: expected exactly one execution, got %d", async, got)
		}
		if p.IsActive() {
			t.Fatalf("async=%t: expected inactive poller", async)
		}
		if p.Passes() != 1 {
			t.Fatalf("async=%t: expected one pass, got %d", async, p.Passes())
		}
	}
}

func TestPollerRescheduleUntilStopped(t *testing.T) {
	var count atomic.Int32
	p := New("repeat", []*workflow.Workflow{countingWorkflow("count", &count)}, 5*time.Millisecond, true, false)

	if err := p.StartPolling(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, func() bool { return count.Load() >= 3 })

	if !p.IsActive() {
		t.Fatal("rescheduling poller must stay active")
	}
	if err := p.StopPolling(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.StopPolling(context.Background()); err != nil {
		t.Fatalf("second stop must be a no-op: %v", err)
	}

	settled := count.Load()
	time.Sleep(40 * time.Millisecond)
	if count.Load() != settled {
		t.Fatalf("poller kept running after stop")
	}
}

func TestPollerStopSignalHaltsWithoutReschedule(t *testing.T) {
	for _, async := range []bool{false, true} {
		var mu sync.Mutex
		var order []string
		step := func(label string, err error) *workflow.Workflow {
			return workflow.Of(label, func(_ context.Context, in any) (any, error) {
				mu.Lock()
				order = append(order, label)
				mu.Unlock()
				return in, err
			})
		}
		p := New("stopper", []*workflow.Workflow{
			step("a", nil),
			step("b", workflow.StopPolling("terminal")),
			step("c", nil),
		}, time.Millisecond, true, async)

		if err := p.StartPolling(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		waitDone(t, p)
		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		got := append([]string(nil), order...)
		mu.Unlock()
		if !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Fatalf("async=%t: unexpected order %v", async, got)
		}
		if p.Err() != nil {
			t.Fatalf("async=%t: stop signal must not be reported as failure: %v", async, p.Err())
		}
	}
}

func TestPollerFailureStopsAndIsReported(t *testing.T) {
	boom := errors.New("boom")
	for _, async := range []bool{false, true} {
		var count atomic.Int32
		p := New("failing", []*workflow.Workflow{
			workflow.Of("bad", func(context.Context, any) (any, error) { return nil, boom }),
			countingWorkflow("never", &count),
		}, time.Millisecond, true, async)

		if err := p.StartPolling(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		waitDone(t, p)

		if workflow.OutcomeOf(p.Err()) != workflow.Fail {
			t.Fatalf("async=%t: expected failure, got %v", async, p.Err())
		}
		if count.Load() != 0 {
			t.Fatalf("async=%t: workflow after failure must not run", async)
		}
	}
}

func TestPollerPanicIsTreatedAsFailure(t *testing.T) {
	p := New("panics", []*workflow.Workflow{
		workflow.Of("bad", func(context.Context, any) (any, error) { panic("kaboom") }),
	}, time.Millisecond, true, false)

	if err := p.StartPolling(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, p)
	if p.Err() == nil {
		t.Fatal("expected recorded failure")
	}
}

func TestStoppedPollerCannotRestart(t *testing.T) {
	p := New("dead", nil, time.Millisecond, false, false)
	if err := p.StopPolling(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.StartPolling(context.Background()); err == nil {
		t.Fatal("expected inactive error")
	}
}

func TestStopPollingForcesLongTick(t *testing.T) {
	entered := make(chan struct{})
	p := New("slow", []*workflow.Workflow{
		workflow.Of("block", func(ctx context.Context, in any) (any, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}, 0, true, false, WithShutdownTimeout(20*time.Millisecond))

	if err := p.StartPolling(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	start := time.Now()
	if err := p.StopPolling(context.Background()); err == nil {
		t.Fatal("expected forced shutdown error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("stop must be bounded")
	}
}

type tickRecorder struct {
	mu       sync.Mutex
	outcomes []workflow.Outcome
}

func (r *tickRecorder) RecordTick(_ string, outcome workflow.Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestPollerRecordsTicks(t *testing.T) {
	rec := &tickRecorder{}
	var count atomic.Int32
	p := New("recorded", []*workflow.Workflow{countingWorkflow("count", &count)}, time.Millisecond, false, false, WithRecorder(rec))
	if err := p.StartPolling(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, p)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !reflect.DeepEqual(rec.outcomes, []workflow.Outcome{workflow.Continue}) {
		t.Fatalf("unexpected outcomes %v", rec.outcomes)
	}
}

// concurrency tracks how many passes of one poller overlap.
type concurrency struct {
	current atomic.Int32
	max     atomic.Int32
}

func (c *concurrency) enter() {
	n := c.current.Add(1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (c *concurrency) leave() { c.current.Add(-1) }

func TestAsyncCronSkipsTicksWhilePassRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on a one second cron cadence")
	}
	var c concurrency
	slow := workflow.Of("slow", func(_ context.Context, in any) (any, error) {
		c.enter()
		defer c.leave()
		time.Sleep(1500 * time.Millisecond)
		return in, nil
	})
	p := New("cron-async", []*workflow.Workflow{slow}, 0, true, true, WithCron("@every 1s"))
	if err := p.StartPolling(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(3500 * time.Millisecond)
	if err := p.StopPolling(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := c.max.Load(); got != 1 {
		t.Fatalf("expected passes to run one at a time, saw %d at once", got)
	}
	if p.Passes() < 1 {
		t.Fatal("expected at least one completed pass")
	}
}

func TestAsyncReschedulePreservesOrder(t *testing.T) {
	var c concurrency
	var mu sync.Mutex
	var order []string
	step := func(label string) *workflow.Workflow {
		return workflow.Of(label, func(_ context.Context, in any) (any, error) {
			c.enter()
			defer c.leave()
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			return in, nil
		})
	}
	p := New("async-repeat", []*workflow.Workflow{step("a"), step("b")}, time.Millisecond, true, true)
	if err := p.StartPolling(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, func() bool { return p.Passes() >= 3 })
	if err := p.StopPolling(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, label := range order {
		want := "a"
		if i%2 == 1 {
			want = "b"
		}
		if label != want {
			t.Fatalf("steps out of order at %d: %v", i, order)
		}
	}
	if got := c.max.Load(); got != 1 {
		t.Fatalf("expected sequential steps, saw %d at once", got)
	}
}

func TestStopPollingWaitsForPassOnSharedScheduler(t *testing.T) {
	shared := cron.NewScheduler(cron.WithName("shared"))
	defer shared.Shutdown(context.Background())

	entered := make(chan struct{})
	release := make(chan struct{})
	p := New("shared", []*workflow.Workflow{
		workflow.Of("block", func(_ context.Context, in any) (any, error) {
			close(entered)
			<-release
			return in, nil
		}),
	}, 0, true, false, WithScheduler(shared))

	if err := p.StartPolling(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	if !p.Running() {
		t.Fatal("expected a pass in flight")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- p.StopPolling(context.Background()) }()

	select {
	case err := <-stopped:
		t.Fatalf("stop returned while the pass was still running: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return after the pass ended")
	}
	if p.Running() {
		t.Fatal("pass must be over once stop returns")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	p := New("wait", []*workflow.Workflow{
		workflow.Of("block", func(_ context.Context, in any) (any, error) {
			close(entered)
			<-release
			return in, nil
		}),
	}, 0, false, false)
	if err := p.StartPolling(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
