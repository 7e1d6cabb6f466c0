package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-runcore/workflow"
)

func TestServiceCreatePollerOverwritesExisting(t *testing.T) {
	ctx := context.Background()
	svc := NewService()

	var first, second atomic.Int32
	p1, err := svc.CreatePoller(ctx, "run-1", []*workflow.Workflow{countingWorkflow("a", &first)}, 5*time.Millisecond, true, false)
	require.NoError(t, err)
	require.NoError(t, svc.StartOne(ctx, "run-1"))

	p2, err := svc.CreatePoller(ctx, "run-1", []*workflow.Workflow{countingWorkflow("b", &second)}, 5*time.Millisecond, true, false)
	require.NoError(t, err)

	assert.False(t, p1.IsActive(), "replaced poller must be stopped")
	got, ok := svc.Get("run-1")
	require.True(t, ok)
	assert.Same(t, p2, got)

	require.NoError(t, svc.StartOne(ctx, "run-1"))
	eventually(t, func() bool { return second.Load() > 0 })

	require.NoError(t, svc.StopOne(ctx, "run-1"))
	assert.False(t, p1.IsActive())
	assert.False(t, p2.IsActive())

	settledFirst, settledSecond := first.Load(), second.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settledFirst, first.Load())
	assert.Equal(t, settledSecond, second.Load())
	assert.Equal(t, []string{"run-1"}, svc.Names())
}

func TestServiceUnknownNames(t *testing.T) {
	ctx := context.Background()
	svc := NewService()

	err := svc.StartOne(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.Error(t, svc.StopOne(ctx, "missing"))
	assert.Error(t, svc.Remove(ctx, "missing"))
}

func TestServiceFanOut(t *testing.T) {
	ctx := context.Background()
	svc := NewService()

	var a, b atomic.Int32
	pa, err := svc.CreatePoller(ctx, "a", []*workflow.Workflow{countingWorkflow("a", &a)}, time.Millisecond, true, false)
	require.NoError(t, err)
	pb, err := svc.CreatePoller(ctx, "b", []*workflow.Workflow{countingWorkflow("b", &b)}, time.Millisecond, true, true)
	require.NoError(t, err)

	require.NoError(t, svc.StartPolling(ctx))
	eventually(t, func() bool { return a.Load() > 0 && b.Load() > 0 })

	require.NoError(t, svc.StopPolling(ctx))
	assert.False(t, pa.IsActive())
	assert.False(t, pb.IsActive())

	require.NoError(t, svc.Remove(ctx, "a"))
	_, ok := svc.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, svc.Names())
}

func TestServiceFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	svc := NewService()

	var healthy atomic.Int32
	bad, err := svc.CreatePoller(ctx, "bad", []*workflow.Workflow{
		workflow.Of("bad", func(context.Context, any) (any, error) { return nil, context.Canceled }),
	}, time.Millisecond, true, false)
	require.NoError(t, err)
	good, err := svc.CreatePoller(ctx, "good", []*workflow.Workflow{countingWorkflow("good", &healthy)}, time.Millisecond, true, false)
	require.NoError(t, err)

	require.NoError(t, svc.StartPolling(ctx))
	waitDone(t, bad)
	eventually(t, func() bool { return healthy.Load() >= 3 })
	assert.True(t, good.IsActive())

	require.NoError(t, svc.StopPolling(ctx))
}

func TestServiceForgetOnlyDropsSamePoller(t *testing.T) {
	ctx := context.Background()
	svc := NewService()

	old, err := svc.CreatePoller(ctx, "run-1", nil, time.Millisecond, false, false)
	require.NoError(t, err)
	current, err := svc.CreatePoller(ctx, "run-1", nil, time.Millisecond, false, false)
	require.NoError(t, err)

	assert.False(t, svc.Forget(old), "replaced poller must not evict its successor")
	got, ok := svc.Get("run-1")
	require.True(t, ok)
	assert.Same(t, current, got)

	assert.True(t, svc.Forget(current))
	_, ok = svc.Get("run-1")
	assert.False(t, ok)
}
