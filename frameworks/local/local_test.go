package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	apperrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-runcore/backend"
)

func textCode(err error) string {
	var ge *apperrors.Error
	if errors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func TestScriptedExecution(t *testing.T) {
	ctx := context.Background()
	f := New()

	exec, err := f.Execute(ctx, &backend.Runnable{Image: "busybox", Command: []string{"echo"}, Args: []string{"hi"}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var got []backend.Status
	for i := 0; i < 4; i++ {
		obs, err := f.Inspect(ctx, exec)
		if err != nil {
			t.Fatalf("inspect: %v", err)
		}
		got = append(got, obs.Status)
	}
	want := []backend.Status{backend.StatusPending, backend.StatusRunning, backend.StatusSucceeded, backend.StatusSucceeded}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected statuses %v", got)
		}
	}

	rc, err := f.Logs(ctx, exec)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if !strings.Contains(string(data), "image=busybox command=echo args=hi") {
		t.Fatalf("unexpected logs %q", data)
	}
}

func TestHandlerExecution(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	f := New(WithHandler(func(_ context.Context, unit *backend.Runnable, out io.Writer) error {
		<-release
		io.WriteString(out, "done\n")
		if unit.Image == "bad" {
			return errors.New("exit 2")
		}
		return nil
	}))

	good, _ := f.Execute(ctx, &backend.Runnable{Image: "ok"})
	bad, _ := f.Execute(ctx, &backend.Runnable{Image: "bad"})

	if obs, _ := f.Inspect(ctx, good); obs.Status != backend.StatusRunning {
		t.Fatalf("expected running, got %s", obs.Status)
	}
	close(release)

	waitStatus(t, f, good, backend.StatusSucceeded)
	obs := waitStatus(t, f, bad, backend.StatusFailed)
	if obs.Message != "exit 2" {
		t.Fatalf("unexpected message %q", obs.Message)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := New(WithHandler(func(ctx context.Context, _ *backend.Runnable, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	exec, _ := f.Execute(ctx, &backend.Runnable{Image: "sleep"})
	if err := f.Cancel(ctx, exec); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitStatus(t, f, exec, backend.StatusFailed)

	unknown := backend.Execution{ID: "nope"}
	if err := f.Cancel(ctx, unknown); textCode(err) != ErrCodeExecutionNotFound {
		t.Fatalf("cancel: expected unknown execution error, got %v", err)
	}
	if _, err := f.Inspect(ctx, unknown); textCode(err) != ErrCodeExecutionNotFound {
		t.Fatalf("inspect: expected unknown execution error, got %v", err)
	}
	if _, err := f.Logs(ctx, unknown); textCode(err) != ErrCodeExecutionNotFound {
		t.Fatalf("logs: expected unknown execution error, got %v", err)
	}
}

func TestExecuteRequiresImage(t *testing.T) {
	if _, err := New().Execute(context.Background(), &backend.Runnable{}); textCode(err) != ErrCodeInvalidRunnable {
		t.Fatalf("expected invalid runnable, got %v", err)
	}
	if _, err := New().Execute(context.Background(), nil); textCode(err) != ErrCodeInvalidRunnable {
		t.Fatalf("nil runnable: expected invalid runnable, got %v", err)
	}
	if New(WithPlatform("dry")).Key().String() != "dry+job" {
		t.Fatal("unexpected key")
	}
}

func waitStatus(t *testing.T, f *Framework, exec backend.Execution, want backend.Status) backend.Observation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		obs, err := f.Inspect(context.Background(), exec)
		if err != nil {
			t.Fatalf("inspect: %v", err)
		}
		if obs.Status == want {
			return obs
		}
		if time.Now().After(deadline) {
			t.Fatalf("status %s not reached, last %s", want, obs.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
