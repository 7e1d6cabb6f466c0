package docker

import (
	"context"
	"io"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/goliatone/go-runcore/backend"
)

func TestObserveMapsContainerStates(t *testing.T) {
	cases := []struct {
		name     string
		status   string
		exit     int
		oom      bool
		errMsg   string
		want     backend.Status
		wantMsg  string
	}{
		{name: "created", status: "created", want: backend.StatusPending},
		{name: "running", status: "running", want: backend.StatusRunning},
		{name: "restarting", status: "restarting", want: backend.StatusRunning},
		{name: "clean exit", status: "exited", want: backend.StatusSucceeded},
		{name: "non zero exit", status: "exited", exit: 3, want: backend.StatusFailed, wantMsg: "exit code 3"},
		{name: "oom", status: "exited", exit: 137, oom: true, want: backend.StatusFailed, wantMsg: "oom killed"},
		{name: "engine error", status: "exited", errMsg: "mount failed", want: backend.StatusFailed, wantMsg: "mount failed"},
		{name: "dead", status: "dead", want: backend.StatusFailed, wantMsg: "exit code 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obs := observe(tc.status, tc.exit, tc.oom, tc.errMsg)
			if obs.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, obs.Status)
			}
			if obs.Message != tc.wantMsg {
				t.Fatalf("expected message %q, got %q", tc.wantMsg, obs.Message)
			}
		})
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if expired("", now) {
		t.Fatal("empty deadline never expires")
	}
	if expired("garbage", now) {
		t.Fatal("unparseable deadline never expires")
	}
	if !expired(now.Add(-time.Second).Format(time.RFC3339Nano), now) {
		t.Fatal("past deadline must expire")
	}
	if expired(now.Add(time.Minute).Format(time.RFC3339Nano), now) {
		t.Fatal("future deadline must not expire")
	}
}

func TestEnvListIsSorted(t *testing.T) {
	got := envList(map[string]string{"B": "2", "A": "1"})
	if !reflect.DeepEqual(got, []string{"A=1", "B=2"}) {
		t.Fatalf("unexpected env %v", got)
	}
	if containerName("RUN-1") != "runcore-run-1" {
		t.Fatalf("unexpected name %s", containerName("RUN-1"))
	}
}

func TestDockerExecution(t *testing.T) {
	if os.Getenv("RUNCORE_TEST_DOCKER") == "" {
		t.Skip("RUNCORE_TEST_DOCKER not set")
	}
	ctx := context.Background()
	f, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer f.Close()

	exec, err := f.Execute(ctx, &backend.Runnable{
		Image:   "alpine:latest",
		Command: []string{"sh", "-c"},
		Args:    []string{"echo hello"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer f.Cleanup(ctx, exec)

	deadline := time.Now().Add(30 * time.Second)
	for {
		obs, err := f.Inspect(ctx, exec)
		if err != nil {
			t.Fatalf("inspect: %v", err)
		}
		if obs.Status.Terminal() {
			if obs.Status != backend.StatusSucceeded {
				t.Fatalf("unexpected observation %+v", obs)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("container did not finish")
		}
		time.Sleep(200 * time.Millisecond)
	}

	rc, err := f.Logs(ctx, exec)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	defer rc.Close()
	out, _ := io.ReadAll(rc)
	if string(out) != "hello\n" {
		t.Fatalf("unexpected logs %q", out)
	}
}
