// Package docker executes runnables as containers on a Docker engine.
package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/registry"
)

const (
	Platform = "docker"

	labelDeadline = "runcore.deadline"
	namePrefix    = "runcore-"
)

// Framework launches one container per runnable. Containers are left in
// place after they exit so logs can be collected; Cleanup removes them.
type Framework struct {
	cli    *client.Client
	action string
	logger runcore.Logger
	now    func() time.Time
}

var (
	_ backend.Framework = (*Framework)(nil)
	_ backend.LogReader = (*Framework)(nil)
	_ backend.Canceler  = (*Framework)(nil)
	_ backend.Cleaner   = (*Framework)(nil)
)

type Option func(*Framework)

func WithLogger(logger runcore.Logger) Option {
	return func(f *Framework) {
		f.logger = logger
	}
}

// WithClient uses an existing engine client instead of one built from the
// environment.
func WithClient(cli *client.Client) Option {
	return func(f *Framework) {
		f.cli = cli
	}
}

// New connects to the engine configured by DOCKER_HOST and friends.
func New(opts ...Option) (*Framework, error) {
	f := &Framework{action: "job", now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.logger = runcore.NormalizeLogger(f.logger)
	if f.cli == nil {
		cli, err := client.New(client.FromEnv)
		if err != nil {
			return nil, fmt.Errorf("docker: create client: %w", err)
		}
		f.cli = cli
	}
	return f, nil
}

func (f *Framework) Key() registry.Key {
	return registry.NewKey(Platform, f.action)
}

// Register returns the framework as a strategy set.
func (f *Framework) Register() backend.Set {
	return backend.Set{Frameworks: []backend.Framework{f}}
}

func (f *Framework) Ping(ctx context.Context) error {
	_, err := f.cli.Ping(ctx, client.PingOptions{})
	return err
}

func (f *Framework) Close() error {
	return f.cli.Close()
}

func (f *Framework) Execute(ctx context.Context, unit *backend.Runnable) (backend.Execution, error) {
	if unit == nil || unit.Image == "" {
		return backend.Execution{}, fmt.Errorf("docker: runnable has no image")
	}

	labels := make(map[string]string, len(unit.Labels)+1)
	for k, v := range unit.Labels {
		labels[k] = v
	}
	if unit.Timeout > 0 {
		labels[labelDeadline] = f.now().Add(unit.Timeout).UTC().Format(time.RFC3339Nano)
	}

	opts := client.ContainerCreateOptions{
		Name:  containerName(unit.RunID),
		Image: unit.Image,
		Config: &container.Config{
			Entrypoint:   unit.Command,
			Cmd:          unit.Args,
			Env:          envList(unit.Env),
			WorkingDir:   unit.WorkingDir,
			Labels:       labels,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: &container.HostConfig{},
	}

	created, err := f.cli.ContainerCreate(ctx, opts)
	if err != nil {
		return backend.Execution{}, fmt.Errorf("docker: create container for run %s: %w", unit.RunID, err)
	}
	if _, err := f.cli.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		return backend.Execution{}, fmt.Errorf("docker: start container %s: %w", created.ID, err)
	}

	f.logger.Info("started container %s for run %s", created.ID, unit.RunID)
	return backend.Execution{ID: created.ID, Framework: f.Key().String()}, nil
}

func (f *Framework) Inspect(ctx context.Context, exec backend.Execution) (backend.Observation, error) {
	result, err := f.cli.ContainerInspect(ctx, exec.ID, client.ContainerInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return backend.Observation{Status: backend.StatusFailed, Message: "container not found", ExitCode: -1}, nil
		}
		return backend.Observation{}, fmt.Errorf("docker: inspect container %s: %w", exec.ID, err)
	}

	state := result.Container.State
	if state == nil {
		return backend.Observation{Status: backend.StatusPending}, nil
	}

	obs := observe(string(state.Status), state.ExitCode, state.OOMKilled, state.Error)
	obs.Details = map[string]any{
		"container_id": exec.ID,
		"started_at":   state.StartedAt,
		"finished_at":  state.FinishedAt,
	}

	if obs.Status == backend.StatusRunning && result.Container.Config != nil {
		if expired(result.Container.Config.Labels[labelDeadline], f.now()) {
			f.logger.Warn("container %s exceeded its deadline, stopping", exec.ID)
			if err := f.Cancel(ctx, exec); err != nil {
				return backend.Observation{}, err
			}
			obs.Status = backend.StatusFailed
			obs.Message = "timeout exceeded"
			obs.ExitCode = -1
		}
	}
	return obs, nil
}

// Logs returns stdout and stderr combined.
func (f *Framework) Logs(ctx context.Context, exec backend.Execution) (io.ReadCloser, error) {
	raw, err := f.cli.ContainerLogs(ctx, exec.ID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
		Follow:     false,
	})
	if err != nil {
		return nil, fmt.Errorf("docker: logs for container %s: %w", exec.ID, err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer raw.Close()
		_, err := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (f *Framework) Cancel(ctx context.Context, exec backend.Execution) error {
	_, err := f.cli.ContainerStop(ctx, exec.ID, client.ContainerStopOptions{})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker: stop container %s: %w", exec.ID, err)
	}
	return nil
}

// Cleanup removes the container of a finished execution.
func (f *Framework) Cleanup(ctx context.Context, exec backend.Execution) error {
	_, err := f.cli.ContainerRemove(ctx, exec.ID, client.ContainerRemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker: remove container %s: %w", exec.ID, err)
	}
	return nil
}

func observe(status string, exitCode int, oomKilled bool, errMsg string) backend.Observation {
	switch status {
	case "created":
		return backend.Observation{Status: backend.StatusPending}
	case "running", "restarting", "paused", "removing":
		return backend.Observation{Status: backend.StatusRunning}
	case "exited", "dead":
		obs := backend.Observation{Status: backend.StatusSucceeded, ExitCode: exitCode}
		switch {
		case oomKilled:
			obs.Status, obs.Message = backend.StatusFailed, "oom killed"
		case errMsg != "":
			obs.Status, obs.Message = backend.StatusFailed, errMsg
		case exitCode != 0 || status == "dead":
			obs.Status, obs.Message = backend.StatusFailed, fmt.Sprintf("exit code %d", exitCode)
		}
		return obs
	default:
		return backend.Observation{Status: backend.StatusPending, Message: status}
	}
}

func expired(deadline string, now time.Time) bool {
	if deadline == "" {
		return false
	}
	at, err := time.Parse(time.RFC3339Nano, deadline)
	if err != nil {
		return false
	}
	return now.After(at)
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func containerName(runID string) string {
	if runID == "" {
		return ""
	}
	return namePrefix + strings.ToLower(runID)
}
