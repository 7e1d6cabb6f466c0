package job

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/lifecycle"
	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/registry"
	"github.com/goliatone/go-runcore/workflow"
)

// Monitor builds the workflow that follows a launched job.
//
// Each tick inspects the execution once and returns; nothing blocks waiting
// for the job. On a terminal observation the logs are copied to the artifact
// sink and the workflow asks the poller to stop.
type Monitor struct{}

var _ backend.WorkflowFactory = Monitor{}

func (Monitor) Key() registry.Key {
	return registry.NewKey(Runtime, ActionPerform)
}

func (Monitor) Workflows(s *backend.Session) ([]*workflow.Workflow, error) {
	if s == nil || s.Machine == nil || s.Framework == nil {
		return nil, fmt.Errorf("job monitor: incomplete session")
	}
	m := &monitor{session: s, logger: runcore.NormalizeLogger(s.Logger)}

	wf := workflow.NewBuilder("monitor:"+s.Run.ID).
		Then("inspect", m.inspect).
		Then("advance", m.advance).
		ThenIf("collect", isTerminal, m.collect).
		Then("settle", m.settle).
		Build()
	return []*workflow.Workflow{wf}, nil
}

type monitor struct {
	session *backend.Session
	logger  runcore.Logger
}

func (m *monitor) inspect(ctx context.Context, _ any) (any, error) {
	obs, err := m.session.Framework.Inspect(ctx, m.session.Execution)
	if err != nil {
		return nil, fmt.Errorf("inspect execution %s: %w", m.session.Execution.ID, err)
	}
	return obs, nil
}

// advance maps the observation onto lifecycle events.
func (m *monitor) advance(ctx context.Context, in any) (any, error) {
	obs := in.(backend.Observation)
	machine := m.session.Machine

	var err error
	switch obs.Status {
	case backend.StatusPending:
		if machine.CurrentState() == model.StateReady {
			_, err = machine.ProcessEvent(ctx, lifecycle.EventPending, obs)
		}
	case backend.StatusRunning:
		_, err = lifecycle.Fire(ctx, machine, lifecycle.EventRunning, model.StateRunning, obs)
	case backend.StatusSucceeded:
		_, err = lifecycle.Fire(ctx, machine, lifecycle.EventCompleted, model.StateCompleted, obs)
	case backend.StatusFailed:
		msg := obs.Message
		if msg == "" {
			msg = fmt.Sprintf("execution %s failed with exit code %d", m.session.Execution.ID, obs.ExitCode)
		}
		_, err = lifecycle.Fire(ctx, machine, lifecycle.EventError, model.StateError, msg)
	default:
		m.logger.Warn("run %s: unknown execution status %q", m.session.Run.ID, obs.Status)
	}
	if err != nil {
		return nil, err
	}
	return obs, nil
}

func isTerminal(_ context.Context, in any) bool {
	obs, ok := in.(backend.Observation)
	return ok && obs.Status.Terminal()
}

// collect copies the execution logs to the sink, records the pointer in
// run.Extra["artifacts"] and releases the execution when the framework
// supports it.
func (m *monitor) collect(ctx context.Context, in any) (any, error) {
	obs := in.(backend.Observation)
	s := m.session

	pointers := map[string]any{}
	if reader, ok := s.Framework.(backend.LogReader); ok && s.Sink != nil {
		rc, err := reader.Logs(ctx, s.Execution)
		if err != nil {
			m.logger.Warn("run %s: read logs: %v", s.Run.ID, err)
		} else {
			var buf bytes.Buffer
			_, err = io.Copy(&buf, rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read logs of %s: %w", s.Execution.ID, err)
			}
			key := fmt.Sprintf("runs/%s/logs.txt", s.Run.ID)
			ptr, err := s.Sink.Put(ctx, key, &buf, int64(buf.Len()), "text/plain")
			if err != nil {
				return nil, fmt.Errorf("store logs of %s: %w", s.Execution.ID, err)
			}
			pointers["logs"] = ptr
		}
	}

	run, err := s.Store.GetRun(ctx, s.Run.ID)
	if err != nil {
		return nil, err
	}
	run.SetExtra(model.ExtraStatus, string(obs.Status))
	if len(pointers) > 0 {
		run.SetExtra(model.ExtraArtifacts, pointers)
	}
	if _, err := s.Store.UpdateRun(ctx, run, s.Run.ID); err != nil {
		return nil, err
	}

	if cleaner, ok := s.Framework.(backend.Cleaner); ok {
		if err := cleaner.Cleanup(ctx, s.Execution); err != nil {
			m.logger.Warn("run %s: cleanup %s: %v", s.Run.ID, s.Execution.ID, err)
		}
	}
	return obs, nil
}

func (m *monitor) settle(_ context.Context, in any) (any, error) {
	state := m.session.Machine.CurrentState()
	if state.Terminal() {
		return in, workflow.StopPolling(fmt.Sprintf("run %s reached %s", m.session.Run.ID, state))
	}
	return in, nil
}
