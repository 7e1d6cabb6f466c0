// Command runcore runs the orchestrator as a service or submits single runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-runcore/config"
	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/trigger"
)

var version = "dev"

type CLI struct {
	Config  string           `help:"YAML configuration file." type:"path" env:"RUNCORE_CONFIG"`
	EnvFile []string         `help:"Dotenv files loaded before the environment is read." name:"env-file" default:".env"`
	Version kong.VersionFlag `help:"Print the version and exit."`

	Serve  ServeCmd  `cmd:"" help:"Run the orchestrator until interrupted."`
	Submit SubmitCmd `cmd:"" help:"Submit one run."`
}

func (c *CLI) load() (*config.Config, error) {
	return config.Load(c.Config, c.EnvFile...)
}

type ServeCmd struct {
	Definitions []string `help:"Function and task definition files." type:"existingfile" short:"d"`
}

func (s *ServeCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, newLogger(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	if err := a.loadDefinitions(ctx, s.Definitions); err != nil {
		a.close()
		return err
	}
	if err := a.listen(ctx); err != nil {
		a.shutdown(context.Background())
		return err
	}

	a.logger.Info("runcore %s serving on platform %s", version, cfg.Platform)
	<-ctx.Done()
	a.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Poller.ShutdownTimeout+5*time.Second)
	defer cancel()
	return a.shutdown(stopCtx)
}

type SubmitCmd struct {
	Task        string        `arg:"" help:"Run reference: {runtime}+{action}://{project}/{name}:{version}."`
	Definitions []string      `help:"Function and task definition files." type:"existingfile" short:"d"`
	Spec        string        `help:"YAML file with run spec overrides." type:"existingfile"`
	Publish     bool          `help:"Save the run and publish it on NATS for a serving process instead of running it here."`
	Timeout     time.Duration `help:"How long to wait for a terminal state." default:"30m"`
}

func (s *SubmitCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, newLogger(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	if err := a.loadDefinitions(ctx, s.Definitions); err != nil {
		return err
	}

	draft := &model.Run{Task: s.Task}
	if s.Spec != "" {
		data, err := os.ReadFile(s.Spec)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &draft.Spec); err != nil {
			return fmt.Errorf("parse run spec %s: %w", s.Spec, err)
		}
	}

	if s.Publish {
		return s.publish(ctx, a, draft)
	}

	run, err := a.orch.Submit(ctx, draft)
	if err != nil {
		return err
	}
	final, err := waitTerminal(ctx, a.store, run.ID, cfg.Poller.Delay, s.Timeout)
	if err != nil {
		return err
	}
	if err := yaml.NewEncoder(os.Stdout).Encode(final); err != nil {
		return err
	}
	if final.State == model.StateError {
		return fmt.Errorf("run %s failed", final.ID)
	}
	return nil
}

func (s *SubmitCmd) publish(ctx context.Context, a *app, draft *model.Run) error {
	if a.cfg.NATS.URL == "" {
		return fmt.Errorf("--publish requires nats.url")
	}
	ref, err := model.ParseRunRef(draft.Task)
	if err != nil {
		return err
	}
	draft.Kind, draft.Project = ref.Runtime, ref.Project
	draft.State = model.StateCreated
	run, err := a.store.Save(ctx, draft)
	if err != nil {
		return err
	}

	nc, err := trigger.Connect(a.cfg.NATS.URL, "runcore-submit")
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := trigger.Publish(ctx, nc, a.cfg.NATS.Prefix, model.RunCreated{RunID: run.ID, Task: run.Task}); err != nil {
		return err
	}
	if err := nc.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, run.ID)
	return nil
}

func waitTerminal(ctx context.Context, s model.RunStore, runID string, every, timeout time.Duration) (*model.Run, error) {
	if every <= 0 {
		every = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		run, err := s.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.State.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, fmt.Errorf("run %s still %s: %w", runID, run.State, ctx.Err())
		case <-ticker.C:
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("runcore"),
		kong.Description("Run orchestration core."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	kctx.FatalIfErrorf(kctx.Run(cli))
}
