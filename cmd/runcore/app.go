package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/artifacts"
	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/config"
	"github.com/goliatone/go-runcore/dispatcher"
	"github.com/goliatone/go-runcore/frameworks/docker"
	"github.com/goliatone/go-runcore/frameworks/local"
	"github.com/goliatone/go-runcore/metrics"
	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/orchestrator"
	"github.com/goliatone/go-runcore/poller"
	"github.com/goliatone/go-runcore/runtimes/job"
	"github.com/goliatone/go-runcore/spec"
	"github.com/goliatone/go-runcore/store"
	"github.com/goliatone/go-runcore/trigger"
)

// app holds every wired component of one process.
type app struct {
	cfg        *config.Config
	logger     runcore.Logger
	store      model.Store
	dispatcher *dispatcher.Dispatcher
	orch       *orchestrator.Orchestrator
	recorder   *metrics.Recorder
	nc         *nats.Conn
	subscriber *trigger.Subscriber
	server     *http.Server

	closers []func() error
}

func newLogger(cfg config.LogConfig, out io.Writer) runcore.Logger {
	if cfg.JSON {
		return runcore.NewGlogAdapter(glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(cfg.Level),
		))
	}
	return runcore.NewGlogAdapter(glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLevel(cfg.Level),
	))
}

func newApp(ctx context.Context, cfg *config.Config, logger runcore.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: runcore.NormalizeLogger(logger)}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.store, err = store.Open(ctx, cfg.Store.Options()); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	specs, err := spec.NewRegistry(job.SpecEntries()...)
	if err != nil {
		return nil, err
	}

	sets := []backend.Set{job.Register(specs), local.New().Register()}
	if cfg.Docker.Enabled {
		fw, err := docker.New(docker.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fw.Close)
		if err := fw.Ping(ctx); err != nil {
			return nil, fmt.Errorf("docker engine: %w", err)
		}
		sets = append(sets, fw.Register())
	}
	strategies, err := backend.NewStrategies(sets...)
	if err != nil {
		return nil, fmt.Errorf("strategies: %w", err)
	}

	sink, err := newSink(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}

	a.recorder = metrics.New(cfg.Metrics.Namespace, prometheus.NewRegistry())
	a.dispatcher = dispatcher.NewDispatcher(dispatcher.WithLogger(a.logger))
	pollers := poller.NewService(
		poller.WithServiceLogger(a.logger),
		poller.WithDefaults(poller.WithShutdownTimeout(cfg.Poller.ShutdownTimeout)),
	)

	a.orch, err = orchestrator.New(a.store, strategies,
		orchestrator.WithLogger(a.logger),
		orchestrator.WithDispatcher(a.dispatcher),
		orchestrator.WithPollingService(pollers),
		orchestrator.WithSink(sink),
		orchestrator.WithRecorder(a.recorder),
		orchestrator.WithPlatform(cfg.Platform),
		orchestrator.WithPollDelay(cfg.Poller.Delay),
		orchestrator.WithAsync(cfg.Poller.Async),
		orchestrator.WithCron(cfg.Poller.Cron),
		orchestrator.WithExecuteRetries(cfg.Poller.ExecuteRetries, nil),
	)
	if err != nil {
		return nil, err
	}
	a.orch.Subscribe(a.dispatcher)
	return a, nil
}

func newSink(ctx context.Context, cfg config.ArtifactsConfig) (backend.ArtifactSink, error) {
	if !cfg.Enabled {
		return artifacts.NewMemory(""), nil
	}
	sink, err := artifacts.NewMinioSink(cfg.MinioConfig)
	if err != nil {
		return nil, err
	}
	if err := sink.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// listen connects the NATS trigger and the metrics endpoint when configured.
func (a *app) listen(ctx context.Context) error {
	if a.cfg.NATS.URL != "" {
		nc, err := trigger.Connect(a.cfg.NATS.URL, "runcore")
		if err != nil {
			return err
		}
		a.nc = nc
		a.subscriber = trigger.New(nc, a.dispatcher,
			trigger.WithLogger(a.logger),
			trigger.WithPrefix(a.cfg.NATS.Prefix),
			trigger.WithQueue(a.cfg.NATS.Queue),
			trigger.WithContext(ctx),
		)
		if err := trigger.Route[model.RunCreated](a.subscriber); err != nil {
			return err
		}
		if err := trigger.Route[model.RunStopped](a.subscriber); err != nil {
			return err
		}
	}

	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.recorder.Handler())
		a.server = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server: %v", err)
			}
		}()
		a.logger.Info("metrics listening on %s", a.cfg.Metrics.Addr)
	}
	return nil
}

func (a *app) loadDefinitions(ctx context.Context, paths []string) error {
	for _, path := range paths {
		defs, err := config.LoadDefinitions(path)
		if err != nil {
			return err
		}
		if err := defs.Apply(ctx, a.store); err != nil {
			return err
		}
		a.logger.Info("loaded %d functions and %d tasks from %s", len(defs.Functions), len(defs.Tasks), path)
	}
	return nil
}

// shutdown stops intake first, then monitors, then releases resources.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.subscriber != nil {
		errs = append(errs, a.subscriber.Close())
	}
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.orch != nil {
		errs = append(errs, a.orch.Shutdown(ctx))
	}
	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *app) close() error {
	var errs []error
	if a.nc != nil {
		a.nc.Close()
		a.nc = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
