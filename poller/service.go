package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/workflow"
)

// Service keeps at most one poller per name.
type Service struct {
	mu       sync.RWMutex
	pollers  map[string]*Poller
	logger   runcore.Logger
	defaults []Option
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceLogger(logger runcore.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDefaults applies opts to every poller created by the service.
func WithDefaults(opts ...Option) ServiceOption {
	return func(s *Service) {
		s.defaults = append(s.defaults, opts...)
	}
}

func NewService(opts ...ServiceOption) *Service {
	s := &Service{pollers: make(map[string]*Poller)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = runcore.NormalizeLogger(s.logger)
	return s
}

// CreatePoller registers a new poller under name. An existing poller with
// the same name is stopped and replaced.
func (s *Service) CreatePoller(ctx context.Context, name string, workflows []*workflow.Workflow, delay time.Duration, reschedule, async bool, opts ...Option) (*Poller, error) {
	all := make([]Option, 0, len(s.defaults)+len(opts)+1)
	all = append(all, WithLogger(s.logger))
	all = append(all, s.defaults...)
	all = append(all, opts...)
	p := New(name, workflows, delay, reschedule, async, all...)
	if err := s.Add(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Add registers p, stopping and replacing any poller with the same name.
func (s *Service) Add(ctx context.Context, p *Poller) error {
	s.mu.Lock()
	previous := s.pollers[p.Name()]
	s.pollers[p.Name()] = p
	s.mu.Unlock()

	if previous != nil && previous != p {
		s.logger.Info("replacing poller %s", p.Name())
		return previous.StopPolling(ctx)
	}
	return nil
}

// Get returns the poller registered under name.
func (s *Service) Get(name string) (*Poller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pollers[name]
	return p, ok
}

// Names returns the registered poller names in sorted order.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.pollers))
	for name := range s.pollers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) StartOne(ctx context.Context, name string) error {
	p, ok := s.Get(name)
	if !ok {
		return NotFound(name)
	}
	return p.StartPolling(ctx)
}

func (s *Service) StopOne(ctx context.Context, name string) error {
	p, ok := s.Get(name)
	if !ok {
		return NotFound(name)
	}
	return p.StopPolling(ctx)
}

// Remove stops the poller and drops it from the service.
func (s *Service) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	p, ok := s.pollers[name]
	delete(s.pollers, name)
	s.mu.Unlock()
	if !ok {
		return NotFound(name)
	}
	return p.StopPolling(ctx)
}

// Forget drops p if it is still the poller registered under its name. It
// does not stop p; it is meant for pollers that already stopped themselves.
func (s *Service) Forget(p *Poller) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.pollers[p.Name()]; ok && current == p {
		delete(s.pollers, p.Name())
		return true
	}
	return false
}

// StartPolling starts every active registered poller. Inactive pollers are skipped.
func (s *Service) StartPolling(ctx context.Context) error {
	var errs []error
	for _, p := range s.snapshot() {
		if !p.IsActive() {
			continue
		}
		if err := p.StartPolling(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopPolling stops every registered poller concurrently.
func (s *Service) StopPolling(ctx context.Context) error {
	pollers := s.snapshot()
	errs := make([]error, len(pollers))
	var wg sync.WaitGroup
	for i, p := range pollers {
		wg.Add(1)
		go func(i int, p *Poller) {
			defer wg.Done()
			errs[i] = p.StopPolling(ctx)
		}(i, p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *Service) snapshot() []*Poller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		out = append(out, p)
	}
	return out
}
