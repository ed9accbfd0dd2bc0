package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/researchflow/internal/adapters/events"
	"github.com/eleven-am/researchflow/internal/adapters/metrics"
	"github.com/eleven-am/researchflow/internal/adapters/rate_limiter"
	"github.com/eleven-am/researchflow/internal/adapters/resource_governor"
	"github.com/eleven-am/researchflow/internal/adapters/retry"
	"github.com/eleven-am/researchflow/internal/adapters/sources"
	"github.com/eleven-am/researchflow/internal/adapters/storage"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

// Manager assembles the orchestrator and its adapters from a Config and
// owns their lifecycle.
type Manager struct {
	config *domain.Config
	logger *slog.Logger

	store        ports.FlowStore
	governor     *resource_governor.Governor
	limiter      *rate_limiter.Limiter
	sources      ports.SourceRegistry
	broker       *events.Broker
	metrics      *metrics.Prometheus
	orchestrator *Orchestrator

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type ManagerOption func(*managerOptions)

type managerOptions struct {
	store        ports.FlowStore
	sources      ports.SourceRegistry
	extra        []ports.Source
	sampler      ports.UtilizationSampler
	noSampler    bool
	httpClient   *http.Client
	retryOptions []retry.Option
	clock        func() time.Time
}

// WithStore replaces the store opened from the storage config.
func WithStore(store ports.FlowStore) ManagerOption {
	return func(o *managerOptions) { o.store = store }
}

// WithSources replaces the built-in backend registry.
func WithSources(registry ports.SourceRegistry) ManagerOption {
	return func(o *managerOptions) { o.sources = registry }
}

// WithExtraSources registers additional backends next to the built-in ones.
// A source with a built-in name replaces it.
func WithExtraSources(srcs ...ports.Source) ManagerOption {
	return func(o *managerOptions) { o.extra = append(o.extra, srcs...) }
}

// WithSampler sets the utilization sampler. A nil sampler disables the CPU
// and memory thresholds.
func WithSampler(sampler ports.UtilizationSampler) ManagerOption {
	return func(o *managerOptions) {
		o.sampler = sampler
		o.noSampler = sampler == nil
	}
}

func WithHTTPClient(hc *http.Client) ManagerOption {
	return func(o *managerOptions) { o.httpClient = hc }
}

func WithRetryOptions(opts ...retry.Option) ManagerOption {
	return func(o *managerOptions) { o.retryOptions = append(o.retryOptions, opts...) }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) { o.clock = now }
}

func NewManager(config *domain.Config, opts ...ManagerOption) (*Manager, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var options managerOptions
	for _, opt := range opts {
		opt(&options)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		config: config,
		logger: logger.With("component", "manager"),
	}

	store := options.store
	if store == nil {
		var err error
		store, err = storage.Open(config.Storage, logger)
		if err != nil {
			return nil, err
		}
	}
	m.store = store

	sampler := options.sampler
	if sampler == nil && !options.noSampler {
		procSampler, err := resource_governor.NewProcSampler()
		if err != nil {
			m.logger.Warn("utilization sampling unavailable, only count limits apply", "error", err)
		} else {
			sampler = procSampler
		}
	}
	m.governor = resource_governor.New(resource_governor.ConfigFrom(config.Resources), sampler, logger)

	var limiterOpts []rate_limiter.Option
	if options.clock != nil {
		limiterOpts = append(limiterOpts, rate_limiter.WithClock(options.clock))
	}
	m.limiter = rate_limiter.FromConfig(config.Services, logger, limiterOpts...)

	m.sources = options.sources
	if m.sources == nil {
		hc := options.httpClient
		if hc == nil {
			hc = &http.Client{}
		}
		registry := sources.DefaultRegistry(config.Services, hc)
		for _, src := range options.extra {
			registry.Register(src)
		}
		m.sources = registry
	} else if len(options.extra) > 0 {
		m.logger.Warn("extra sources ignored with a custom registry", "count", len(options.extra))
	}

	m.broker = events.NewBroker(config.Orchestrator.EventBufferSize, logger)

	var sink ports.Metrics = ports.NoopMetrics{}
	if config.Observability.MetricsEnabled {
		m.metrics = metrics.NewPrometheus()
		sink = m.metrics
		m.governor.SetMetrics(m.metrics)
		m.limiter.SetMetrics(m.metrics)
	}

	orchestrator, err := NewOrchestrator(Dependencies{
		Store:    m.store,
		Governor: m.governor,
		Limiter:  m.limiter,
		Sources:  m.sources,
		Events:   m.broker,
		Metrics:  sink,
		Logger:   logger,
	}, Config{
		Orchestrator:   config.Orchestrator,
		Retry:          retry.PolicyFrom(config.Retry),
		DefaultWorkers: config.Resources.MaxThreadWorkers,
		Services:       config.Services,
		RetryOptions:   options.retryOptions,
		Clock:          options.clock,
	})
	if err != nil {
		_ = m.store.Close()
		return nil, err
	}
	m.orchestrator = orchestrator

	return m, nil
}

// Start begins utilization sampling and recovers flows left running or
// paused by a previous process.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return domain.NewOrchestrationError("start", "stopped")
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.governor.Start(m.ctx)

	report, err := m.orchestrator.Recover(ctx)
	if err != nil {
		return domain.NewInternalError("recover flows", err)
	}
	if report.Flows > 0 {
		m.logger.Info("recovered flows from previous run", "flows", report.Flows)
	}

	if m.metrics != nil {
		m.wg.Add(1)
		go m.observe()
	}

	m.logger.Info("manager started",
		"store", m.config.Storage.Driver,
		"sources", m.sources.Names(),
		"max_concurrent_tasks", m.config.Resources.MaxConcurrentTasks)
	return nil
}

func (m *Manager) observe() {
	defer m.wg.Done()

	interval := m.config.Resources.SampleInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.metrics.ObserveGovernor(m.governor.Stats())
		}
	}
}

// Stop halts the orchestrator, the event broker and the store in that order
// and returns every error encountered.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	var errs []error
	if err := m.orchestrator.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.broker.Close()
	if err := m.store.Close(); err != nil {
		errs = append(errs, domain.NewInternalError("close store", err))
	}

	if len(errs) > 0 {
		m.logger.Error("manager stopped with errors", "error", errors.Join(errs...))
		return errors.Join(errs...)
	}
	m.logger.Info("manager stopped")
	return nil
}

func (m *Manager) Orchestrator() *Orchestrator { return m.orchestrator }

func (m *Manager) Broker() *events.Broker { return m.broker }

// Metrics is nil when metrics are disabled.
func (m *Manager) Metrics() *metrics.Prometheus { return m.metrics }

func (m *Manager) Sources() ports.SourceRegistry { return m.sources }

func (m *Manager) Config() *domain.Config { return m.config }
