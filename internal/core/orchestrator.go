package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/researchflow/internal/adapters/retry"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

type Dependencies struct {
	Store    ports.FlowStore
	Governor ports.ResourceGovernor
	Limiter  ports.RateLimiter
	Sources  ports.SourceRegistry
	Events   ports.EventBus
	Metrics  ports.Metrics
	Logger   *slog.Logger
}

type Config struct {
	Orchestrator   domain.OrchestratorConfig
	Retry          retry.Policy
	DefaultWorkers int
	Services       map[string]domain.ServiceConfig

	// RetryOptions are passed to every retried backend call.
	RetryOptions []retry.Option
	Clock        func() time.Time
}

// Orchestrator owns the lifecycle of every flow. All mutations of one flow
// happen under that flow's lock and are persisted before the matching event
// is published.
type Orchestrator struct {
	store    ports.FlowStore
	governor ports.ResourceGovernor
	limiter  ports.RateLimiter
	sources  ports.SourceRegistry
	events   ports.EventBus
	metrics  ports.Metrics
	logger   *slog.Logger

	config Config
	now    func() time.Time
	locks  flowLocks

	mu     sync.RWMutex
	runs   map[string]*flowRun
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(deps Dependencies, config Config) (*Orchestrator, error) {
	if deps.Store == nil || deps.Governor == nil || deps.Limiter == nil || deps.Sources == nil || deps.Events == nil {
		return nil, domain.NewValidationError("orchestrator requires store, governor, limiter, sources and events")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NoopMetrics{}
	}

	defaults := domain.DefaultOrchestratorConfig()
	if config.Orchestrator.SchedulingInterval <= 0 {
		config.Orchestrator.SchedulingInterval = defaults.SchedulingInterval
	}
	if config.Orchestrator.StallTimeout <= 0 {
		config.Orchestrator.StallTimeout = defaults.StallTimeout
	}
	if config.Orchestrator.RecoveryMode == "" {
		config.Orchestrator.RecoveryMode = defaults.RecoveryMode
	}
	if config.Orchestrator.DefaultMaxPages <= 0 {
		config.Orchestrator.DefaultMaxPages = defaults.DefaultMaxPages
	}
	if config.Orchestrator.DefaultPageSize <= 0 {
		config.Orchestrator.DefaultPageSize = defaults.DefaultPageSize
	}
	if config.DefaultWorkers <= 0 {
		config.DefaultWorkers = domain.DefaultResourceConfig().MaxThreadWorkers
	}
	now := config.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    deps.Store,
		governor: deps.Governor,
		limiter:  deps.Limiter,
		sources:  deps.Sources,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With("component", "orchestrator"),
		config:   config,
		now:      now,
		runs:     make(map[string]*flowRun),
		ctx:      ctx,
		cancel:   cancel,
	}

	o.wg.Add(1)
	go o.watchStalls()

	return o, nil
}

func (o *Orchestrator) CreateFlow(ctx context.Context, req domain.CreateFlowRequest) (*domain.Flow, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	req.Normalize()
	if err := req.Validate(func(name string) bool {
		_, ok := o.sources.Get(name)
		return ok
	}); err != nil {
		return nil, err
	}

	for i := range req.Tasks {
		spec := &req.Tasks[i]
		src, _ := o.sources.Get(spec.Source)
		merged, err := domain.MergeSourceConfig(src.Defaults(), spec.SourceConfig)
		if err != nil {
			return nil, err
		}
		if err := src.Validate(merged); err != nil {
			return nil, domain.NewValidationError("task %q: %v", spec.Name, err)
		}
		spec.SourceConfig = merged
	}

	flow := domain.NewFlow(req, uuid.NewString, o.config.DefaultWorkers, o.now())
	if err := o.store.Create(ctx, flow); err != nil {
		return nil, err
	}

	o.metrics.FlowStatusChanged("", string(flow.Status))
	o.events.Publish(domain.NewFlowEvent(domain.EventFlowCreated, flow, ""))
	o.logger.Info("flow created", "flow_id", flow.ID, "name", flow.Name, "tasks", len(flow.Tasks))
	return flow.Clone(), nil
}

func (o *Orchestrator) GetFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	return o.store.Get(ctx, flowID)
}

func (o *Orchestrator) ListFlows(ctx context.Context) ([]domain.FlowSummary, error) {
	flows, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FlowSummary, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.Summary())
	}
	return out, nil
}

func (o *Orchestrator) StartFlow(ctx context.Context, flowID string) (domain.FlowSummary, error) {
	if err := o.checkOpen(); err != nil {
		return domain.FlowSummary{}, err
	}

	unlock := o.locks.lock(flowID)
	defer unlock()

	flow, _, err := o.current(ctx, flowID)
	if err != nil {
		return domain.FlowSummary{}, err
	}
	if flow.Status != domain.FlowStatusPending {
		return domain.FlowSummary{}, domain.NewOrchestrationError("start", flow.Status)
	}
	if len(flow.Tasks) == 0 {
		return domain.FlowSummary{}, domain.NewValidationError("flow %s has no tasks", flowID)
	}

	now := o.now()
	o.setFlowStatus(flow, domain.FlowStatusRunning)
	flow.StartedAt = &now
	flow.AppendLog(now, domain.LogLevelInfo, "", fmt.Sprintf("flow started with %d parallel workers", flow.ParallelWorkers))

	if err := o.save(ctx, flow, domain.EventFlowStatus, ""); err != nil {
		return domain.FlowSummary{}, err
	}

	o.launch(flow)
	o.logger.Info("flow started", "flow_id", flowID)
	return flow.Summary(), nil
}

func (o *Orchestrator) PauseFlow(ctx context.Context, flowID string) (domain.FlowSummary, error) {
	unlock := o.locks.lock(flowID)
	defer unlock()

	flow, run, err := o.current(ctx, flowID)
	if err != nil {
		return domain.FlowSummary{}, err
	}
	if flow.Status != domain.FlowStatusRunning || run == nil {
		return domain.FlowSummary{}, domain.NewOrchestrationError("pause", flow.Status)
	}

	now := o.now()
	run.gate.Pause()
	o.setFlowStatus(flow, domain.FlowStatusPaused)
	paused := 0
	for _, t := range flow.Tasks {
		if t.Status == domain.TaskStatusRunning {
			t.Status = domain.TaskStatusPaused
			flow.AppendLog(now, domain.LogLevelInfo, t.ID, fmt.Sprintf("task %s paused at progress %.2f", t.Name, t.Progress))
			paused++
		}
	}
	flow.AppendLog(now, domain.LogLevelInfo, "", fmt.Sprintf("flow paused, %d tasks will stop at their next checkpoint", paused))

	if err := o.save(ctx, flow, domain.EventFlowStatus, ""); err != nil {
		return domain.FlowSummary{}, err
	}
	o.logger.Info("flow paused", "flow_id", flowID, "tasks_paused", paused)
	return flow.Summary(), nil
}

func (o *Orchestrator) ResumeFlow(ctx context.Context, flowID string) (domain.FlowSummary, error) {
	if err := o.checkOpen(); err != nil {
		return domain.FlowSummary{}, err
	}

	unlock := o.locks.lock(flowID)
	defer unlock()

	flow, run, err := o.current(ctx, flowID)
	if err != nil {
		return domain.FlowSummary{}, err
	}
	if flow.Status != domain.FlowStatusPaused {
		return domain.FlowSummary{}, domain.NewOrchestrationError("resume", flow.Status)
	}

	now := o.now()
	o.setFlowStatus(flow, domain.FlowStatusRunning)
	for _, t := range flow.Tasks {
		if t.Status == domain.TaskStatusPaused {
			t.Status = domain.TaskStatusRunning
			flow.AppendLog(now, domain.LogLevelInfo, t.ID, fmt.Sprintf("task %s resumed from page %d", t.Name, t.Checkpoint.NextPage))
		}
	}
	flow.AppendLog(now, domain.LogLevelInfo, "", "flow resumed")

	if err := o.save(ctx, flow, domain.EventFlowStatus, ""); err != nil {
		return domain.FlowSummary{}, err
	}

	if run == nil {
		o.launch(flow)
	} else {
		run.touch(now)
		run.gate.Resume()
		run.wakeUp()
	}
	o.logger.Info("flow resumed", "flow_id", flowID)
	return flow.Summary(), nil
}

// CancelFlow is idempotent: cancelling a terminal flow returns its summary
// unchanged.
func (o *Orchestrator) CancelFlow(ctx context.Context, flowID string) (domain.FlowSummary, error) {
	unlock := o.locks.lock(flowID)
	defer unlock()

	flow, run, err := o.current(ctx, flowID)
	if err != nil {
		return domain.FlowSummary{}, err
	}
	if flow.Status.IsTerminal() {
		return flow.Summary(), nil
	}

	if err := o.cancelLocked(ctx, flow, run, "flow cancelled"); err != nil {
		return domain.FlowSummary{}, err
	}
	o.logger.Info("flow cancelled", "flow_id", flowID)
	return flow.Summary(), nil
}

// DeleteFlow cancels a non-terminal flow before removing it.
func (o *Orchestrator) DeleteFlow(ctx context.Context, flowID string) error {
	gone := false
	defer func() {
		if gone {
			o.locks.forget(flowID)
		}
	}()

	unlock := o.locks.lock(flowID)
	defer unlock()

	flow, run, err := o.current(ctx, flowID)
	if err != nil {
		gone = domain.IsNotFound(err)
		return err
	}
	if !flow.Status.IsTerminal() {
		if err := o.cancelLocked(ctx, flow, run, "flow cancelled for deletion"); err != nil {
			return err
		}
	}

	if err := o.store.Delete(ctx, flowID); err != nil {
		return err
	}
	gone = true

	o.metrics.FlowStatusChanged(string(flow.Status), "")
	o.events.Publish(domain.FlowEvent{
		Type:      domain.EventFlowDeleted,
		FlowID:    flowID,
		Timestamp: o.now(),
	})
	o.logger.Info("flow deleted", "flow_id", flowID)
	return nil
}

// Subscribe returns the current snapshot of a flow together with a stream
// of its later changes.
func (o *Orchestrator) Subscribe(ctx context.Context, flowID string) (*domain.Flow, <-chan domain.FlowEvent, func(), error) {
	events, cancel := o.events.Subscribe(flowID)
	flow, err := o.store.Get(ctx, flowID)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return flow, events, cancel, nil
}

type Stats struct {
	ActiveFlows int                                 `json:"active_flows"`
	Governor    ports.ExecutionStats                `json:"governor"`
	RateLimits  map[string]ports.RateLimiterMetrics `json:"rate_limits"`
}

func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	active := len(o.runs)
	o.mu.RUnlock()

	return Stats{
		ActiveFlows: active,
		Governor:    o.governor.Stats(),
		RateLimits:  o.limiter.GlobalMetrics(),
	}
}

// Ready reports whether the orchestrator accepts work and its store answers.
func (o *Orchestrator) Ready(ctx context.Context) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	_, err := o.store.List(ctx)
	return err
}

// Close stops every scheduler and worker without changing flow state, so a
// later Recover can pick the flows up again.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	runs := make([]*flowRun, 0, len(o.runs))
	for _, run := range o.runs {
		runs = append(runs, run)
	}
	o.mu.Unlock()

	o.logger.Info("stopping orchestrator", "active_flows", len(runs))
	for _, run := range runs {
		run.stop()
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("all workers stopped")
		return nil
	case <-ctx.Done():
		o.logger.Warn("timeout waiting for workers to stop")
		return domain.NewInternalError("orchestrator shutdown", ctx.Err())
	}
}

func (o *Orchestrator) checkOpen() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return domain.NewOrchestrationError("accept work", "closed")
	}
	return nil
}

// current returns the authoritative copy of a flow: the live one for an
// active run, otherwise the stored one. Callers hold the flow lock.
func (o *Orchestrator) current(ctx context.Context, flowID string) (*domain.Flow, *flowRun, error) {
	o.mu.RLock()
	run := o.runs[flowID]
	o.mu.RUnlock()
	if run != nil {
		return run.flow, run, nil
	}

	flow, err := o.store.Get(ctx, flowID)
	if err != nil {
		return nil, nil, err
	}
	return flow, nil, nil
}

// save persists flow and publishes one event for the change. Callers hold
// the flow lock.
func (o *Orchestrator) save(ctx context.Context, flow *domain.Flow, event domain.EventType, taskID string) error {
	flow.Touch(o.now())
	flow.RecomputeProgress()

	if err := o.store.Update(ctx, flow); err != nil {
		o.logger.Error("failed to persist flow", "flow_id", flow.ID, "error", err)
		return err
	}
	o.events.Publish(domain.NewFlowEvent(event, flow, taskID))
	return nil
}

func (o *Orchestrator) setFlowStatus(flow *domain.Flow, to domain.FlowStatus) {
	from := flow.Status
	flow.Status = to
	o.metrics.FlowStatusChanged(string(from), string(to))
}

// cancelLocked moves a non-terminal flow and its open tasks to cancelled and
// stops its workers. Committed results are kept.
func (o *Orchestrator) cancelLocked(ctx context.Context, flow *domain.Flow, run *flowRun, reason string) error {
	now := o.now()
	for _, t := range flow.Tasks {
		if t.Status.IsTerminal() {
			continue
		}
		wasActive := t.Status.IsActive()
		t.Status = domain.TaskStatusCancelled
		t.FinishedAt = &now
		t.Checkpoint.Items = nil
		if wasActive {
			o.metrics.TaskFinished(t.Source, string(domain.TaskStatusCancelled), since(t.StartedAt, now))
		}
		flow.AppendLog(now, domain.LogLevelInfo, t.ID, fmt.Sprintf("task %s cancelled", t.Name))
	}

	o.setFlowStatus(flow, domain.FlowStatusCancelled)
	flow.FinishedAt = &now
	flow.Stalled = false
	flow.RefreshOutcome()
	flow.AppendLog(now, domain.LogLevelInfo, "", reason)

	if run != nil {
		o.detach(run)
		run.stop()
	}
	return o.save(ctx, flow, domain.EventFlowStatus, "")
}

func since(start *time.Time, now time.Time) time.Duration {
	if start == nil {
		return 0
	}
	return now.Sub(*start)
}
