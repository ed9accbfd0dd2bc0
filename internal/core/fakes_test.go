package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eleven-am/researchflow/internal/adapters/events"
	"github.com/eleven-am/researchflow/internal/adapters/rate_limiter"
	"github.com/eleven-am/researchflow/internal/adapters/resource_governor"
	"github.com/eleven-am/researchflow/internal/adapters/retry"
	"github.com/eleven-am/researchflow/internal/adapters/sources"
	"github.com/eleven-am/researchflow/internal/adapters/storage"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/logging"
	"github.com/eleven-am/researchflow/internal/ports"
)

// fakeSource serves pages of synthetic items and records how it was called.
type fakeSource struct {
	name     string
	pages    int
	perPage  int
	delay    time.Duration
	failWith error
	// failFirst fails this many calls before succeeding.
	failFirst int32
	// release, when set, blocks every fetch until it is closed.
	release chan struct{}

	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32

	mu        sync.Mutex
	pageCalls map[int]int
	order     []string
}

func newFakeSource(name string, pages int) *fakeSource {
	return &fakeSource{name: name, pages: pages, perPage: 2, pageCalls: make(map[int]int)}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Defaults() map[string]interface{} {
	return map[string]interface{}{"max_pages": f.pages, "page_size": f.perPage}
}

func (f *fakeSource) Validate(map[string]interface{}) error { return nil }

func (f *fakeSource) Fetch(ctx context.Context, req ports.FetchRequest) (*ports.Page, error) {
	n := f.calls.Add(1)
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if cur <= peak || f.maxInflight.CompareAndSwap(peak, cur) {
			break
		}
	}

	f.mu.Lock()
	f.pageCalls[req.Page]++
	if q, ok := req.Config["query"].(string); ok {
		f.order = append(f.order, q)
	}
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if n <= f.failFirst {
		return nil, domain.NewTransientError("temporarily unavailable", nil)
	}
	if f.failWith != nil {
		return nil, f.failWith
	}

	items := make([]domain.Item, 0, f.perPage)
	for i := 0; i < f.perPage; i++ {
		items = append(items, domain.Item{
			Title: fmt.Sprintf("%s result %d.%d", f.name, req.Page, i),
			URL:   fmt.Sprintf("https://example.com/%s/%d/%d", f.name, req.Page, i),
		})
	}
	return &ports.Page{Items: items, HasMore: req.Page+1 < f.pages}, nil
}

func (f *fakeSource) callsFor(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls[page]
}

func (f *fakeSource) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type harness struct {
	o        *Orchestrator
	store    ports.FlowStore
	governor *resource_governor.Governor
	broker   *events.Broker
}

type harnessOption func(*Dependencies, *Config)

func withMaxConcurrent(n int) harnessOption {
	return func(d *Dependencies, _ *Config) {
		d.Governor = resource_governor.New(resource_governor.Config{MaxConcurrentTasks: n}, nil, logging.Discard())
	}
}

func withStore(store ports.FlowStore) harnessOption {
	return func(d *Dependencies, _ *Config) { d.Store = store }
}

func withOrchestratorConfig(fn func(*Config)) harnessOption {
	return func(_ *Dependencies, c *Config) { fn(c) }
}

func newHarness(t *testing.T, srcs []ports.Source, opts ...harnessOption) *harness {
	t.Helper()

	logger := logging.Discard()
	deps := Dependencies{
		Store:    storage.NewMemoryStore(),
		Governor: resource_governor.New(resource_governor.Config{MaxConcurrentTasks: 16}, nil, logger),
		Limiter:  rate_limiter.New(logger),
		Sources:  sources.NewRegistry(srcs...),
		Events:   events.NewBroker(256, logger),
		Logger:   logger,
	}
	config := Config{
		Orchestrator: domain.OrchestratorConfig{
			SchedulingInterval: 5 * time.Millisecond,
			StallTimeout:       time.Minute,
			RecoveryMode:       domain.RecoveryModeFail,
			DefaultMaxPages:    3,
			DefaultPageSize:    2,
		},
		Retry: retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 5 * time.Millisecond},
		RetryOptions: []retry.Option{retry.WithSleeper(func(context.Context, time.Duration) error {
			return nil
		})},
		DefaultWorkers: 4,
	}
	for _, opt := range opts {
		opt(&deps, &config)
	}

	o, err := NewOrchestrator(deps, config)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})

	h := &harness{o: o, store: deps.Store, broker: deps.Events.(*events.Broker)}
	if g, ok := deps.Governor.(*resource_governor.Governor); ok {
		h.governor = g
	}
	return h
}

func (h *harness) create(t *testing.T, req domain.CreateFlowRequest) *domain.Flow {
	t.Helper()
	flow, err := h.o.CreateFlow(context.Background(), req)
	require.NoError(t, err)
	return flow
}

func (h *harness) start(t *testing.T, req domain.CreateFlowRequest) *domain.Flow {
	t.Helper()
	flow := h.create(t, req)
	_, err := h.o.StartFlow(context.Background(), flow.ID)
	require.NoError(t, err)
	return flow
}

func (h *harness) waitFor(t *testing.T, flowID string, cond func(*domain.Flow) bool) *domain.Flow {
	t.Helper()
	var last *domain.Flow
	require.Eventually(t, func() bool {
		f, err := h.o.GetFlow(context.Background(), flowID)
		if err != nil {
			return false
		}
		last = f
		return cond(f)
	}, 5*time.Second, 5*time.Millisecond)
	return last
}

func (h *harness) waitStatus(t *testing.T, flowID string, status domain.FlowStatus) *domain.Flow {
	t.Helper()
	return h.waitFor(t, flowID, func(f *domain.Flow) bool { return f.Status == status })
}

func task(name, source string, deps ...string) domain.TaskSpec {
	return domain.TaskSpec{
		Name:         name,
		Source:       source,
		SourceConfig: map[string]interface{}{"query": name},
		DependsOn:    deps,
	}
}

func taskNamed(f *domain.Flow, name string) *domain.Task {
	for _, t := range f.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}
