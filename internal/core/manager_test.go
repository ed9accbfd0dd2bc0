package core

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/researchflow/internal/adapters/sources"
	"github.com/eleven-am/researchflow/internal/adapters/storage"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/logging"
)

func testConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	cfg.Logger = logging.Discard()
	cfg.Storage = domain.StorageConfig{Driver: domain.StoreDriverMemory}
	cfg.Orchestrator.SchedulingInterval = 5 * time.Millisecond
	cfg.Resources.SampleInterval = 10 * time.Millisecond
	cfg.Observability.MetricsEnabled = true
	return cfg
}

func TestManagerRunsFlowsEndToEnd(t *testing.T) {
	web := newFakeSource("web", 2)
	github := newFakeSource("github", 1)

	m, err := NewManager(testConfig(),
		WithSources(sources.NewRegistry(web, github)),
		WithSampler(nil),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))

	o := m.Orchestrator()
	flow, err := o.CreateFlow(ctx, domain.CreateFlowRequest{
		Name:  "manager",
		Tasks: []domain.TaskSpec{task("a", "web"), task("b", "github")},
	})
	require.NoError(t, err)
	_, err = o.StartFlow(ctx, flow.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f, err := o.GetFlow(ctx, flow.ID)
		return err == nil && f.Status == domain.FlowStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	require.NotNil(t, m.Metrics())
	rec := httptest.NewRecorder()
	m.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `researchflow_tasks_started_total{source="web"} 1`)
	assert.Contains(t, string(body), `researchflow_flows{status="completed"} 1`)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))
	require.NoError(t, m.Stop(stopCtx))

	assert.Error(t, m.Start(ctx))
}

func TestManagerRecoversOnStart(t *testing.T) {
	store := storage.NewMemoryStore()
	stored := interruptedFlow(t, store, domain.FlowStatusRunning, domain.TaskStatusRunning)

	cfg := testConfig()
	cfg.Orchestrator.RecoveryMode = domain.RecoveryModeRequeue
	m, err := NewManager(cfg,
		WithStore(store),
		WithSources(sources.NewRegistry(newFakeSource("web", 3))),
		WithSampler(nil),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool {
		f, err := m.Orchestrator().GetFlow(context.Background(), stored.ID)
		return err == nil && f.Status == domain.FlowStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Resources.MaxConcurrentTasks = 0
	_, err := NewManager(cfg)
	assert.True(t, domain.IsValidation(err))
}
