package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/researchflow/internal/adapters/storage"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

// interruptedFlow stores a flow as a crashed process would have left it:
// running, with "a" mid-way through its pages and "b" never started.
func interruptedFlow(t *testing.T, store ports.FlowStore, status domain.FlowStatus, taskStatus domain.TaskStatus) *domain.Flow {
	t.Helper()

	now := time.Now().UTC().Add(-time.Minute)
	req := domain.CreateFlowRequest{Name: "crashed", Tasks: []domain.TaskSpec{task("a", "web"), task("b", "web")}}
	req.Normalize()
	for i := range req.Tasks {
		req.Tasks[i].SourceConfig["max_pages"] = 3
	}
	flow := domain.NewFlow(req, uuid.NewString, 2, now)
	flow.Status = status
	flow.StartedAt = &now

	a := flow.Tasks[0]
	a.Status = taskStatus
	a.StartedAt = &now
	a.Checkpoint.NextPage = 1
	a.Checkpoint.Items = []domain.Item{{Title: "kept 1", Source: "web"}, {Title: "kept 2", Source: "web"}}
	a.ItemsFetched = 2
	a.SetProgress(1.0 / 3.0)
	flow.RecomputeProgress()

	require.NoError(t, store.Create(context.Background(), flow))
	return flow
}

func TestRecoverFailModeInterruptsRunningTasks(t *testing.T) {
	store := storage.NewMemoryStore()
	stored := interruptedFlow(t, store, domain.FlowStatusRunning, domain.TaskStatusRunning)

	src := newFakeSource("web", 3)
	h := newHarness(t, []ports.Source{src}, withStore(store))

	report, err := h.o.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flows)
	assert.Equal(t, 1, report.Interrupted)
	assert.Equal(t, 0, report.Requeued)

	done := h.waitStatus(t, stored.ID, domain.FlowStatusCompleted)
	a := taskNamed(done, "a")
	assert.Equal(t, domain.TaskStatusFailed, a.Status)
	assert.Equal(t, "interrupted", a.Error)
	assert.Empty(t, a.Checkpoint.Items)

	b := taskNamed(done, "b")
	assert.Equal(t, domain.TaskStatusCompleted, b.Status)
	assert.Len(t, done.Results, 1)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestRecoverRequeueModeResumesFromCheckpoint(t *testing.T) {
	store := storage.NewMemoryStore()
	stored := interruptedFlow(t, store, domain.FlowStatusRunning, domain.TaskStatusRunning)

	src := newFakeSource("web", 3)
	h := newHarness(t, []ports.Source{src}, withStore(store), withOrchestratorConfig(func(c *Config) {
		c.Orchestrator.RecoveryMode = domain.RecoveryModeRequeue
	}))

	report, err := h.o.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, 1, report.Resumed)

	done := h.waitStatus(t, stored.ID, domain.FlowStatusCompleted)
	a := taskNamed(done, "a")
	assert.Equal(t, domain.TaskStatusCompleted, a.Status)
	assert.Equal(t, 6, a.Result.ItemCount)

	record, ok := done.Result(a.Result.ResultID)
	require.True(t, ok)
	assert.Equal(t, "kept 1", record.Items[0].Title)

	// page 0 of "a" was already committed; only "b" fetches it
	assert.Equal(t, 1, src.callsFor(0))
	assert.Equal(t, int32(5), src.calls.Load())
}

func TestRecoverKeepsPausedFlowsPaused(t *testing.T) {
	store := storage.NewMemoryStore()
	stored := interruptedFlow(t, store, domain.FlowStatusPaused, domain.TaskStatusPaused)

	src := newFakeSource("web", 3)
	h := newHarness(t, []ports.Source{src}, withStore(store))
	ctx := context.Background()

	report, err := h.o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Paused)
	assert.Equal(t, 0, report.Interrupted)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, src.calls.Load())

	flow, err := h.o.GetFlow(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusPaused, flow.Status)

	_, err = h.o.ResumeFlow(ctx, stored.ID)
	require.NoError(t, err)

	done := h.waitStatus(t, stored.ID, domain.FlowStatusCompleted)
	assert.Equal(t, 6, taskNamed(done, "a").Result.ItemCount)
}

func TestRecoverIgnoresSettledFlows(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newHarness(t, []ports.Source{newFakeSource("web", 1)}, withStore(store))
	h.create(t, domain.CreateFlowRequest{Name: "pending", Tasks: []domain.TaskSpec{task("a", "web")}})

	report, err := h.o.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Flows)
	assert.Zero(t, h.o.Stats().ActiveFlows)
}
