package researchflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/researchflow"
)

type notesSource struct{}

func (notesSource) Name() string                          { return "notes" }
func (notesSource) Defaults() map[string]interface{}      { return map[string]interface{}{"max_pages": 2} }
func (notesSource) Validate(map[string]interface{}) error { return nil }

func (notesSource) Fetch(_ context.Context, req researchflow.FetchRequest) (*researchflow.Page, error) {
	return &researchflow.Page{
		Items:   []researchflow.Item{{Title: "note", Snippet: req.Cursor}},
		HasMore: req.Page == 0,
	}, nil
}

func TestEmbeddedManager(t *testing.T) {
	config := researchflow.NewConfigBuilder().
		WithStorage(researchflow.StoreDriverMemory, "").
		WithResourceLimits(4, 2, nil).
		WithRecovery(researchflow.RecoveryModeRequeue, time.Minute).
		Build()
	config.Orchestrator.SchedulingInterval = 5 * time.Millisecond

	manager, err := researchflow.New(config,
		researchflow.WithSources(notesSource{}),
		researchflow.WithSampler(nil),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop(context.Background())

	flows := manager.Orchestrator()
	_, err = flows.CreateFlow(ctx, researchflow.CreateFlowRequest{
		Name:  "web only",
		Tasks: []researchflow.TaskSpec{{Source: "web"}},
	})
	assert.True(t, researchflow.IsValidation(err))

	flow, err := flows.CreateFlow(ctx, researchflow.CreateFlowRequest{
		Name:  "notes",
		Tasks: []researchflow.TaskSpec{{Source: "notes"}, {Source: "notes"}},
	})
	require.NoError(t, err)

	_, events, unsubscribe, err := flows.Subscribe(ctx, flow.ID)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = flows.StartFlow(ctx, flow.ID)
	require.NoError(t, err)

	for {
		select {
		case ev := <-events:
			if ev.Flow != nil && ev.Flow.Status.IsTerminal() {
				assert.Equal(t, researchflow.FlowStatusCompleted, ev.Flow.Status)
				assert.Len(t, ev.Flow.Results, 2)
				return
			}
		case <-ctx.Done():
			t.Fatal("flow did not finish")
		}
	}
}

func TestConfigBuilder(t *testing.T) {
	config := researchflow.NewConfigBuilder().
		WithService("github", researchflow.ServiceConfig{RateLimit: 0.5, APIKey: "token"}).
		WithRetry(5, 100*time.Millisecond, 2*time.Second).
		WithFailureTolerance(0.3).
		WithHTTPAddr(":9090").
		WithMetrics(true).
		Build()

	assert.Equal(t, "token", config.Services["github"].APIKey)
	assert.Equal(t, 5, config.Retry.MaxRetries)
	require.NotNil(t, config.Orchestrator.FailureTolerance)
	assert.InDelta(t, 0.3, *config.Orchestrator.FailureTolerance, 1e-9)
	assert.Equal(t, ":9090", config.Server.HTTPAddr)
	assert.True(t, config.Observability.MetricsEnabled)
	require.NoError(t, config.Validate())
}
