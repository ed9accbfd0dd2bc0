package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/researchflow/internal/ports"
)

func TestPrometheus_FlowGauges(t *testing.T) {
	p := NewPrometheus()

	p.FlowStatusChanged("", "pending")
	p.FlowStatusChanged("", "pending")
	p.FlowStatusChanged("pending", "running")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.flowsByStatus.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.flowsByStatus.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.flowTransitions.WithLabelValues("pending", "running")))

	p.FlowStatusChanged("running", "")
	assert.Equal(t, 0.0, testutil.ToFloat64(p.flowsByStatus.WithLabelValues("running")))
}

func TestPrometheus_TaskCounters(t *testing.T) {
	p := NewPrometheus()

	p.TaskStarted("arxiv")
	p.TaskFinished("arxiv", "completed", 2*time.Second)
	p.ItemsFetched("arxiv", 25)
	p.Retry("arxiv")
	p.AdmissionDenied("web")
	p.RateLimitWait("web", 300*time.Millisecond)
	p.ObserveGovernor(ports.ExecutionStats{TotalExecuting: 3, CPUPercent: 42})

	assert.Equal(t, 1.0, testutil.ToFloat64(p.tasksStarted.WithLabelValues("arxiv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.tasksFinished.WithLabelValues("arxiv", "completed")))
	assert.Equal(t, 25.0, testutil.ToFloat64(p.itemsFetched.WithLabelValues("arxiv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.retries.WithLabelValues("arxiv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.admissionDenied.WithLabelValues("web")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.governorExecuting))
	assert.Equal(t, 42.0, testutil.ToFloat64(p.governorCPU))
}

func TestPrometheus_Handler(t *testing.T) {
	p := NewPrometheus()
	p.TaskStarted("github")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `researchflow_tasks_started_total{source="github"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestPrometheus_SeparateRegistries(t *testing.T) {
	a, b := NewPrometheus(), NewPrometheus()
	a.TaskStarted("web")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.tasksStarted.WithLabelValues("web")))
}

func TestPrometheus_HTTPAndWebSocket(t *testing.T) {
	p := NewPrometheus()

	done := p.HTTPStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(p.httpInFlight))
	done("GET", "GET /research-flows/{flow_id}", 404, 3*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.httpInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.httpRequests.WithLabelValues("GET", "GET /research-flows/{flow_id}", "404")))

	p.WebSocketOpened()
	p.WebSocketOpened()
	p.WebSocketClosed()
	p.WebSocketFrameSent()
	assert.Equal(t, 1.0, testutil.ToFloat64(p.wsConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.wsFramesSent))
}
