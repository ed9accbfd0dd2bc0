package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownSource(s string) bool {
	for _, k := range KnownServices {
		if k == s {
			return true
		}
	}
	return false
}

func TestCreateFlowRequest_Validate(t *testing.T) {
	tol := 1.5
	tests := []struct {
		name    string
		req     CreateFlowRequest
		wantErr string
	}{
		{"missing name", CreateFlowRequest{Tasks: []TaskSpec{{Source: "web"}}}, "name is required"},
		{"zero tasks", CreateFlowRequest{Name: "f"}, "no tasks"},
		{"unknown source", CreateFlowRequest{Name: "f", Tasks: []TaskSpec{{Source: "gopher"}}}, "unknown source"},
		{"missing source", CreateFlowRequest{Name: "f", Tasks: []TaskSpec{{Name: "x"}}}, "source is required"},
		{"bad tolerance", CreateFlowRequest{Name: "f", FailureTolerance: &tol, Tasks: []TaskSpec{{Source: "web"}}}, "failure_tolerance"},
		{"duplicate names", CreateFlowRequest{Name: "f", Tasks: []TaskSpec{{Name: "a", Source: "web"}, {Name: "a", Source: "github"}}}, "duplicate"},
		{"unknown dependency", CreateFlowRequest{Name: "f", Tasks: []TaskSpec{{Name: "a", Source: "web", DependsOn: []string{"z"}}}}, "unknown task"},
		{"self dependency", CreateFlowRequest{Name: "f", Tasks: []TaskSpec{{Name: "a", Source: "web", DependsOn: []string{"a"}}}}, "itself"},
		{"cycle", CreateFlowRequest{Name: "f", Tasks: []TaskSpec{
			{Name: "a", Source: "web", DependsOn: []string{"b"}},
			{Name: "b", Source: "web", DependsOn: []string{"a"}},
		}}, "cycle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize()
			err := tt.req.Validate(knownSource)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewFlow_ResolvesDependencies(t *testing.T) {
	req := CreateFlowRequest{
		Name: "survey",
		Tasks: []TaskSpec{
			{Name: "papers", Source: "arxiv"},
			{Source: "GitHub", DependsOn: []string{"papers"}},
		},
	}
	req.Normalize()
	require.NoError(t, req.Validate(knownSource))

	n := 0
	newID := func() string { n++; return fmt.Sprintf("id-%d", n) }
	now := time.Now()

	f := NewFlow(req, newID, 4, now)
	require.Len(t, f.Tasks, 2)
	assert.Equal(t, FlowStatusPending, f.Status)
	assert.Equal(t, 4, f.ParallelWorkers)
	assert.Equal(t, "github-2", f.Tasks[1].Name)
	assert.Equal(t, "github", f.Tasks[1].Source)
	assert.Equal(t, []string{f.Tasks[0].ID}, f.Tasks[1].DependsOn)
	assert.Equal(t, 1.0, f.Tasks[0].Weight)
	assert.Len(t, f.Logs, 1)
	for _, task := range f.Tasks {
		assert.Equal(t, f.ID, task.FlowID)
		assert.Equal(t, TaskStatusPending, task.Status)
	}
}
