package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSource) Defaults() map[string]interface{} {
	args := m.Called()
	return args.Get(0).(map[string]interface{})
}

func (m *MockSource) Validate(config map[string]interface{}) error {
	args := m.Called(config)
	return args.Error(0)
}

func (m *MockSource) Fetch(ctx context.Context, req ports.FetchRequest) (*ports.Page, error) {
	args := m.Called(ctx, req)
	page, _ := args.Get(0).(*ports.Page)
	return page, args.Error(1)
}

func TestWorkerPassesCredentialsAndCursor(t *testing.T) {
	src := new(MockSource)
	src.On("Name").Return("github")
	src.On("Defaults").Return(map[string]interface{}{"max_pages": 5})
	src.On("Validate", mock.Anything).Return(nil)

	src.On("Fetch", mock.Anything, mock.MatchedBy(func(req ports.FetchRequest) bool {
		return req.Page == 0 && req.Cursor == "" && req.APIKey == "ghp-secret" && req.PageSize == 7
	})).Return(&ports.Page{
		Items:      []domain.Item{{Title: "repo one"}},
		NextCursor: "after-1",
		HasMore:    true,
	}, nil).Once()

	src.On("Fetch", mock.Anything, mock.MatchedBy(func(req ports.FetchRequest) bool {
		return req.Page == 1 && req.Cursor == "after-1" && req.APIKey == "ghp-secret"
	})).Return(&ports.Page{
		Items: []domain.Item{{Title: "repo two", Source: "mirror"}},
	}, nil).Once()

	h := newHarness(t, []ports.Source{src}, withOrchestratorConfig(func(c *Config) {
		c.Services = map[string]domain.ServiceConfig{"github": {APIKey: "ghp-secret"}}
	}))

	flow := h.start(t, domain.CreateFlowRequest{
		Name: "credentials",
		Tasks: []domain.TaskSpec{{
			Name:         "repos",
			Source:       "github",
			SourceConfig: map[string]interface{}{"query": "executor", "page_size": 7},
		}},
	})

	done := h.waitStatus(t, flow.ID, domain.FlowStatusCompleted)
	src.AssertExpectations(t)

	repos := taskNamed(done, "repos")
	assert.Equal(t, 2, repos.ItemsFetched)
	assert.Equal(t, 2, repos.Result.Pages)

	items := done.Results[0].Items
	assert.Equal(t, "github", items[0].Source)
	assert.Equal(t, "mirror", items[1].Source)

	for _, entry := range done.Logs {
		assert.NotContains(t, entry.Message, "ghp-secret")
	}
}
