package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/researchflow/internal/domain"
)

func TestReadFlowFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
name: rust async runtimes
parallel_workers: 3
failure_tolerance: 0.25
tasks:
  - name: articles
    source: web
    source_config: {query: "tokio vs async-std", max_pages: 2}
  - name: papers
    source: arxiv
    depends_on: [articles]
`), 0o644))

	req, err := readFlowFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "rust async runtimes", req.Name)
	assert.Equal(t, 3, req.ParallelWorkers)
	require.NotNil(t, req.FailureTolerance)
	assert.InDelta(t, 0.25, *req.FailureTolerance, 1e-9)
	require.Len(t, req.Tasks, 2)
	assert.Equal(t, 2, domain.ConfigInt(req.Tasks[0].SourceConfig, "max_pages", 0))
	assert.Equal(t, []string{"articles"}, req.Tasks[1].DependsOn)

	jsonPath := filepath.Join(dir, "flow.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name":"json flow","tasks":[{"source":"github"}]}`), 0o644))
	req, err = readFlowFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "json flow", req.Name)
	assert.Equal(t, "github", req.Tasks[0].Source)

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("tasks: [unclosed"), 0o644))
	_, err = readFlowFile(badPath)
	assert.True(t, domain.IsValidation(err))

	_, err = readFlowFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, domain.IsValidation(err))
}

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["config"])
	assert.True(t, names["flows"])

	sub := map[string]bool{}
	for _, c := range flowsCmd.Commands() {
		sub[c.Name()] = true
	}
	for _, want := range []string{"list", "get", "create", "start", "pause", "resume", "cancel", "delete", "results", "export", "watch"} {
		assert.True(t, sub[want], want)
	}
}
