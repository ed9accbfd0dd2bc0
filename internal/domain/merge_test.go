package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeSourceConfig(t *testing.T) {
	defaults := map[string]interface{}{"max_pages": 3, "page_size": 10, "sort": "stars"}
	overrides := map[string]interface{}{"max_pages": 5, "query": "raft"}

	merged, err := MergeSourceConfig(defaults, overrides)
	require.NoError(t, err)

	assert.Equal(t, 5, ConfigInt(merged, "max_pages", 0))
	assert.Equal(t, 10, ConfigInt(merged, "page_size", 0))
	assert.Equal(t, "raft", ConfigString(merged, "query"))
	assert.Equal(t, "stars", ConfigString(merged, "sort"))

	merged["sort"] = "forks"
	assert.Equal(t, "stars", defaults["sort"])
}

func TestMergeSourceConfig_NilInputs(t *testing.T) {
	merged, err := MergeSourceConfig(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestConfigStrings(t *testing.T) {
	cfg := map[string]interface{}{
		"list":   []interface{}{"a", 1, "b"},
		"single": "c",
	}
	assert.Equal(t, []string{"a", "b"}, ConfigStrings(cfg, "list"))
	assert.Equal(t, []string{"c"}, ConfigStrings(cfg, "single"))
	assert.Nil(t, ConfigStrings(cfg, "missing"))
}
