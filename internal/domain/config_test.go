package domain

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.Resources.MaxConcurrentTasks)
	assert.Equal(t, 80.0, cfg.Resources.MaxCPUPercent)
	assert.Equal(t, 30*time.Second, cfg.Retry.RequestTimeout)
	assert.Equal(t, RecoveryModeFail, cfg.Orchestrator.RecoveryMode)
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tasks", func(c *Config) { c.Resources.MaxConcurrentTasks = 0 }},
		{"cpu over 100", func(c *Config) { c.Resources.MaxCPUPercent = 120 }},
		{"backoff below one", func(c *Config) { c.Retry.BackoffFactor = 0.5 }},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }},
		{"recovery mode", func(c *Config) { c.Orchestrator.RecoveryMode = "explode" }},
		{"driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"negative rate", func(c *Config) { c.WithService("web", ServiceConfig{RateLimit: -1}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestConfig_WithDefaultsFillsZeroFields(t *testing.T) {
	cfg := &Config{Resources: ResourceConfig{MaxConcurrentTasks: 2}}
	cfg, err := cfg.WithDefaults()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Resources.MaxConcurrentTasks)
	assert.Equal(t, 80.0, cfg.Resources.MaxMemoryPercent)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.NotNil(t, cfg.Services)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_TASKS", "2")
	t.Setenv("MAX_CPU_PERCENT", "70")
	t.Setenv("MAX_RETRIES", "0")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("GITHUB_RATE_LIMIT", "1.5")
	t.Setenv("GITHUB_API_KEY", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("FAILURE_TOLERANCE", "0.5")

	cfg, err := LoadConfig(LoadOptions{EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Resources.MaxConcurrentTasks)
	assert.Equal(t, 70.0, cfg.Resources.MaxCPUPercent)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 1.5, cfg.Service("github").RateLimit)
	assert.Equal(t, "secret", cfg.Service("github").APIKey)
	assert.Equal(t, StoreDriverMemory, cfg.Storage.Driver)
	require.NotNil(t, cfg.Orchestrator.FailureTolerance)
	assert.Equal(t, 0.5, *cfg.Orchestrator.FailureTolerance)
	assert.Equal(t, ServiceConfig{}, cfg.Service("youtube"))
}

func TestLoadConfig_FileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "researchflow.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
resources:
  max_thread_workers: 6
  max_per_class:
    github: 1
orchestrator:
  recovery_mode: requeue
`), 0o644))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ARXIV_RATE_LIMIT_PER_DAY=100\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ARXIV_RATE_LIMIT_PER_DAY") })

	cfg, err := LoadConfig(LoadOptions{EnvFiles: []string{envPath}, ConfigFile: cfgPath})
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Resources.MaxThreadWorkers)
	assert.Equal(t, map[string]int{"github": 1}, cfg.Resources.MaxPerClass)
	assert.Equal(t, RecoveryModeRequeue, cfg.Orchestrator.RecoveryMode)
	assert.Equal(t, 100, cfg.Service("arxiv").RateLimitPerDay)
}

func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("RECOVERY_MODE", "maybe")
	_, err := LoadConfig(LoadOptions{})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}
