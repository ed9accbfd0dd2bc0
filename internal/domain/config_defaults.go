package domain

import (
	"time"

	"dario.cat/mergo"
)

var KnownServices = []string{"web", "github", "arxiv", "youtube", "custom"}

func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		Resources:     DefaultResourceConfig(),
		Orchestrator:  DefaultOrchestratorConfig(),
		Retry:         DefaultRetryConfig(),
		Services:      map[string]ServiceConfig{},
		Storage:       DefaultStorageConfig(),
		Observability: DefaultObservabilityConfig(),
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PollInterval:    5 * time.Second,
	}
}

func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{
		MaxThreadWorkers:   4,
		MaxConcurrentTasks: 8,
		MaxCPUPercent:      80,
		MaxMemoryPercent:   80,
		SampleInterval:     2 * time.Second,
	}
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SchedulingInterval: 250 * time.Millisecond,
		StallTimeout:       5 * time.Minute,
		RecoveryMode:       RecoveryModeFail,
		DefaultMaxPages:    3,
		DefaultPageSize:    10,
		EventBufferSize:    32,
	}
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BackoffFactor:  2.0,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:  StoreDriverBadger,
		DataDir: "./data",
	}
}

func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       "info",
		LogFormat:      "text",
		MetricsEnabled: true,
	}
}

// WithDefaults fills every zero field from DefaultConfig. Explicit zero
// values that are meaningful (max_retries=0) must be set after this call.
func (c *Config) WithDefaults() (*Config, error) {
	defaults := DefaultConfig()
	if err := mergo.Merge(c, defaults); err != nil {
		return nil, NewInternalError("merge config defaults", err)
	}
	if c.Services == nil {
		c.Services = map[string]ServiceConfig{}
	}
	return c, nil
}

func (c *Config) WithResourceLimits(maxTasks, maxWorkers int, cpuPercent, memPercent float64) *Config {
	c.Resources.MaxConcurrentTasks = maxTasks
	c.Resources.MaxThreadWorkers = maxWorkers
	c.Resources.MaxCPUPercent = cpuPercent
	c.Resources.MaxMemoryPercent = memPercent
	return c
}

func (c *Config) WithRetry(maxRetries int, factor float64, base, max time.Duration) *Config {
	c.Retry.MaxRetries = maxRetries
	c.Retry.BackoffFactor = factor
	c.Retry.BaseDelay = base
	c.Retry.MaxDelay = max
	return c
}

func (c *Config) WithService(name string, svc ServiceConfig) *Config {
	if c.Services == nil {
		c.Services = map[string]ServiceConfig{}
	}
	c.Services[name] = svc
	return c
}

func (c *Config) WithStore(driver StoreDriver, dataDir string) *Config {
	c.Storage.Driver = driver
	c.Storage.DataDir = dataDir
	return c
}
