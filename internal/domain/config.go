package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	Logger *slog.Logger `json:"-" yaml:"-"`

	Server        ServerConfig             `json:"server" yaml:"server"`
	Resources     ResourceConfig           `json:"resources" yaml:"resources"`
	Orchestrator  OrchestratorConfig       `json:"orchestrator" yaml:"orchestrator"`
	Retry         RetryConfig              `json:"retry" yaml:"retry"`
	Services      map[string]ServiceConfig `json:"services" yaml:"services"`
	Storage       StorageConfig            `json:"storage" yaml:"storage"`
	Observability ObservabilityConfig      `json:"observability" yaml:"observability"`
}

type ServerConfig struct {
	HTTPAddr        string        `json:"http_addr" yaml:"http_addr"`
	GRPCHealthAddr  string        `json:"grpc_health_addr,omitempty" yaml:"grpc_health_addr,omitempty"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

type ResourceConfig struct {
	// MaxThreadWorkers is the default parallel_workers of a flow.
	MaxThreadWorkers   int            `json:"max_thread_workers" yaml:"max_thread_workers"`
	MaxConcurrentTasks int            `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	MaxPerClass        map[string]int `json:"max_per_class,omitempty" yaml:"max_per_class,omitempty"`
	MaxCPUPercent      float64        `json:"max_cpu_percent" yaml:"max_cpu_percent"`
	MaxMemoryPercent   float64        `json:"max_memory_percent" yaml:"max_memory_percent"`
	SampleInterval     time.Duration  `json:"sample_interval" yaml:"sample_interval"`
}

type RecoveryMode string

const (
	RecoveryModeFail    RecoveryMode = "fail"
	RecoveryModeRequeue RecoveryMode = "requeue"
)

type OrchestratorConfig struct {
	SchedulingInterval time.Duration `json:"scheduling_interval" yaml:"scheduling_interval"`
	StallTimeout       time.Duration `json:"stall_timeout" yaml:"stall_timeout"`
	RecoveryMode       RecoveryMode  `json:"recovery_mode" yaml:"recovery_mode"`
	FailureTolerance   *float64      `json:"failure_tolerance,omitempty" yaml:"failure_tolerance,omitempty"`
	DefaultMaxPages    int           `json:"default_max_pages" yaml:"default_max_pages"`
	DefaultPageSize    int           `json:"default_page_size" yaml:"default_page_size"`
	EventBufferSize    int           `json:"event_buffer_size" yaml:"event_buffer_size"`
}

type RetryConfig struct {
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	BackoffFactor  float64       `json:"backoff_factor" yaml:"backoff_factor"`
	BaseDelay      time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay       time.Duration `json:"max_delay" yaml:"max_delay"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// ServiceConfig configures one external source backend. APIKey is passed
// through to the backend and must never be logged.
type ServiceConfig struct {
	RateLimit       float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RateLimitPerDay int     `json:"rate_limit_per_day,omitempty" yaml:"rate_limit_per_day,omitempty"`
	APIKey          string  `json:"-" yaml:"api_key,omitempty"`
	BaseURL         string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

type StoreDriver string

const (
	StoreDriverBadger StoreDriver = "badger"
	StoreDriverSQLite StoreDriver = "sqlite"
	StoreDriverMemory StoreDriver = "memory"
)

type StorageConfig struct {
	Driver  StoreDriver `json:"driver" yaml:"driver"`
	DataDir string      `json:"data_dir" yaml:"data_dir"`
}

type ObservabilityConfig struct {
	LogLevel       string `json:"log_level" yaml:"log_level"`
	LogFormat      string `json:"log_format" yaml:"log_format"`
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
}

func (c *Config) Service(name string) ServiceConfig {
	if c.Services == nil {
		return ServiceConfig{}
	}
	return c.Services[name]
}

func (c *Config) Validate() error {
	r := c.Resources
	if r.MaxConcurrentTasks <= 0 {
		return NewValidationError("max_concurrent_tasks must be positive, got %d", r.MaxConcurrentTasks)
	}
	if r.MaxThreadWorkers <= 0 {
		return NewValidationError("max_thread_workers must be positive, got %d", r.MaxThreadWorkers)
	}
	if r.MaxCPUPercent <= 0 || r.MaxCPUPercent > 100 {
		return NewValidationError("max_cpu_percent must be within (0, 100], got %.1f", r.MaxCPUPercent)
	}
	if r.MaxMemoryPercent <= 0 || r.MaxMemoryPercent > 100 {
		return NewValidationError("max_memory_percent must be within (0, 100], got %.1f", r.MaxMemoryPercent)
	}
	for class, limit := range r.MaxPerClass {
		if limit <= 0 {
			return NewValidationError("max_per_class[%s] must be positive", class)
		}
	}

	rt := c.Retry
	if rt.MaxRetries < 0 {
		return NewValidationError("max_retries must not be negative")
	}
	if rt.BackoffFactor < 1 {
		return NewValidationError("backoff_factor must be at least 1, got %.2f", rt.BackoffFactor)
	}
	if rt.BaseDelay < 0 || rt.MaxDelay < rt.BaseDelay {
		return NewValidationError("retry delays must satisfy 0 <= base_delay <= max_delay")
	}
	if rt.RequestTimeout <= 0 {
		return NewValidationError("request_timeout must be positive")
	}

	o := c.Orchestrator
	if o.SchedulingInterval <= 0 {
		return NewValidationError("scheduling_interval must be positive")
	}
	switch o.RecoveryMode {
	case RecoveryModeFail, RecoveryModeRequeue:
	default:
		return NewValidationError("unknown recovery mode %q", o.RecoveryMode)
	}
	if o.FailureTolerance != nil && (*o.FailureTolerance < 0 || *o.FailureTolerance > 1) {
		return NewValidationError("failure_tolerance must be within [0, 1]")
	}

	for name, svc := range c.Services {
		if svc.RateLimit < 0 || svc.RateLimitPerDay < 0 {
			return NewValidationError("service %s: rate limits must not be negative", name)
		}
	}

	switch c.Storage.Driver {
	case StoreDriverBadger, StoreDriverSQLite:
		if c.Storage.DataDir == "" {
			return NewValidationError("data_dir is required for the %s store", c.Storage.Driver)
		}
	case StoreDriverMemory:
	default:
		return NewValidationError("unknown store driver %q", c.Storage.Driver)
	}
	return nil
}
