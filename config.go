package researchflow

import (
	"time"

	"github.com/eleven-am/researchflow/internal/domain"
)

type Config = domain.Config

type ServerConfig = domain.ServerConfig

type ResourceConfig = domain.ResourceConfig

type OrchestratorConfig = domain.OrchestratorConfig

type RetryConfig = domain.RetryConfig

type ServiceConfig = domain.ServiceConfig

type StorageConfig = domain.StorageConfig

type ObservabilityConfig = domain.ObservabilityConfig

type RecoveryMode = domain.RecoveryMode

const (
	RecoveryModeFail    = domain.RecoveryModeFail
	RecoveryModeRequeue = domain.RecoveryModeRequeue
)

type StoreDriver = domain.StoreDriver

const (
	StoreDriverBadger = domain.StoreDriverBadger
	StoreDriverSQLite = domain.StoreDriverSQLite
	StoreDriverMemory = domain.StoreDriverMemory
)

type LoadOptions = domain.LoadOptions

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// LoadConfig layers defaults, an optional config file, dotenv files and the
// environment.
func LoadConfig(opts LoadOptions) (*Config, error) {
	return domain.LoadConfig(opts)
}

type ConfigBuilder struct {
	config *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: DefaultConfig()}
}

func (cb *ConfigBuilder) WithStorage(driver StoreDriver, dataDir string) *ConfigBuilder {
	cb.config.Storage.Driver = driver
	cb.config.Storage.DataDir = dataDir
	return cb
}

func (cb *ConfigBuilder) WithResourceLimits(maxConcurrent, threadWorkers int, perClass map[string]int) *ConfigBuilder {
	cb.config.Resources.MaxConcurrentTasks = maxConcurrent
	cb.config.Resources.MaxThreadWorkers = threadWorkers
	cb.config.Resources.MaxPerClass = perClass
	return cb
}

func (cb *ConfigBuilder) WithService(name string, svc ServiceConfig) *ConfigBuilder {
	if cb.config.Services == nil {
		cb.config.Services = make(map[string]ServiceConfig)
	}
	cb.config.Services[name] = svc
	return cb
}

func (cb *ConfigBuilder) WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) *ConfigBuilder {
	cb.config.Retry.MaxRetries = maxRetries
	cb.config.Retry.BaseDelay = baseDelay
	cb.config.Retry.MaxDelay = maxDelay
	return cb
}

func (cb *ConfigBuilder) WithRecovery(mode RecoveryMode, stallTimeout time.Duration) *ConfigBuilder {
	cb.config.Orchestrator.RecoveryMode = mode
	cb.config.Orchestrator.StallTimeout = stallTimeout
	return cb
}

func (cb *ConfigBuilder) WithFailureTolerance(tolerance float64) *ConfigBuilder {
	cb.config.Orchestrator.FailureTolerance = &tolerance
	return cb
}

func (cb *ConfigBuilder) WithHTTPAddr(addr string) *ConfigBuilder {
	cb.config.Server.HTTPAddr = addr
	return cb
}

func (cb *ConfigBuilder) WithMetrics(enabled bool) *ConfigBuilder {
	cb.config.Observability.MetricsEnabled = enabled
	return cb
}

func (cb *ConfigBuilder) Build() *Config {
	return cb.config
}
