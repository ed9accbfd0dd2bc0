package domain

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type LoadOptions struct {
	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are ignored.
	EnvFiles []string
	// ConfigFile is an optional YAML or JSON file with the same layout as Config.
	ConfigFile string
}

var envBindings = map[string]string{
	"resources.max_thread_workers":     "MAX_THREAD_WORKERS",
	"resources.max_concurrent_tasks":   "MAX_CONCURRENT_TASKS",
	"resources.max_cpu_percent":        "MAX_CPU_PERCENT",
	"resources.max_memory_percent":     "MAX_MEMORY_PERCENT",
	"resources.sample_interval":        "SAMPLE_INTERVAL",
	"retry.max_retries":                "MAX_RETRIES",
	"retry.backoff_factor":             "BACKOFF_FACTOR",
	"retry.base_delay":                 "RETRY_BASE_DELAY",
	"retry.max_delay":                  "RETRY_MAX_DELAY",
	"retry.request_timeout":            "REQUEST_TIMEOUT",
	"server.http_addr":                 "HTTP_ADDR",
	"server.grpc_health_addr":          "GRPC_HEALTH_ADDR",
	"storage.data_dir":                 "DATA_DIR",
	"storage.driver":                   "STORE_DRIVER",
	"observability.log_level":          "LOG_LEVEL",
	"observability.log_format":         "LOG_FORMAT",
	"observability.metrics_enabled":    "METRICS_ENABLED",
	"orchestrator.stall_timeout":       "STALL_TIMEOUT",
	"orchestrator.recovery_mode":       "RECOVERY_MODE",
	"orchestrator.failure_tolerance":   "FAILURE_TOLERANCE",
	"orchestrator.scheduling_interval": "SCHEDULING_INTERVAL",
}

// LoadConfig layers DefaultConfig, an optional config file, .env files and
// the process environment, in increasing precedence, then validates.
func LoadConfig(opts LoadOptions) (*Config, error) {
	for _, file := range opts.EnvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, NewValidationError("load env file %s: %v", file, err)
		}
	}

	v := viper.New()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewValidationError("read config file %s: %v", opts.ConfigFile, err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, NewInternalError("bind "+env, err)
		}
	}
	for _, svc := range KnownServices {
		prefix := strings.ToUpper(svc)
		base := "services." + svc + "."
		_ = v.BindEnv(base+"rate_limit", prefix+"_RATE_LIMIT")
		_ = v.BindEnv(base+"rate_limit_per_day", prefix+"_RATE_LIMIT_PER_DAY")
		_ = v.BindEnv(base+"api_key", prefix+"_API_KEY")
		_ = v.BindEnv(base+"base_url", prefix+"_BASE_URL")
	}

	cfg := DefaultConfig()
	applyViper(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyViper overlays only keys that are actually set so explicit zeros
// survive.
func applyViper(v *viper.Viper, cfg *Config) {
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setFloat := func(key string, dst *float64) {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	setInt("resources.max_thread_workers", &cfg.Resources.MaxThreadWorkers)
	setInt("resources.max_concurrent_tasks", &cfg.Resources.MaxConcurrentTasks)
	setFloat("resources.max_cpu_percent", &cfg.Resources.MaxCPUPercent)
	setFloat("resources.max_memory_percent", &cfg.Resources.MaxMemoryPercent)
	setDuration("resources.sample_interval", &cfg.Resources.SampleInterval)
	if v.IsSet("resources.max_per_class") {
		perClass := map[string]int{}
		for class := range v.GetStringMap("resources.max_per_class") {
			perClass[class] = v.GetInt("resources.max_per_class." + class)
		}
		cfg.Resources.MaxPerClass = perClass
	}

	setInt("retry.max_retries", &cfg.Retry.MaxRetries)
	setFloat("retry.backoff_factor", &cfg.Retry.BackoffFactor)
	setDuration("retry.base_delay", &cfg.Retry.BaseDelay)
	setDuration("retry.max_delay", &cfg.Retry.MaxDelay)
	setDuration("retry.request_timeout", &cfg.Retry.RequestTimeout)

	setString("server.http_addr", &cfg.Server.HTTPAddr)
	setString("server.grpc_health_addr", &cfg.Server.GRPCHealthAddr)
	setDuration("server.read_timeout", &cfg.Server.ReadTimeout)
	setDuration("server.shutdown_timeout", &cfg.Server.ShutdownTimeout)
	setDuration("server.poll_interval", &cfg.Server.PollInterval)

	setString("storage.data_dir", &cfg.Storage.DataDir)
	if v.IsSet("storage.driver") {
		cfg.Storage.Driver = StoreDriver(strings.ToLower(v.GetString("storage.driver")))
	}

	setString("observability.log_level", &cfg.Observability.LogLevel)
	setString("observability.log_format", &cfg.Observability.LogFormat)
	if v.IsSet("observability.metrics_enabled") {
		cfg.Observability.MetricsEnabled = v.GetBool("observability.metrics_enabled")
	}

	setDuration("orchestrator.stall_timeout", &cfg.Orchestrator.StallTimeout)
	setDuration("orchestrator.scheduling_interval", &cfg.Orchestrator.SchedulingInterval)
	setInt("orchestrator.default_max_pages", &cfg.Orchestrator.DefaultMaxPages)
	setInt("orchestrator.default_page_size", &cfg.Orchestrator.DefaultPageSize)
	setInt("orchestrator.event_buffer_size", &cfg.Orchestrator.EventBufferSize)
	if v.IsSet("orchestrator.recovery_mode") {
		cfg.Orchestrator.RecoveryMode = RecoveryMode(strings.ToLower(v.GetString("orchestrator.recovery_mode")))
	}
	if v.IsSet("orchestrator.failure_tolerance") {
		tol := v.GetFloat64("orchestrator.failure_tolerance")
		cfg.Orchestrator.FailureTolerance = &tol
	}

	for _, name := range KnownServices {
		base := "services." + name + "."
		svc := cfg.Services[name]
		setFloat(base+"rate_limit", &svc.RateLimit)
		setInt(base+"rate_limit_per_day", &svc.RateLimitPerDay)
		setString(base+"api_key", &svc.APIKey)
		setString(base+"base_url", &svc.BaseURL)
		if svc != (ServiceConfig{}) {
			cfg.Services[name] = svc
		}
	}
}
