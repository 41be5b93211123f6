// Package config loads orchestrator configuration from a YAML file with
// environment variable overrides, and provides hot-reload of auxiliary
// config files (agent profiles, workflow templates).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the root orchestrator configuration.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Service    ServiceConfig    `mapstructure:"service"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Session    SessionConfig    `mapstructure:"session"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// SchedulingConfig tunes the priority scheduler.
type SchedulingConfig struct {
	// Resource demand weights used by the priority discount.
	CPUWeight     float64 `mapstructure:"cpu_weight"`
	MemoryWeight  float64 `mapstructure:"memory_weight"`
	DiskWeight    float64 `mapstructure:"disk_weight"`
	NetworkWeight float64 `mapstructure:"network_weight"`

	// Pool sizes available to the resource allocator.
	CPUPool     float64 `mapstructure:"cpu_pool"`
	MemoryPool  float64 `mapstructure:"memory_pool"`
	DiskPool    float64 `mapstructure:"disk_pool"`
	NetworkPool float64 `mapstructure:"network_pool"`
}

// QueueConfig tunes per-agent task queues.
type QueueConfig struct {
	DefaultMaxConcurrent int `mapstructure:"default_max_concurrent"`
}

// WorkflowConfig tunes workflow pipeline execution.
type WorkflowConfig struct {
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout"`
	HistoryLimit       int           `mapstructure:"history_limit"`
}

// SessionConfig tunes collaboration session storage.
type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	CacheSize     int           `mapstructure:"cache_size"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	ArchiveOnEnd  bool          `mapstructure:"archive_on_end"`
	CleanupPeriod time.Duration `mapstructure:"cleanup_period"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ConnectionString builds a lib/pq connection string.
func (p PostgresConfig) ConnectionString() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, sslMode)
}

// HistoryConfig tunes the async history writer.
type HistoryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	QueueSize    int  `mapstructure:"queue_size"`
	RetentionCap int  `mapstructure:"retention_cap"`
}

// MetricsConfig tunes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig tunes OTLP trace export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// TemplatesConfig tunes workflow template loading.
type TemplatesConfig struct {
	Dir             string `mapstructure:"dir"`
	FallbackEnabled bool   `mapstructure:"fallback_enabled"`
}

// Load reads configuration from CONFIG_FILE (if set), applies defaults,
// then applies environment variable overrides. A missing config file is
// not an error; defaults and env take over.
func Load() *Config {
	v := viper.New()
	setDefaults(v)

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		// Ignore read errors: env and defaults still produce a usable config.
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		cfg = Config{}
		defaults := viper.New()
		setDefaults(defaults)
		_ = defaults.Unmarshal(&cfg)
	}

	applyEnvOverrides(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("service.graceful_timeout", 15*time.Second)

	v.SetDefault("scheduling.cpu_weight", 1.0)
	v.SetDefault("scheduling.memory_weight", 1.0)
	v.SetDefault("scheduling.disk_weight", 0.5)
	v.SetDefault("scheduling.network_weight", 0.3)
	v.SetDefault("scheduling.cpu_pool", 100.0)
	v.SetDefault("scheduling.memory_pool", 100.0)
	v.SetDefault("scheduling.disk_pool", 100.0)
	v.SetDefault("scheduling.network_pool", 100.0)

	v.SetDefault("queue.default_max_concurrent", 3)

	v.SetDefault("workflow.default_step_timeout", 30*time.Minute)
	v.SetDefault("workflow.history_limit", 1000)

	v.SetDefault("session.ttl", 30*24*time.Hour)
	v.SetDefault("session.cache_size", 1000)
	v.SetDefault("session.cache_ttl", 5*time.Minute)
	v.SetDefault("session.archive_on_end", true)
	v.SetDefault("session.cleanup_period", time.Hour)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "nexus")
	v.SetDefault("postgres.database", "nexus_kamuy")
	v.SetDefault("postgres.ssl_mode", "disable")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.queue_size", 1024)
	v.SetDefault("history.retention_cap", 1000)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "nexus-orchestrator")
	v.SetDefault("tracing.sampling_rate", 1.0)

	v.SetDefault("templates.dir", "config/workflows")
	v.SetDefault("templates.fallback_enabled", true)
}

func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		cfg.LogLevel = s
	}
	if s := os.Getenv("ENVIRONMENT"); s != "" {
		cfg.Environment = s
	}

	if s := os.Getenv("REDIS_HOST"); s != "" {
		cfg.Redis.Host = s
	}
	if n, ok := envInt("REDIS_PORT"); ok {
		cfg.Redis.Port = n
	}
	if s := os.Getenv("REDIS_PASSWORD"); s != "" {
		cfg.Redis.Password = s
	}

	if s := os.Getenv("POSTGRES_HOST"); s != "" {
		cfg.Postgres.Host = s
	}
	if n, ok := envInt("POSTGRES_PORT"); ok {
		cfg.Postgres.Port = n
	}
	if s := os.Getenv("POSTGRES_USER"); s != "" {
		cfg.Postgres.User = s
	}
	if s := os.Getenv("POSTGRES_PASSWORD"); s != "" {
		cfg.Postgres.Password = s
	}
	if s := os.Getenv("POSTGRES_DB"); s != "" {
		cfg.Postgres.Database = s
	}

	if b, ok := envBool("ENABLE_METRICS"); ok {
		cfg.Metrics.Enabled = b
	}
	if n, ok := envInt("METRICS_PORT"); ok {
		cfg.Metrics.Port = n
	}
	if b, ok := envBool("ENABLE_TRACING"); ok {
		cfg.Tracing.Enabled = b
	}
	if s := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); s != "" {
		cfg.Tracing.OTLPEndpoint = s
	}
	if b, ok := envBool("HISTORY_ENABLED"); ok {
		cfg.History.Enabled = b
	}
	if s := os.Getenv("TEMPLATES_DIR"); s != "" {
		cfg.Templates.Dir = s
	}
	if b, ok := envBool("TEMPLATE_FALLBACK_ENABLED"); ok {
		cfg.Templates.FallbackEnabled = b
	}
	if n, ok := envInt("QUEUE_MAX_CONCURRENT"); ok {
		cfg.Queue.DefaultMaxConcurrent = n
	}
}

func envInt(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	s := os.Getenv(key)
	if s == "" {
		return false, false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.Queue.DefaultMaxConcurrent < 1 {
		return fmt.Errorf("queue.default_max_concurrent must be at least 1, got %d", c.Queue.DefaultMaxConcurrent)
	}
	if c.History.Enabled && c.Postgres.Host == "" {
		return fmt.Errorf("history persistence enabled but postgres.host is empty")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be in [0,1], got %f", c.Tracing.SamplingRate)
	}
	return nil
}
