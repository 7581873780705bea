package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Redis        RedisConfig        `yaml:"redis" mapstructure:"redis"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Render       RenderConfig       `yaml:"render" mapstructure:"render"`
	Crawl        CrawlConfig        `yaml:"crawl" mapstructure:"crawl"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" mapstructure:"retrieval"`
	Generate     GenerateConfig     `yaml:"generate" mapstructure:"generate"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Worker       WorkerConfig       `yaml:"worker" mapstructure:"worker"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the job queue, locks, and completion events.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// RenderConfig holds the JS rendering service settings used for pages whose
// static HTML carries no extractable content.
type RenderConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CrawlConfig configures the crawl worker pool.
type CrawlConfig struct {
	MaxDepth           int           `yaml:"max_depth" mapstructure:"max_depth"`
	MaxDepthOneLinks   int           `yaml:"max_depth_one_links" mapstructure:"max_depth_one_links"`
	PageTimeout        time.Duration `yaml:"page_timeout" mapstructure:"page_timeout"`
	PerHostConcurrency int           `yaml:"per_host_concurrency" mapstructure:"per_host_concurrency"`
	PoolSize           int           `yaml:"pool_size" mapstructure:"pool_size"`
	HostRate           float64       `yaml:"host_rate" mapstructure:"host_rate"` // requests/sec per host
	HostBurst          int           `yaml:"host_burst" mapstructure:"host_burst"`
	UserAgent          string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// RetrievalConfig configures knowledge-base retrieval.
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k" mapstructure:"top_k"`
	MinScore     float64 `yaml:"min_score" mapstructure:"min_score"`
	PerQueryHits int     `yaml:"per_query_hits" mapstructure:"per_query_hits"`
}

// GenerateConfig configures plan generation behavior.
type GenerateConfig struct {
	RepairAttempts int `yaml:"repair_attempts" mapstructure:"repair_attempts"`
	MaxTasks       int `yaml:"max_tasks" mapstructure:"max_tasks"`
}

// OrchestratorConfig configures the job state machine.
type OrchestratorConfig struct {
	StageRetryBudget int           `yaml:"stage_retry_budget" mapstructure:"stage_retry_budget"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base" mapstructure:"retry_backoff_base"`
	RetryBackoffCap  time.Duration `yaml:"retry_backoff_cap" mapstructure:"retry_backoff_cap"`
	CrawlBudget      time.Duration `yaml:"crawl_budget" mapstructure:"crawl_budget"`
	RetrieveBudget   time.Duration `yaml:"retrieve_budget" mapstructure:"retrieve_budget"`
	GenerateBudget   time.Duration `yaml:"generate_budget" mapstructure:"generate_budget"`
	LockTTL          time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
	CompletionWindow time.Duration `yaml:"completion_window" mapstructure:"completion_window"`
}

// WorkerConfig configures the queue worker pool.
type WorkerConfig struct {
	Workers    int           `yaml:"workers" mapstructure:"workers"`
	ClaimWait  time.Duration `yaml:"claim_wait" mapstructure:"claim_wait"`
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GROWTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Retry counts, stage budgets, and top-K are deliberately
	// config, not constants.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("render.base_url", "https://r.jina.ai")
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.max_depth_one_links", 20)
	v.SetDefault("crawl.page_timeout", "15s")
	v.SetDefault("crawl.per_host_concurrency", 2)
	v.SetDefault("crawl.pool_size", 8)
	v.SetDefault("crawl.host_rate", 2.0)
	v.SetDefault("crawl.host_burst", 2)
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (compatible; GrowthEngineBot/1.0)")
	v.SetDefault("retrieval.top_k", 8)
	v.SetDefault("retrieval.min_score", 0.05)
	v.SetDefault("retrieval.per_query_hits", 12)
	v.SetDefault("generate.repair_attempts", 1)
	v.SetDefault("generate.max_tasks", 12)
	v.SetDefault("orchestrator.stage_retry_budget", 3)
	v.SetDefault("orchestrator.retry_backoff_base", "5s")
	v.SetDefault("orchestrator.retry_backoff_cap", "2m")
	v.SetDefault("orchestrator.crawl_budget", "90s")
	v.SetDefault("orchestrator.retrieve_budget", "10s")
	v.SetDefault("orchestrator.generate_budget", "30s")
	v.SetDefault("orchestrator.lock_ttl", "10m")
	v.SetDefault("orchestrator.completion_window", "24h")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.dlq_depth_threshold", 25)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.claim_wait", "5s")
	v.SetDefault("worker.stale_after", "15m")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
