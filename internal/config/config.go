// Package config loads settings from config.yaml, .env and SENTINEL_* environment variables.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Reasoning  ReasoningConfig  `yaml:"reasoning" mapstructure:"reasoning"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Routing    RoutingConfig    `yaml:"routing" mapstructure:"routing"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the session store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig holds Redis connection settings for store.driver=redis.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ReasoningConfig selects and tunes the reasoning service.
type ReasoningConfig struct {
	// Provider is "heuristic" or "claude".
	Provider         string   `yaml:"provider" mapstructure:"provider"`
	ClusterThreshold int      `yaml:"cluster_threshold" mapstructure:"cluster_threshold"`
	Gateways         []string `yaml:"gateways" mapstructure:"gateways"`
}

// IngestConfig configures the transaction log source.
type IngestConfig struct {
	LogPath string `yaml:"log_path" mapstructure:"log_path"`
	Window  int    `yaml:"window" mapstructure:"window"`
}

// RoutingConfig configures the routing table file.
type RoutingConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// WorkflowConfig tunes the state machine.
type WorkflowConfig struct {
	LookbackK        int           `yaml:"lookback_k" mapstructure:"lookback_k"`
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout" mapstructure:"reasoning_timeout"`
	// ApprovalTTL expires pending proposals. Zero disables expiry.
	ApprovalTTL time.Duration `yaml:"approval_ttl" mapstructure:"approval_ttl"`
	// ExecutionTimeout is how long an EXECUTING claim may stand before it is
	// treated as abandoned and moved to FAILED.
	ExecutionTimeout time.Duration `yaml:"execution_timeout" mapstructure:"execution_timeout"`
}

// ResilienceConfig guards calls to the reasoning service.
type ResilienceConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// MonitoringConfig configures alert webhooks and the periodic cycle checker.
type MonitoringConfig struct {
	WebhookURL         string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval      time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	Threads            []string      `yaml:"threads" mapstructure:"threads"`
	StaleApprovalAfter time.Duration `yaml:"stale_approval_after" mapstructure:"stale_approval_after"`

	// SuccessRateThreshold alerts when a session's latest success rate drops below it.
	SuccessRateThreshold float64 `yaml:"success_rate_threshold" mapstructure:"success_rate_threshold"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "sentinel.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "sentinel")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("anthropic.requests_per_second", 1.0)
	v.SetDefault("reasoning.provider", "heuristic")
	v.SetDefault("reasoning.cluster_threshold", 5)
	v.SetDefault("reasoning.gateways", []string{"stripe", "adyen"})
	v.SetDefault("ingest.log_path", "transactions.log")
	v.SetDefault("ingest.window", 50)
	v.SetDefault("routing.path", "routing_config.json")
	v.SetDefault("workflow.lookback_k", 5)
	v.SetDefault("workflow.reasoning_timeout", "30s")
	v.SetDefault("workflow.approval_ttl", "24h")
	v.SetDefault("workflow.execution_timeout", "5m")
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout", "30s")
	v.SetDefault("monitoring.check_interval", "1m")
	v.SetDefault("monitoring.threads", []string{"default"})
	v.SetDefault("monitoring.stale_approval_after", "1h")
	v.SetDefault("monitoring.success_rate_threshold", 0.9)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys with no default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{"store.database_url", "redis.password", "anthropic.key", "anthropic.base_url", "monitoring.webhook_url"} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

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

// Validate checks that the settings required by mode are present.
// Modes: "cycle" (one-shot engine commands), "serve", "watch".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "cycle", "serve", "watch":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for redis")
		}
	default:
		errs = append(errs, "store.driver must be one of memory, sqlite, postgres, redis")
	}

	switch c.Reasoning.Provider {
	case "heuristic":
	case "claude":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required for the claude provider")
		}
		if c.Anthropic.Model == "" {
			errs = append(errs, "anthropic.model is required for the claude provider")
		}
	default:
		errs = append(errs, "reasoning.provider must be heuristic or claude")
	}

	if c.Ingest.LogPath == "" {
		errs = append(errs, "ingest.log_path is required")
	}
	if c.Ingest.Window <= 0 {
		errs = append(errs, "ingest.window must be > 0")
	}
	if c.Routing.Path == "" {
		errs = append(errs, "routing.path is required")
	}
	if c.Workflow.LookbackK <= 0 {
		errs = append(errs, "workflow.lookback_k must be > 0")
	}
	if c.Workflow.ReasoningTimeout <= 0 {
		errs = append(errs, "workflow.reasoning_timeout must be > 0")
	}
	if c.Workflow.ApprovalTTL < 0 {
		errs = append(errs, "workflow.approval_ttl must be >= 0")
	}
	if c.Workflow.ExecutionTimeout <= 0 {
		errs = append(errs, "workflow.execution_timeout must be > 0")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be > 0 and <= 65535")
	}
	if (mode == "serve" || mode == "watch") && c.Monitoring.CheckInterval < 0 {
		errs = append(errs, "monitoring.check_interval must be >= 0")
	}
	if c.Monitoring.SuccessRateThreshold < 0 || c.Monitoring.SuccessRateThreshold > 1 {
		errs = append(errs, "monitoring.success_rate_threshold must be between 0 and 1")
	}
	if mode == "watch" && len(c.Monitoring.Threads) == 0 {
		errs = append(errs, "monitoring.threads must name at least one thread")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
