// Package config loads the service configuration from file and
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
	// SessionDeadline bounds one research session wall-clock time.
	SessionDeadline time.Duration `mapstructure:"session_deadline"`
}

// LLMConfig contains the model backend and per-role routing.
type LLMConfig struct {
	Provider LLMProvider      `mapstructure:"provider"`
	Routing  LLMRoutingConfig `mapstructure:"routing"`
}

// LLMProvider is one OpenAI-compatible backend.
type LLMProvider struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// LLMRoutingConfig selects a model and output budget per agent role.
type LLMRoutingConfig struct {
	Orchestrator RoleModel `mapstructure:"orchestrator"`
	Searcher     RoleModel `mapstructure:"searcher"`
	Analyzer     RoleModel `mapstructure:"analyzer"`
	Writer       RoleModel `mapstructure:"writer"`
}

// RoleModel is the model assignment for one role.
type RoleModel struct {
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// SearchConfig contains the search provider settings.
type SearchConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig groups artifact and archive storage.
type StorageConfig struct {
	File     FileConfig     `mapstructure:"file"`
	Archive  string         `mapstructure:"archive"` // memory, redis or postgres
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// FileConfig contains filesystem artifact settings.
type FileConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LogDir  string `mapstructure:"log_dir"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL     string        `mapstructure:"url"`
	Host    string        `mapstructure:"host"`
	Port    string        `mapstructure:"port"`
	User    string        `mapstructure:"user"`
	Pass    string        `mapstructure:"password"`
	DBName  string        `mapstructure:"dbname"`
	SSLMode string        `mapstructure:"sslmode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DSN builds the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Pass, p.DBName, p.SSLMode)
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	MetricsPort  int  `mapstructure:"metrics_port"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port must be >= 0")
	}
	return nil
}

// LoadConfig reads configuration from the given file (or the default search
// paths when empty), applies defaults and environment overrides, and
// validates the result. A missing config file is not an error; defaults and
// environment carry a usable configuration.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "2m")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.session_deadline", "10m")

	v.SetDefault("llm.provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.provider.timeout", "2m")
	v.SetDefault("llm.provider.max_retries", 3)
	v.SetDefault("llm.provider.retry_base_delay", "1s")
	v.SetDefault("llm.routing.orchestrator.model", "claude-sonnet-4-5")
	v.SetDefault("llm.routing.orchestrator.max_tokens", 4096)
	v.SetDefault("llm.routing.searcher.model", "claude-sonnet-4-5")
	v.SetDefault("llm.routing.searcher.max_tokens", 2048)
	v.SetDefault("llm.routing.analyzer.model", "claude-sonnet-4-5")
	v.SetDefault("llm.routing.analyzer.max_tokens", 3072)
	v.SetDefault("llm.routing.writer.model", "claude-sonnet-4-5")
	v.SetDefault("llm.routing.writer.max_tokens", 8192)

	v.SetDefault("search.endpoint", "https://api.exa.ai")
	v.SetDefault("search.timeout", "30s")

	v.SetDefault("storage.file.data_dir", "./data")
	v.SetDefault("storage.file.log_dir", "./data/logs")
	v.SetDefault("storage.archive", "memory")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.ttl", "168h")
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics_port", 0)
	v.SetDefault("telemetry.cost_tracking", true)
}

// overrideFromEnv maps the conventional unprefixed variables onto the
// config tree.
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.Provider.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.Provider.BaseURL = v
	}
	if v := os.Getenv("EXA_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Storage.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		cfg.Storage.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Address = ":" + v
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Storage.Archive {
	case "memory":
	case "redis":
		if err := cfg.Storage.Redis.Validate(); err != nil {
			return err
		}
	case "postgres":
		if err := cfg.Storage.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.archive must be memory, redis or postgres, got %q", cfg.Storage.Archive)
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return err
	}
	if cfg.Server.SessionDeadline <= 0 {
		return fmt.Errorf("server.session_deadline must be positive")
	}
	return nil
}
