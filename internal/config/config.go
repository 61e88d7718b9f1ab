package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Agents   AgentsConfig   `mapstructure:"agents"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Files    FilesConfig    `mapstructure:"files"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MiddlewareTimeout time.Duration `mapstructure:"middleware_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AgentsConfig points at the vendor-hosted multi-agent conversation API.
// Expert routing and prompts live entirely on that side; this gateway
// only consumes the thread/run/file surface.
type AgentsConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIVersion       string `mapstructure:"api_version"`
	AssistantID      string `mapstructure:"assistant_id"`
	StreamingEnabled bool   `mapstructure:"streaming_enabled"`
}

type StorageConfig struct {
	Dir                string        `mapstructure:"dir"`
	MaxBytes           int64         `mapstructure:"max_bytes"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	MaxSessionsPerUser int           `mapstructure:"max_sessions_per_user"`
}

type FilesConfig struct {
	MaxBytes          int64    `mapstructure:"max_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	MaxEntries        int      `mapstructure:"max_entries"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file, run on defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Agents.BaseURL == "" {
		return nil, fmt.Errorf("agents.base_url is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.middleware_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Agents API
	v.SetDefault("agents.api_version", "2024-05-01-preview")
	v.SetDefault("agents.streaming_enabled", true)

	// Storage
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.max_bytes", 5<<20)
	v.SetDefault("storage.session_idle_timeout", "1h")
	v.SetDefault("storage.cleanup_interval", "30m")
	v.SetDefault("storage.max_sessions_per_user", 10)

	// Files
	v.SetDefault("files.max_bytes", 25<<20)
	v.SetDefault("files.max_entries", 100)

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 60)
	v.SetDefault("security.rate_limit.burst", 10)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	v.BindEnv("agents.base_url", "AGENTS_BASE_URL")
	v.BindEnv("agents.api_version", "AGENTS_API_VERSION")
	v.BindEnv("agents.assistant_id", "AGENTS_ASSISTANT_ID")

	v.BindEnv("storage.dir", "STORAGE_DIR")

	v.BindEnv("logging.file", "LOG_FILE")
}
