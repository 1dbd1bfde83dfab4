package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/contextual-chat/ctxchat"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Context       ContextConfig       `mapstructure:"context"`
	Completion    CompletionConfig    `mapstructure:"completion"`
	Store         StoreConfig         `mapstructure:"store"`
	Database      DatabaseConfig      `mapstructure:"database"`
	CompletionLog CompletionLogConfig `mapstructure:"completion_log"`
	Limiter       LimiterConfig       `mapstructure:"limiter"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	EnableTracing bool                `mapstructure:"enable_tracing"`
}

// ContextConfig holds the defaults for newly created contexts.
type ContextConfig struct {
	TimeoutSeconds  int    `mapstructure:"timeout"` // Idle seconds before histories expire; <= 0 disables
	Username        string `mapstructure:"username"`
	Agentname       string `mapstructure:"agentname"`
	ChatDescription string `mapstructure:"chat_description"`
	HistoryCount    int    `mapstructure:"history_count"`
}

// Timeout returns the idle timeout as a duration.
func (c ContextConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CompletionConfig stores the completion provider settings.
type CompletionConfig struct {
	Provider    string         `mapstructure:"provider"` // "openai"
	Strategy    string         `mapstructure:"strategy"` // "prompt", "messages", "labeled_messages"
	APIKey      string         `mapstructure:"api_key"`
	BaseURL     string         `mapstructure:"base_url"`
	Model       string         `mapstructure:"model"`
	Temperature float64        `mapstructure:"temperature"`
	MaxTokens   int            `mapstructure:"max_tokens"`
	Timeout     time.Duration  `mapstructure:"timeout"` // HTTP client timeout; 0 means none
	ExtraParams map[string]any `mapstructure:"extra_params"`
}

// StoreConfig selects the context store variant.
type StoreConfig struct {
	Type           string `mapstructure:"type"`            // "memory", "file", "sql", "redis"
	MemoryCapacity int    `mapstructure:"memory_capacity"` // 0 means unbounded
	FileDir        string `mapstructure:"file_dir"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	RedisPrefix    string `mapstructure:"redis_prefix"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN  string `mapstructure:"dsn"`
	Type string `mapstructure:"type"` // "libsql", "sqlite"
}

// CompletionLogConfig selects the completion log sink.
type CompletionLogConfig struct {
	Type        string `mapstructure:"type"` // "none", "sql", "jsonl"
	Path        string `mapstructure:"path"` // jsonl only
	LogFailures bool   `mapstructure:"log_failures"`
}

// LimiterConfig selects per-session admission control.
type LimiterConfig struct {
	Type       string        `mapstructure:"type"` // "none", "token_bucket", "session_lock"
	Capacity   int           `mapstructure:"capacity"`
	RefillRate time.Duration `mapstructure:"refill_rate"`
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

const envPrefix = "CTXCHAT"

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadConfigWatched loads configuration like LoadConfig and then watches the
// config file; onChange receives every successfully re-decoded config.
// Decode failures on reload are dropped and the previous config stays live.
func LoadConfigWatched(configPath string, onChange func(*Config, fsnotify.Event)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			return
		}
		onChange(next, e)
	})
	v.WatchConfig()
	return cfg, nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// completion.api_key becomes CTXCHAT_COMPLETION_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("completion.api_key", envPrefix+"_COMPLETION_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("context.timeout", internal.DefaultContextTimeout)
	v.SetDefault("context.username", internal.DefaultUsername)
	v.SetDefault("context.agentname", internal.DefaultAgentname)
	v.SetDefault("context.chat_description", "")
	v.SetDefault("context.history_count", internal.DefaultHistoryCount)

	v.SetDefault("completion.provider", "openai")
	v.SetDefault("completion.strategy", "prompt")
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.base_url", internal.DefaultBaseURL)
	v.SetDefault("completion.model", internal.DefaultModel)
	v.SetDefault("completion.temperature", internal.DefaultTemperature)
	v.SetDefault("completion.max_tokens", internal.DefaultMaxTokens)
	v.SetDefault("completion.timeout", "0s")
	v.SetDefault("completion.extra_params", map[string]any{})

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.memory_capacity", 0)
	v.SetDefault("store.file_dir", internal.DefaultContextDir)
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", internal.DefaultRedisPrefix)

	v.SetDefault("database.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("database.type", internal.DefaultDatabaseType)

	v.SetDefault("completion_log.type", "none")
	v.SetDefault("completion_log.path", internal.DefaultLogPath)
	v.SetDefault("completion_log.log_failures", true)

	v.SetDefault("limiter.type", "none")
	v.SetDefault("limiter.capacity", 10)
	v.SetDefault("limiter.refill_rate", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", true)

	v.SetDefault("enable_tracing", false)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}
