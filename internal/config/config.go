package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Models     ModelsConfig     `mapstructure:"models"`
	Assistant  AssistantConfig  `mapstructure:"assistant"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

type ModelsConfig struct {
	Default   string          `mapstructure:"default"`
	Endpoints []ModelEndpoint `mapstructure:"endpoints"`
}

type ModelEndpoint struct {
	Name        string      `mapstructure:"name"`
	DisplayName string      `mapstructure:"display_name"`
	Provider    string      `mapstructure:"provider"` // openai or gemini
	BaseURL     string      `mapstructure:"base_url"`
	APIKey      string      `mapstructure:"api_key"`
	Models      []ModelInfo `mapstructure:"models"`
}

type ModelInfo struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type AssistantConfig struct {
	DefaultLanguage   string        `mapstructure:"default_language"`
	TopicWindow       int           `mapstructure:"topic_window"`
	HistoryWindow     int           `mapstructure:"history_window"`
	Temperature       float32       `mapstructure:"temperature"`
	MaxOutputTokens   int           `mapstructure:"max_output_tokens"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	MaxMessageBytes   int           `mapstructure:"max_message_bytes"`
}

type KnowledgeConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Source       string  `mapstructure:"source"` // directory or postgres
	Directory    string  `mapstructure:"directory"`
	Limit        int     `mapstructure:"limit"`
	MinRelevance float64 `mapstructure:"min_relevance"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"` // memory, redis or postgres
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

type TelegramConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("assistant.default_language", "arabic")
	v.SetDefault("assistant.topic_window", 5)
	v.SetDefault("assistant.history_window", 10)
	v.SetDefault("assistant.temperature", 0.7)
	v.SetDefault("assistant.max_output_tokens", 1000)
	v.SetDefault("assistant.completion_timeout", 30*time.Second)
	v.SetDefault("assistant.session_ttl", 30*time.Minute)
	v.SetDefault("assistant.max_message_bytes", 4096)

	v.SetDefault("knowledge.enabled", true)
	v.SetDefault("knowledge.source", "directory")
	v.SetDefault("knowledge.directory", "knowledge")
	v.SetDefault("knowledge.limit", 5)
	v.SetDefault("knowledge.min_relevance", 0.3)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.stream_max_len", 10000)
	v.SetDefault("storage.memory.default_expiration", 24*time.Hour)
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.max_size", 1000)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "ar")
	v.SetDefault("i18n.languages", []string{"ar", "en"})

	v.SetDefault("telegram.update_timeout", 60)
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Enable environment variable substitution
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")
	v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	config.applyEndpointEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEndpointEnv fills API keys from <NAME>_API_KEY and adds a default
// endpoint from LLM_BASE_URL/LLM_API_KEY/LLM_MODEL when none is configured.
func (c *Config) applyEndpointEnv() {
	for i := range c.Models.Endpoints {
		ep := &c.Models.Endpoints[i]
		envPrefix := strings.ToUpper(strings.ReplaceAll(ep.Name, "-", "_"))
		if key := os.Getenv(envPrefix + "_API_KEY"); key != "" {
			ep.APIKey = key
		}
		if ep.Provider == "" {
			ep.Provider = "openai"
		}
		if ep.DisplayName == "" {
			ep.DisplayName = ep.Name
		}
	}

	if len(c.Models.Endpoints) > 0 {
		return
	}

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	c.Models.Endpoints = append(c.Models.Endpoints, ModelEndpoint{
		Name:        "default",
		DisplayName: "default",
		Provider:    "openai",
		BaseURL:     os.Getenv("LLM_BASE_URL"),
		APIKey:      apiKey,
		Models:      []ModelInfo{{ID: model, Name: model}},
	})
	if c.Models.Default == "" {
		c.Models.Default = model
	}
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if len(c.Models.Endpoints) == 0 {
		return fmt.Errorf("at least one model endpoint is required")
	}
	for _, ep := range c.Models.Endpoints {
		switch ep.Provider {
		case "openai", "gemini":
		default:
			return fmt.Errorf("endpoint %s: unsupported provider %q", ep.Name, ep.Provider)
		}
		if len(ep.Models) == 0 {
			return fmt.Errorf("endpoint %s: at least one model is required", ep.Name)
		}
	}
	if c.Models.Default == "" {
		c.Models.Default = c.Models.Endpoints[0].Models[0].ID
	}

	switch c.Storage.Type {
	case "memory", "redis":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for postgres storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.Knowledge.Enabled && c.Knowledge.Source == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database url is required for postgres knowledge source")
	}
	if c.Knowledge.MinRelevance < 0 || c.Knowledge.MinRelevance > 1 {
		return fmt.Errorf("knowledge.min_relevance must be within [0,1], got %v", c.Knowledge.MinRelevance)
	}
	if c.Assistant.HistoryWindow <= 0 || c.Assistant.TopicWindow <= 0 {
		return fmt.Errorf("assistant windows must be positive")
	}
	if c.Assistant.Temperature < 0 || c.Assistant.Temperature > 2 {
		return fmt.Errorf("assistant.temperature out of range: %v", c.Assistant.Temperature)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required when telegram is enabled")
	}
	return nil
}
