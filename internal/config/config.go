package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Credential CredentialConfig `mapstructure:"credential"`
	Auth       AuthConfig       `mapstructure:"auth"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// UpstreamConfig points the relay at the chat-completion API.
// A zero timeout leaves the call bound only to the inbound request.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MessagesPath   string        `mapstructure:"messages_path"`
	HeaderTimeout  time.Duration `mapstructure:"header_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
}

type CredentialConfig struct {
	StaticAPIKey  string        `mapstructure:"static_api_key"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	DemoMode   bool          `mapstructure:"demo_mode"`
	DemoUserID string        `mapstructure:"demo_user_id"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// StorageConfig selects the message/credential store.
// Type is one of memory, disk, sqlite, postgres.
type StorageConfig struct {
	Type         string `mapstructure:"type"`
	DataDir      string `mapstructure:"data_dir"`
	DSN          string `mapstructure:"dsn"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type TelemetryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ServiceName     string        `mapstructure:"service_name"`
	TraceFile       string        `mapstructure:"trace_file"`
	MetricsFile     string        `mapstructure:"metrics_file"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("upstream.base_url", "https://api.langdock.com/anthropic/eu")
	v.SetDefault("upstream.messages_path", "/v1/messages")
	v.SetDefault("upstream.header_timeout", "60s")
	v.SetDefault("upstream.request_timeout", "0s")
	v.SetDefault("upstream.stream_timeout", "0s")

	v.SetDefault("credential.static_api_key", "")
	v.SetDefault("credential.encryption_key", "")
	v.SetDefault("credential.cache_ttl", "5m")

	// keys without a default are invisible to AutomaticEnv during Unmarshal
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.demo_mode", false)
	v.SetDefault("auth.demo_user_id", "demo")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.exposed_headers", []string{"Content-Length"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 43200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.history_limit", 50)

	v.SetDefault("redis.url", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "mindful-backend")
	v.SetDefault("telemetry.trace_file", "./logs/traces.log")
	v.SetDefault("telemetry.metrics_file", "./logs/metrics.log")
	v.SetDefault("telemetry.metrics_interval", "10s")
}

// Load reads configuration from an optional YAML file and the environment.
// An empty path skips the file; a missing .env is ignored.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MINDFUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	// 配置文件优先，其次是提供商的环境变量
	if c.Credential.StaticAPIKey == "" {
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			c.Credential.StaticAPIKey = apiKey
		}
		if apiKey := os.Getenv("LANGDOCK_API_KEY"); apiKey != "" {
			c.Credential.StaticAPIKey = apiKey
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	cfg = c
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "memory", "disk", "sqlite", "postgres":
	default:
		return errors.New("storage.type must be one of memory, disk, sqlite, postgres")
	}
	if !c.Auth.DemoMode && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required unless auth.demo_mode is set")
	}
	if c.Storage.HistoryLimit <= 0 {
		c.Storage.HistoryLimit = 50
	}
	return nil
}

func Get() *Config {
	return cfg
}
