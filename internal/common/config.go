package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	PDF      PDFConfig      `yaml:"pdf"`
	LLM      LLMConfig      `yaml:"llm"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	LogLevel string         `yaml:"log_level"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // "postgres" | "sqlite"
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	AutoMigrate      bool          `yaml:"auto_migrate"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
}

// PDFConfig holds pdftotext and download settings
type PDFConfig struct {
	Pdftotext    string        `yaml:"pdftotext"`
	MaxBytes     int64         `yaml:"max_bytes"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// LLMConfig holds LLM-related configuration. Keys are the server-side
// defaults used when a request does not carry its own credential.
type LLMConfig struct {
	DefaultModel    string        `yaml:"default_model"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	GoogleAPIKey    string        `yaml:"google_api_key"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBase       time.Duration `yaml:"retry_base"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// RedisConfig enables the shared response cache and the redis job queue.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig holds background processing settings
type QueueConfig struct {
	Backend        string        `yaml:"backend"` // "memory" | "redis"
	Workers        int           `yaml:"workers"`
	Size           int           `yaml:"size"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
			AutoMigrate:     true,
		},
		Server: ServerConfig{
			GRPCAddr: ":8080",
		},
		PDF: PDFConfig{
			Pdftotext:    "pdftotext",
			MaxBytes:     5 * 1024 * 1024,
			FetchTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			DefaultModel:   "gpt-3.5-turbo",
			MaxConcurrency: 10,
			MaxRetries:     3,
			RetryBase:      500 * time.Millisecond,
			CallTimeout:    45 * time.Second,
			RequestTimeout: 2 * time.Minute,
			CacheTTL:       24 * time.Hour,
		},
		Queue: QueueConfig{
			Backend:        "memory",
			Workers:        4,
			Size:           256,
			ProcessTimeout: 3 * time.Minute,
		},
		LogLevel: "info",
	}
}

// LoadConfig loads Default, overlays the YAML file at path (if any) and then
// the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)
	c.Database.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)

	c.PDF.Pdftotext = getEnv("PDFTOTEXT_BIN", c.PDF.Pdftotext)
	c.PDF.MaxBytes = int64(getEnvAsInt("PDF_MAX_BYTES", int(c.PDF.MaxBytes)))
	c.PDF.FetchTimeout = getEnvAsDuration("PDF_FETCH_TIMEOUT", c.PDF.FetchTimeout)

	c.LLM.DefaultModel = getEnv("LLM_DEFAULT_MODEL", c.LLM.DefaultModel)
	c.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.LLM.AnthropicAPIKey)
	c.LLM.GoogleAPIKey = getEnv("GOOGLE_API_KEY", c.LLM.GoogleAPIKey)
	c.LLM.MaxConcurrency = getEnvAsInt("LLM_MAX_CONCURRENCY", c.LLM.MaxConcurrency)
	c.LLM.MaxRetries = getEnvAsInt("LLM_MAX_RETRIES", c.LLM.MaxRetries)
	c.LLM.RetryBase = getEnvAsDuration("LLM_RETRY_BASE", c.LLM.RetryBase)
	c.LLM.CallTimeout = getEnvAsDuration("LLM_CALL_TIMEOUT", c.LLM.CallTimeout)
	c.LLM.RequestTimeout = getEnvAsDuration("LLM_REQUEST_TIMEOUT", c.LLM.RequestTimeout)
	c.LLM.CacheTTL = getEnvAsDuration("LLM_CACHE_TTL", c.LLM.CacheTTL)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)

	c.Queue.Backend = getEnv("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Workers = getEnvAsInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Queue.Size = getEnvAsInt("QUEUE_SIZE", c.Queue.Size)
	c.Queue.ProcessTimeout = getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", c.Queue.ProcessTimeout)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("DB_DRIVER %q is not supported", c.Database.Driver), ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.LLM.MaxConcurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "LLM_MAX_CONCURRENCY must be positive", ErrInvalidInput)
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return NewAppError("CONFIG_ERROR", "REDIS_URL is required for the redis queue", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("QUEUE_BACKEND %q is not supported", c.Queue.Backend), ErrInvalidInput)
	}
	return nil
}
