package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Mailbox   MailboxConfig
	Extractor ExtractorConfig
	Artifacts ArtifactsConfig
	Jobs      JobsConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// RedisConfig holds the progress-cache configuration.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr           string
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// MailboxConfig holds Gmail source configuration
type MailboxConfig struct {
	CredentialsFile string
	TokenDir        string
	PageSize        int64
}

// ExtractorConfig holds structured-extraction configuration
type ExtractorConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	RateRPS     float64
	RateBurst   int
}

// ArtifactsConfig holds the object store configuration.
type ArtifactsConfig struct {
	BaseDir string
}

// JobsConfig holds orchestrator tuning knobs.
type JobsConfig struct {
	BatchSize        int
	LeaseStale       time.Duration
	SweepAfter       time.Duration
	SweepSchedule    string
	ProgressInterval time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
			TTL: getEnvAsDuration("REDIS_PROGRESS_TTL", 24*time.Hour),
		},
		Server: ServerConfig{
			Addr:           getEnv("HTTP_ADDR", ":8080"),
			AuthToken:      getEnv("API_AUTH_TOKEN", ""),
			RateLimitRPS:   getEnvAsFloat64("HTTP_RATE_RPS", 20),
			RateLimitBurst: getEnvAsInt("HTTP_RATE_BURST", 40),
		},
		Mailbox: MailboxConfig{
			CredentialsFile: getEnv("GMAIL_CREDENTIALS_FILE", "credentials.json"),
			TokenDir:        getEnv("GMAIL_TOKEN_DIR", "./tokens"),
			PageSize:        int64(getEnvAsInt("GMAIL_PAGE_SIZE", 100)),
		},
		Extractor: ExtractorConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
			RateRPS:     getEnvAsFloat64("OPENAI_RATE_RPS", 2),
			RateBurst:   getEnvAsInt("OPENAI_RATE_BURST", 4),
		},
		Artifacts: ArtifactsConfig{
			BaseDir: getEnv("ARTIFACT_DIR", "./artifacts"),
		},
		Jobs: JobsConfig{
			BatchSize:        getEnvAsInt("JOB_BATCH_SIZE", 10),
			LeaseStale:       getEnvAsDuration("JOB_LEASE_STALE", 2*time.Minute),
			SweepAfter:       getEnvAsDuration("JOB_SWEEP_AFTER", 10*time.Minute),
			SweepSchedule:    getEnv("JOB_SWEEP_SCHEDULE", "@every 5m"),
			ProgressInterval: getEnvAsDuration("JOB_PROGRESS_INTERVAL", 2*time.Second),
		},
	}
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

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
	if c.Database.DSN == "" {
		return NewAppError(KindInvalidInput, "DB_URL is required", nil)
	}
	if c.Extractor.APIKey == "" {
		return NewAppError(KindInvalidInput, "OPENAI_API_KEY is required", nil)
	}
	if c.Server.Addr == "" {
		return NewAppError(KindInvalidInput, "HTTP_ADDR is required", nil)
	}
	return nil
}
