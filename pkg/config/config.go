package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Import        ImportConfig
	Email         EmailConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	BaseURL            string
	RateLimitPerSecond int
	RateLimitBurst     int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type AuthConfig struct {
	JWTSecret string
}

// ImportConfig tunes the bulk import pipeline.
type ImportConfig struct {
	Workers        int
	QueueSize      int
	StalledAfter   time.Duration
	MaxUploadBytes int64
	SweepSchedule  string
}

type EmailConfig struct {
	ResendAPIKey  string
	FromAddress   string
	NotifyAddress string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 100),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 200),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "envelope-dev"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "changeme"),
		},
		Import: ImportConfig{
			Workers:        getEnvAsInt("IMPORT_WORKERS", 4),
			QueueSize:      getEnvAsInt("IMPORT_QUEUE_SIZE", 64),
			StalledAfter:   getEnvAsDuration("IMPORT_STALLED_AFTER", 2*time.Hour),
			MaxUploadBytes: int64(getEnvAsInt("IMPORT_MAX_UPLOAD_BYTES", 10<<20)),
			SweepSchedule:  getEnv("IMPORT_SWEEP_SCHEDULE", "*/10 * * * *"),
		},
		Email: EmailConfig{
			ResendAPIKey:  getEnv("RESEND_API_KEY", ""),
			FromAddress:   getEnv("EMAIL_FROM", "imports@envelopefin.dev"),
			NotifyAddress: getEnv("EMAIL_NOTIFY", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	if cfg.Import.Workers < 1 {
		cfg.Import.Workers = 1
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
