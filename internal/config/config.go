// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	// Scheduling (cron expressions with a seconds field)
	PriceSyncSchedule string // daily bar sync, after US close
	MacroSyncSchedule string // FRED series + calendars
	PipelineSchedule  string // the EOD decision run
	BackupSchedule    string // S3 backup

	// Evaluation
	Workers       int    // per-asset evaluation fan-out
	BaseCurrency  string // reporting currency
	RunOnStartup  bool   // trigger a pipeline run immediately after boot
	InitialEquity float64

	// Data providers
	FredAPIKey   string
	TiingoAPIKey string

	// Notifications (optional; disabled when token empty)
	TelegramBotToken string
	TelegramChatID   string

	// S3 backup (optional; disabled when bucket empty)
	S3Endpoint        string // custom endpoint for S3-compatible stores, empty for AWS
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	BackupRetention   int // days; 0 keeps everything beyond the minimum
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRAPLINE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8040),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Defaults are US/Eastern-close friendly for a UTC host:
		// sync at 21:40, decide at 22:10, back up Saturday mornings.
		PriceSyncSchedule: getEnv("PRICE_SYNC_SCHEDULE", "0 40 21 * * 1-5"),
		MacroSyncSchedule: getEnv("MACRO_SYNC_SCHEDULE", "0 50 21 * * 1-5"),
		PipelineSchedule:  getEnv("PIPELINE_SCHEDULE", "0 10 22 * * 1-5"),
		BackupSchedule:    getEnv("BACKUP_SCHEDULE", "0 0 6 * * 6"),

		Workers:       getEnvAsInt("PIPELINE_WORKERS", 4),
		BaseCurrency:  getEnv("BASE_CURRENCY", "EUR"),
		RunOnStartup:  getEnvAsBool("RUN_ON_STARTUP", false),
		InitialEquity: getEnvAsFloat("INITIAL_EQUITY", 0),

		FredAPIKey:   getEnv("FRED_API_KEY", ""),
		TiingoAPIKey: getEnv("TIINGO_API_KEY", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          getEnv("S3_REGION", "auto"),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		BackupRetention:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1, got %d", c.Workers)
	}

	if c.S3Bucket != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		return fmt.Errorf("S3 backup configured without credentials")
	}

	if c.TelegramBotToken != "" && c.TelegramChatID == "" {
		return fmt.Errorf("telegram bot token set without a chat id")
	}

	// Provider keys are optional: without them the sync jobs are skipped
	// and the pipeline runs on whatever data is already stored.
	return nil
}

// BackupEnabled reports whether S3 backups are configured.
func (c *Config) BackupEnabled() bool {
	return c.S3Bucket != ""
}

// TelegramEnabled reports whether Telegram notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// Helper functions
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
