// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Telegram   TelegramConfig
	OpenAI     OpenAIConfig
	Generation GenerationConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Session    SessionConfig
	Cleanup    CleanupConfig
	Dialog     DialogConfig
	Monitor    MonitorConfig

	DBPath         string
	AdminAddr      string // empty disables the admin HTTP server
	AdminToken     string // bearer token for /api and /ws; empty disables the check
	AdminOrigins   []string
	GRPCHealthAddr string // empty disables the gRPC health server
	LogLevel       slog.Level
}

// TelegramConfig configures the Bot API connection.
type TelegramConfig struct {
	Token       string
	WebhookURL  string // webhook mode when set, long polling otherwise
	PollTimeout int    // seconds
}

// OpenAIConfig configures the generation provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	TextModel    string
	ImageModel   string
	ImageSize    string
	ImageQuality string
	Temperature  float32
}

// GenerationConfig bounds provider calls.
type GenerationConfig struct {
	MaxConcurrent int
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// RateLimitConfig sets the per-user quota.
type RateLimitConfig struct {
	PerUser int
	Window  time.Duration
}

// CacheConfig selects and tunes the generation cache.
type CacheConfig struct {
	Backend   string
	TTL       time.Duration
	RedisAddr string
}

// SessionConfig controls idle session expiry.
type SessionConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// CleanupConfig controls artifact cleanup.
type CleanupConfig struct {
	Interval         time.Duration
	TempDir          string
	TempFileTTL      time.Duration
	DownloadTimeout  time.Duration
	ArchiveRetention time.Duration
}

// DialogConfig toggles the optional flow steps and presentation limits.
type DialogConfig struct {
	CaptionLimit   int
	ProgressDelay  time.Duration
	Buttons        bool
	TransitionCard bool
	MeaningCard    bool
}

// MonitorConfig controls stats logging and JSON reports.
type MonitorConfig struct {
	ReportsDir      string
	MetricsInterval time.Duration
	ReportInterval  time.Duration
	ReportRetention time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Telegram: TelegramConfig{
			Token:       getEnv("TELEGRAM_BOT_TOKEN", ""),
			WebhookURL:  getEnv("TELEGRAM_WEBHOOK_URL", ""),
			PollTimeout: getEnvInt("TELEGRAM_POLL_TIMEOUT", 10),
		},
		OpenAI: OpenAIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			TextModel:    getEnv("OPENAI_TEXT_MODEL", "gpt-4"),
			ImageModel:   getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
			ImageSize:    getEnv("OPENAI_IMAGE_SIZE", "1024x1024"),
			ImageQuality: getEnv("OPENAI_IMAGE_QUALITY", "standard"),
			Temperature:  float32(getEnvFloat("OPENAI_TEMPERATURE", 0.8)),
		},
		Generation: GenerationConfig{
			MaxConcurrent: getEnvInt("MAX_CONCURRENT_REQUESTS", 10),
			Timeout:       getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
			RetryAttempts: getEnvInt("RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("RETRY_DELAY", time.Second),
		},
		RateLimit: RateLimitConfig{
			PerUser: getEnvInt("RATE_LIMIT_PER_USER", 2),
			Window:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Cache: CacheConfig{
			Backend:   strings.ToLower(getEnv("CACHE_BACKEND", CacheMemory)),
			TTL:       getEnvDuration("CACHE_TTL", time.Hour),
			RedisAddr: getEnv("REDIS_ADDR", ""),
		},
		Session: SessionConfig{
			IdleTimeout:   getEnvDuration("SESSION_IDLE_TIMEOUT", 10*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Cleanup: CleanupConfig{
			Interval:         getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute),
			TempDir:          getEnv("TEMP_DIR", "./temp"),
			TempFileTTL:      getEnvDuration("TEMP_FILE_TTL", time.Hour),
			DownloadTimeout:  getEnvDuration("IMAGE_DOWNLOAD_TIMEOUT", 30*time.Second),
			ArchiveRetention: getEnvDuration("ARCHIVE_RETENTION", 30*24*time.Hour),
		},
		Dialog: DialogConfig{
			CaptionLimit:   getEnvInt("CAPTION_LIMIT", 1000),
			ProgressDelay:  getEnvDuration("PROGRESS_DELAY", time.Second),
			Buttons:        getEnvBool("FLOW_BUTTONS", true),
			TransitionCard: getEnvBool("FLOW_TRANSITION_CARD", true),
			MeaningCard:    getEnvBool("FLOW_MEANING_CARD", true),
		},
		Monitor: MonitorConfig{
			ReportsDir:      getEnv("REPORTS_DIR", "./reports"),
			MetricsInterval: getEnvDuration("METRICS_INTERVAL", time.Minute),
			ReportInterval:  getEnvDuration("REPORT_INTERVAL", 5*time.Minute),
			ReportRetention: getEnvDuration("REPORT_RETENTION", 7*24*time.Hour),
		},
		DBPath:         getEnv("DB_PATH", "./data/metacards.db"),
		AdminAddr:      getEnv("ADMIN_ADDR", ":8080"),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		AdminOrigins:   splitList(getEnv("ADMIN_ALLOWED_ORIGINS", "*")),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set. Every
// problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Generation.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_REQUESTS must be > 0"))
	}
	if c.Generation.RetryAttempts <= 0 {
		errs = append(errs, errors.New("RETRY_ATTEMPTS must be > 0"))
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be > 0"))
	}
	if c.RateLimit.PerUser > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be > 0"))
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when CACHE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheMemory, CacheRedis, c.Cache.Backend))
	}
	if c.Session.IdleTimeout <= 0 || c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT and SESSION_SWEEP_INTERVAL must be > 0"))
	}
	if c.Cleanup.Interval <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be > 0"))
	}
	if c.Cleanup.TempDir == "" {
		errs = append(errs, errors.New("TEMP_DIR cannot be empty"))
	}
	if c.Dialog.CaptionLimit <= 0 || c.Dialog.CaptionLimit > 1024 {
		errs = append(errs, errors.New("CAPTION_LIMIT must be in 1..1024"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.Monitor.ReportsDir == "" {
		errs = append(errs, errors.New("REPORTS_DIR cannot be empty"))
	}
	return errors.Join(errs...)
}

// Setting is one configuration value prepared for display.
type Setting struct {
	Key   string
	Value string
}

// Settings lists the effective configuration with credentials masked.
func (c *Config) Settings() []Setting {
	return []Setting{
		{"TELEGRAM_BOT_TOKEN", mask(c.Telegram.Token)},
		{"TELEGRAM_WEBHOOK_URL", c.Telegram.WebhookURL},
		{"OPENAI_API_KEY", mask(c.OpenAI.APIKey)},
		{"OPENAI_BASE_URL", c.OpenAI.BaseURL},
		{"OPENAI_TEXT_MODEL", c.OpenAI.TextModel},
		{"OPENAI_IMAGE_MODEL", c.OpenAI.ImageModel},
		{"MAX_CONCURRENT_REQUESTS", strconv.Itoa(c.Generation.MaxConcurrent)},
		{"GENERATION_TIMEOUT", c.Generation.Timeout.String()},
		{"RETRY_ATTEMPTS", strconv.Itoa(c.Generation.RetryAttempts)},
		{"RATE_LIMIT_PER_USER", strconv.Itoa(c.RateLimit.PerUser)},
		{"RATE_LIMIT_WINDOW", c.RateLimit.Window.String()},
		{"CACHE_BACKEND", c.Cache.Backend},
		{"CACHE_TTL", c.Cache.TTL.String()},
		{"SESSION_IDLE_TIMEOUT", c.Session.IdleTimeout.String()},
		{"TEMP_DIR", c.Cleanup.TempDir},
		{"DB_PATH", c.DBPath},
		{"REPORTS_DIR", c.Monitor.ReportsDir},
		{"ADMIN_ADDR", c.AdminAddr},
		{"ADMIN_TOKEN", mask(c.AdminToken)},
		{"LOG_LEVEL", c.LogLevel.String()},
	}
}

func mask(secret string) string {
	if len(secret) <= 8 {
		if secret == "" {
			return ""
		}
		return "****"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration syntax or a bare integer, read as
// milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
