package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123456:telegram-token")
	t.Setenv("OPENAI_API_KEY", "sk-test-key-0000")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.MaxConcurrent != 10 || cfg.Generation.RetryAttempts != 3 {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.RateLimit.PerUser != 2 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Cache.Backend != CacheMemory || cfg.Cache.TTL != time.Hour {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Session.IdleTimeout != 10*time.Minute || cfg.Session.SweepInterval != 5*time.Minute {
		t.Errorf("session = %+v", cfg.Session)
	}
	if !cfg.Dialog.Buttons || !cfg.Dialog.TransitionCard || !cfg.Dialog.MeaningCard || cfg.Dialog.CaptionLimit != 1000 {
		t.Errorf("dialog = %+v", cfg.Dialog)
	}
	if cfg.OpenAI.Temperature != 0.8 || cfg.OpenAI.TextModel != "gpt-4" {
		t.Errorf("openai = %+v", cfg.OpenAI)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"TELEGRAM_BOT_TOKEN", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_WINDOW", "30000")
	t.Setenv("GENERATION_TIMEOUT", "90s")
	t.Setenv("FLOW_MEANING_CARD", "off")
	t.Setenv("OPENAI_TEMPERATURE", "0.5")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RETRY_DELAY", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("window = %v, want integer read as milliseconds", cfg.RateLimit.Window)
	}
	if cfg.Generation.Timeout != 90*time.Second {
		t.Errorf("timeout = %v", cfg.Generation.Timeout)
	}
	if cfg.Generation.RetryDelay != time.Second {
		t.Errorf("invalid duration should fall back, got %v", cfg.Generation.RetryDelay)
	}
	if cfg.Dialog.MeaningCard {
		t.Error("meaning card should be disabled")
	}
	if cfg.OpenAI.Temperature != 0.5 {
		t.Errorf("temperature = %v", cfg.OpenAI.Temperature)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
}

func TestRedisBackendNeedsAddr(t *testing.T) {
	setRequired(t)
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Fatalf("err = %v", err)
	}

	t.Setenv("REDIS_ADDR", "localhost:6379")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with addr: %v", err)
	}
}

func TestSettingsMaskSecrets(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, s := range cfg.Settings() {
		if strings.Contains(s.Value, "telegram-token") || strings.Contains(s.Value, "test-key") {
			t.Errorf("%s leaks secret: %q", s.Key, s.Value)
		}
	}
}
