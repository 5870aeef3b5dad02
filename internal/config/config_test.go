package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info log level, got %q", cfg.Log.Level)
	}
	if cfg.CLOB.BaseURL != "https://clob.polymarket.com" {
		t.Fatalf("expected default clob url, got %q", cfg.CLOB.BaseURL)
	}
	if cfg.CLOB.DefaultChainID != 137 {
		t.Fatalf("expected default chain 137, got %d", cfg.CLOB.DefaultChainID)
	}
	if cfg.Scheduler.Period != 30*time.Second {
		t.Fatalf("expected 30s scheduler period, got %v", cfg.Scheduler.Period)
	}
	if cfg.Realtime.DefaultInterval != 5*time.Second {
		t.Fatalf("expected 5s realtime interval, got %v", cfg.Realtime.DefaultInterval)
	}
	if !cfg.Scheduler.HotReloadValue() {
		t.Fatalf("expected hot reload enabled by default")
	}
	if !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled by default")
	}
}

func TestApplyDefaultsTrimsBaseURL(t *testing.T) {
	cfg := &Config{CLOB: CLOBConfig{BaseURL: "http://localhost:8080/"}}
	applyDefaults(cfg)
	if cfg.CLOB.BaseURL != "http://localhost:8080" {
		t.Fatalf("expected trimmed url, got %q", cfg.CLOB.BaseURL)
	}
}

func TestValidateRejectsNegativeRisk(t *testing.T) {
	cfg := &Config{Risk: RiskConfig{MaxOrderSize: -1}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for negative max order size")
	}
}

func TestValidateRequiresTimescaleDSN(t *testing.T) {
	cfg := &Config{Timescale: TimescaleConfig{Enabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing timescale dsn")
	}
}

func TestValidateRequiresTelegramCredentials(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Enabled: true, Token: "token"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing telegram chat id")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"log:\n  level: debug\n" +
		"scheduler:\n  period: 10s\n  hot_reload: false\n" +
		"risk:\n  max_order_size: 50\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
	if cfg.Scheduler.Period != 10*time.Second {
		t.Fatalf("expected 10s period, got %v", cfg.Scheduler.Period)
	}
	if cfg.Scheduler.HotReloadValue() {
		t.Fatalf("expected hot reload disabled")
	}
	if cfg.Risk.MaxOrderSize != 50 {
		t.Fatalf("expected max order size 50, got %v", cfg.Risk.MaxOrderSize)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("TIMESCALE_DSN", "postgres://example")
	cfg := Default()
	if cfg.Timescale.DSN != "postgres://example" {
		t.Fatalf("expected dsn from env, got %q", cfg.Timescale.DSN)
	}
}

func TestValidateOperatorRequiresTelegram(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{OperatorEnabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for operator without telegram")
	}
}
