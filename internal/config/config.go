package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	CLOB      CLOBConfig      `yaml:"clob"`
	State     StateConfig     `yaml:"state"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Risk      RiskConfig      `yaml:"risk"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is json (default) or console.
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CLOBConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	DefaultChainID int64         `yaml:"default_chain_id"`
}

// StateConfig selects the key/value store used for derived exchange
// credentials. An empty path keeps everything in memory.
type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type SchedulerConfig struct {
	Period    time.Duration `yaml:"period"`
	HotReload *bool         `yaml:"hot_reload"`
}

func (c SchedulerConfig) HotReloadValue() bool {
	if c.HotReload == nil {
		return true
	}
	return *c.HotReload
}

type RealtimeConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	MinInterval     time.Duration `yaml:"min_interval"`
	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// upgrades.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RiskConfig struct {
	MaxOrderSize     float64 `yaml:"max_order_size"`
	MaxOrderNotional float64 `yaml:"max_order_notional"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	// Operator commands are read from ChatID only.
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (c MetricsConfig) EnabledValue() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); token != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); chatID != "" && cfg.Telegram.ChatID == "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("TIMESCALE_DSN")); dsn != "" && cfg.Timescale.DSN == "" {
		cfg.Timescale.DSN = dsn
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":3001"
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 5 * time.Second
	}
	if cfg.CLOB.BaseURL == "" {
		cfg.CLOB.BaseURL = "https://clob.polymarket.com"
	}
	cfg.CLOB.BaseURL = strings.TrimRight(cfg.CLOB.BaseURL, "/")
	if cfg.CLOB.Timeout == 0 {
		cfg.CLOB.Timeout = 10 * time.Second
	}
	if cfg.CLOB.DefaultChainID == 0 {
		cfg.CLOB.DefaultChainID = 137
	}
	if cfg.Scheduler.Period == 0 {
		cfg.Scheduler.Period = 30 * time.Second
	}
	if cfg.Realtime.DefaultInterval == 0 {
		cfg.Realtime.DefaultInterval = 5 * time.Second
	}
	if cfg.Realtime.MinInterval == 0 {
		cfg.Realtime.MinInterval = 250 * time.Millisecond
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 30 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Scheduler.Period < 0 {
		return errors.New("scheduler.period must be >= 0")
	}
	if cfg.Realtime.DefaultInterval < cfg.Realtime.MinInterval {
		return errors.New("realtime.default_interval must be >= realtime.min_interval")
	}
	if cfg.Risk.MaxOrderSize < 0 {
		return errors.New("risk.max_order_size must be >= 0")
	}
	if cfg.Risk.MaxOrderNotional < 0 {
		return errors.New("risk.max_order_notional must be >= 0")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return errors.New("telegram.operator_enabled requires telegram.enabled")
	}
	return nil
}
