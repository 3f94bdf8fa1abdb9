// Package config defines the top-level configuration for the upbit arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPBITARB_* environment variables.
type Config struct {
	Upbit     UpbitConfig     `toml:"upbit"`
	Engine    EngineConfig    `toml:"engine"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Logging   LoggingConfig   `toml:"logging"`
	Mode      string          `toml:"mode"`
}

// UpbitConfig holds venue endpoints and API credentials. Keys may be given
// inline or via a key file of the form produced by the account setup
// ("access_key: ..." / "secret_key: ..." lines).
type UpbitConfig struct {
	RestURL     string `toml:"rest_url"`
	WsURL       string `toml:"ws_url"`
	AccessKey   string `toml:"access_key"`
	SecretKey   string `toml:"secret_key"`
	KeyFilePath string `toml:"key_file_path"`
}

// EngineConfig holds the trading universe and loop scheduling.
type EngineConfig struct {
	Symbols []string `toml:"symbols"`

	ScanInterval  duration `toml:"scan_interval"`
	DriveInterval duration `toml:"drive_interval"`

	// BalanceInterval is the cadence of account balance refreshes pushed
	// to dashboard clients. Zero disables them.
	BalanceInterval duration `toml:"balance_interval"`
}

// ScannerConfig holds spread detection and sizing policy.
type ScannerConfig struct {
	MinSpreadPct   float64 `toml:"min_spread_pct"`
	MinNotionalKRW float64 `toml:"min_notional_krw"`
	MaxNotionalKRW float64 `toml:"max_notional_krw"`
	MinPriceKRW    float64 `toml:"min_price_krw"`
	TopK           int     `toml:"top_k"`
}

// LifecycleConfig holds the trade lifecycle policy.
type LifecycleConfig struct {
	MaxActiveTrades      int      `toml:"max_active_trades"`
	WaitTimeout          duration `toml:"wait_timeout"`
	StopLossTolerancePct float64  `toml:"stop_loss_tolerance_pct"`
}

// ServerConfig holds HTTP server parameters for the push hub, metrics, and
// status endpoints.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LoggingConfig holds log level and optional rotating-file output. When File
// is empty logs go to stdout only.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding ("3s", "500ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Upbit: UpbitConfig{
			RestURL: "https://api.upbit.com/v1",
			WsURL:   "wss://api.upbit.com/websocket/v1",
		},
		Engine: EngineConfig{
			ScanInterval:    duration{1 * time.Second},
			DriveInterval:   duration{500 * time.Millisecond},
			BalanceInterval: duration{10 * time.Second},
		},
		Scanner: ScannerConfig{
			MinSpreadPct:   0.5,
			MinNotionalKRW: 5000, // venue minimum order value
			MaxNotionalKRW: 100000,
			MinPriceKRW:    100,
			TopK:           5,
		},
		Lifecycle: LifecycleConfig{
			MaxActiveTrades:      3,
			WaitTimeout:          duration{3 * time.Second},
			StopLossTolerancePct: 1.0,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_done", "trade_failed", "stop_loss"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Mode: "trade",
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for consistency and returns a single
// error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging: unknown level %q (valid: debug, info, warn, error)", c.Logging.Level))
	}

	// Upbit — credentials are only required when orders will be placed.
	if c.Upbit.RestURL == "" {
		errs = append(errs, "upbit: rest_url must not be empty")
	}
	if c.Upbit.WsURL == "" {
		errs = append(errs, "upbit: ws_url must not be empty")
	}
	// Only monitor mode runs keyless; any mode that may place orders needs
	// a credential source.
	if strings.ToLower(c.Mode) != "monitor" {
		hasInline := c.Upbit.AccessKey != "" && c.Upbit.SecretKey != ""
		if !hasInline && c.Upbit.KeyFilePath == "" {
			errs = append(errs, fmt.Sprintf("upbit: access_key/secret_key or key_file_path is required for mode %s", c.Mode))
		}
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: symbols must name at least one asset")
	}
	for _, sym := range c.Engine.Symbols {
		if sym == "" || sym != strings.ToUpper(sym) {
			errs = append(errs, fmt.Sprintf("engine: symbol %q must be an uppercase asset code", sym))
		}
		if sym == "BTC" {
			errs = append(errs, "engine: BTC cannot be traded against itself")
		}
	}
	if c.Engine.ScanInterval.Duration <= 0 {
		errs = append(errs, "engine: scan_interval must be > 0")
	}
	if c.Engine.DriveInterval.Duration <= 0 {
		errs = append(errs, "engine: drive_interval must be > 0")
	}
	if c.Engine.BalanceInterval.Duration < 0 {
		errs = append(errs, "engine: balance_interval must be >= 0")
	}

	// Scanner
	if c.Scanner.MinSpreadPct <= 0 {
		errs = append(errs, "scanner: min_spread_pct must be > 0")
	}
	if c.Scanner.MinNotionalKRW <= 0 {
		errs = append(errs, "scanner: min_notional_krw must be > 0")
	}
	if c.Scanner.MaxNotionalKRW < c.Scanner.MinNotionalKRW {
		errs = append(errs, "scanner: max_notional_krw must be >= min_notional_krw")
	}
	if c.Scanner.MinPriceKRW < 0 {
		errs = append(errs, "scanner: min_price_krw must be >= 0")
	}
	if c.Scanner.TopK < 1 {
		errs = append(errs, "scanner: top_k must be >= 1")
	}

	// Lifecycle
	if c.Lifecycle.MaxActiveTrades < 1 {
		errs = append(errs, "lifecycle: max_active_trades must be >= 1")
	}
	if c.Lifecycle.WaitTimeout.Duration <= 0 {
		errs = append(errs, "lifecycle: wait_timeout must be > 0")
	}
	if c.Lifecycle.StopLossTolerancePct < 0 {
		errs = append(errs, "lifecycle: stop_loss_tolerance_pct must be >= 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify — Telegram fields must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
