package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPBITARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPBITARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Upbit ──
	setStr(&cfg.Upbit.RestURL, "UPBITARB_UPBIT_REST_URL")
	setStr(&cfg.Upbit.WsURL, "UPBITARB_UPBIT_WS_URL")
	setStr(&cfg.Upbit.AccessKey, "UPBITARB_UPBIT_ACCESS_KEY")
	setStr(&cfg.Upbit.SecretKey, "UPBITARB_UPBIT_SECRET_KEY")
	setStr(&cfg.Upbit.KeyFilePath, "UPBITARB_UPBIT_KEY_FILE_PATH")

	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "UPBITARB_ENGINE_SYMBOLS")
	setDuration(&cfg.Engine.ScanInterval, "UPBITARB_ENGINE_SCAN_INTERVAL")
	setDuration(&cfg.Engine.DriveInterval, "UPBITARB_ENGINE_DRIVE_INTERVAL")
	setDuration(&cfg.Engine.BalanceInterval, "UPBITARB_ENGINE_BALANCE_INTERVAL")

	// ── Scanner ──
	setFloat64(&cfg.Scanner.MinSpreadPct, "UPBITARB_SCANNER_MIN_SPREAD_PCT")
	setFloat64(&cfg.Scanner.MinNotionalKRW, "UPBITARB_SCANNER_MIN_NOTIONAL_KRW")
	setFloat64(&cfg.Scanner.MaxNotionalKRW, "UPBITARB_SCANNER_MAX_NOTIONAL_KRW")
	setFloat64(&cfg.Scanner.MinPriceKRW, "UPBITARB_SCANNER_MIN_PRICE_KRW")
	setInt(&cfg.Scanner.TopK, "UPBITARB_SCANNER_TOP_K")

	// ── Lifecycle ──
	setInt(&cfg.Lifecycle.MaxActiveTrades, "UPBITARB_LIFECYCLE_MAX_ACTIVE_TRADES")
	setDuration(&cfg.Lifecycle.WaitTimeout, "UPBITARB_LIFECYCLE_WAIT_TIMEOUT")
	setFloat64(&cfg.Lifecycle.StopLossTolerancePct, "UPBITARB_LIFECYCLE_STOP_LOSS_TOLERANCE_PCT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPBITARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPBITARB_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPBITARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPBITARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPBITARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPBITARB_NOTIFY_EVENTS")

	// ── Logging ──
	setStr(&cfg.Logging.Level, "UPBITARB_LOG_LEVEL")
	setStr(&cfg.Logging.File, "UPBITARB_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPBITARB_MODE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
