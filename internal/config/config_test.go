package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"

[engine]
symbols = ["DOGE", "XRP"]
scan_interval = "2s"

[scanner]
min_spread_pct = 1.25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "monitor" {
		t.Errorf("Mode = %q, want monitor", cfg.Mode)
	}
	if got := cfg.Engine.Symbols; len(got) != 2 || got[0] != "DOGE" || got[1] != "XRP" {
		t.Errorf("Symbols = %v", got)
	}
	if cfg.Engine.ScanInterval.Duration != 2*time.Second {
		t.Errorf("ScanInterval = %v, want 2s", cfg.Engine.ScanInterval.Duration)
	}
	if cfg.Scanner.MinSpreadPct != 1.25 {
		t.Errorf("MinSpreadPct = %v, want 1.25", cfg.Scanner.MinSpreadPct)
	}

	// Untouched fields keep their defaults.
	if cfg.Upbit.RestURL != "https://api.upbit.com/v1" {
		t.Errorf("RestURL = %q, want default", cfg.Upbit.RestURL)
	}
	if cfg.Lifecycle.WaitTimeout.Duration != 3*time.Second {
		t.Errorf("WaitTimeout = %v, want default 3s", cfg.Lifecycle.WaitTimeout.Duration)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
[upbit]
access_key = "file-access"

[engine]
symbols = ["DOGE"]
`)

	t.Setenv("UPBITARB_UPBIT_ACCESS_KEY", "env-access")
	t.Setenv("UPBITARB_ENGINE_SYMBOLS", "XRP, ADA")
	t.Setenv("UPBITARB_LIFECYCLE_WAIT_TIMEOUT", "5s")
	t.Setenv("UPBITARB_SCANNER_TOP_K", "9")
	t.Setenv("UPBITARB_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Upbit.AccessKey != "env-access" {
		t.Errorf("AccessKey = %q, want env-access", cfg.Upbit.AccessKey)
	}
	if got := cfg.Engine.Symbols; len(got) != 2 || got[0] != "XRP" || got[1] != "ADA" {
		t.Errorf("Symbols = %v, want [XRP ADA]", got)
	}
	if cfg.Lifecycle.WaitTimeout.Duration != 5*time.Second {
		t.Errorf("WaitTimeout = %v, want 5s", cfg.Lifecycle.WaitTimeout.Duration)
	}
	if cfg.Scanner.TopK != 9 {
		t.Errorf("TopK = %d, want 9", cfg.Scanner.TopK)
	}
	if cfg.Server.Enabled {
		t.Error("Server.Enabled = true, want false from env")
	}
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	path := writeConfig(t, `
[engine]
symbols = ["DOGE"]
`)

	t.Setenv("UPBITARB_SCANNER_TOP_K", "not-a-number")
	t.Setenv("UPBITARB_ENGINE_SCAN_INTERVAL", "sideways")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scanner.TopK != 5 {
		t.Errorf("TopK = %d, want default 5", cfg.Scanner.TopK)
	}
	if cfg.Engine.ScanInterval.Duration != time.Second {
		t.Errorf("ScanInterval = %v, want default 1s", cfg.Engine.ScanInterval.Duration)
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Symbols = []string{"DOGE"}
	cfg.Upbit.KeyFilePath = "/etc/upbitarb/info.txt"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Engine.Symbols = []string{"doge", "BTC"}
	cfg.Scanner.MinSpreadPct = 0
	cfg.Lifecycle.MaxActiveTrades = 0
	cfg.Server.Port = 70000
	cfg.Notify.TelegramToken = "token-without-chat-id"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate: expected error")
	}
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "backtest"`,
		`symbol "doge"`,
		"BTC cannot be traded",
		"min_spread_pct must be > 0",
		"max_active_trades must be >= 1",
		"port must be 1-65535",
		"telegram_token and telegram_chat_id must be set together",
		"access_key/secret_key or key_file_path is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Validate error missing %q in:\n%s", want, msg)
		}
	}
}

func TestValidateMonitorModeNeedsNoKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Engine.Symbols = []string{"DOGE"}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Upbit.AccessKey = "ak"
	cfg.Upbit.SecretKey = "sk"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	if red.Upbit.AccessKey != "***" || red.Upbit.SecretKey != "***" || red.Notify.TelegramToken != "***" {
		t.Errorf("secrets not redacted: %+v", red.Upbit)
	}
	if red.Notify.DiscordWebhookURL != "" {
		t.Errorf("empty field should stay empty, got %q", red.Notify.DiscordWebhookURL)
	}
	if cfg.Upbit.AccessKey != "ak" {
		t.Error("original config mutated")
	}
}
