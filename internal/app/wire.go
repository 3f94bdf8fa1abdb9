package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/alanyoungcy/upbitarb/internal/config"
	"github.com/alanyoungcy/upbitarb/internal/crypto"
	"github.com/alanyoungcy/upbitarb/internal/engine"
	"github.com/alanyoungcy/upbitarb/internal/lifecycle"
	"github.com/alanyoungcy/upbitarb/internal/marketdata"
	"github.com/alanyoungcy/upbitarb/internal/notify"
	"github.com/alanyoungcy/upbitarb/internal/platform/upbit"
	"github.com/alanyoungcy/upbitarb/internal/push"
	"github.com/alanyoungcy/upbitarb/internal/scanner"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Rest     *upbit.Client // nil in monitor mode
	Stream   *upbit.WSClient
	Store    *marketdata.Store
	Scanner  *scanner.Scanner
	Manager  *lifecycle.Manager
	Engine   *engine.Engine
	Hub      *push.Hub
	Server   *push.Server // nil when the server is disabled
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger, mode string) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange access ---
	// Trade mode signs real orders; monitor mode fills them against a local
	// paper book so the full lifecycle stays observable without risk.
	var exch lifecycle.ExchangeClient
	if mode == "trade" {
		accessKey, secretKey, err := crypto.LoadKeys(crypto.KeyConfig{
			AccessKey:   cfg.Upbit.AccessKey,
			SecretKey:   cfg.Upbit.SecretKey,
			KeyFilePath: cfg.Upbit.KeyFilePath,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: api keys: %w", err)
		}
		signer, err := crypto.NewSigner(accessKey, secretKey)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Rest = upbit.NewClient(cfg.Upbit.RestURL, signer)
		exch = deps.Rest
	} else {
		exch = newPaperExchange()
	}

	// --- Market data ---
	deps.Stream = upbit.NewWSClient(cfg.Upbit.WsURL)
	deps.Store = marketdata.NewStore()

	// --- Policy ---
	deps.Scanner = scanner.New(scanner.Config{
		MinSpreadPct:   cfg.Scanner.MinSpreadPct,
		MinNotionalKRW: cfg.Scanner.MinNotionalKRW,
		MaxNotionalKRW: cfg.Scanner.MaxNotionalKRW,
		MinPriceKRW:    cfg.Scanner.MinPriceKRW,
		TopK:           cfg.Scanner.TopK,
	}, logger)

	deps.Manager = lifecycle.NewManager(lifecycle.Config{
		MaxActiveTrades:      cfg.Lifecycle.MaxActiveTrades,
		WaitTimeout:          cfg.Lifecycle.WaitTimeout.Duration,
		StopLossTolerancePct: cfg.Lifecycle.StopLossTolerancePct,
	}, exch, deps.Store, clock.New(), logger)

	// --- Push hub + HTTP server ---
	deps.Hub = push.NewHub(logger, push.Config{
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	})
	if cfg.Server.Enabled {
		mgr := deps.Manager
		symbols := cfg.Engine.Symbols
		status := func() map[string]any {
			return map[string]any{
				"mode":          mode,
				"symbols":       symbols,
				"active_trades": mgr.ActiveCount(),
			}
		}
		deps.Server = push.NewServer(cfg.Server.Port, deps.Hub, status, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Engine ---
	// The venue surface (market listing, balance refreshes) needs signed
	// calls, so only trade mode gets one.
	var venue engine.Venue
	if deps.Rest != nil {
		venue = deps.Rest
	}
	deps.Engine = engine.New(engine.Config{
		Symbols:         cfg.Engine.Symbols,
		ScanInterval:    cfg.Engine.ScanInterval.Duration,
		DriveInterval:   cfg.Engine.DriveInterval.Duration,
		BalanceInterval: cfg.Engine.BalanceInterval.Duration,
	}, deps.Stream, deps.Store, deps.Scanner, deps.Manager, deps.Hub, deps.Notifier, venue, clock.New(), logger)

	return deps, cleanup, nil
}
