package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/upbitarb/internal/config"
	"github.com/alanyoungcy/upbitarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Engine.Symbols = []string{"DOGE"}
	cfg.Server.Enabled = false
	return &cfg
}

func TestWireMonitorModeNeedsNoKeys(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), testConfig(), testLogger(), "monitor")
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Rest != nil {
		t.Error("monitor mode should not build a REST client")
	}
	if deps.Engine == nil || deps.Manager == nil || deps.Hub == nil {
		t.Error("core dependencies missing")
	}
	if deps.Server != nil {
		t.Error("server built despite being disabled")
	}
}

func TestWireTradeModeRequiresKeys(t *testing.T) {
	_, _, err := Wire(context.Background(), testConfig(), testLogger(), "trade")
	if err == nil {
		t.Fatal("Wire: expected error without API keys")
	}
}

func TestPaperExchangeLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newPaperExchange()

	placed, err := p.PlaceOrder(ctx, "KRW-DOGE", domain.TradeSideBid, 100, 310)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if placed.Side != "bid" || placed.State != "done" {
		t.Errorf("placed = %+v", placed)
	}
	if got := placed.Executed(); got != 100 {
		t.Errorf("Executed() = %v, want 100", got)
	}
	if !placed.Done() {
		t.Error("paper orders should fill immediately")
	}

	polled, err := p.Order(ctx, placed.UUID)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if polled.UUID != placed.UUID {
		t.Errorf("polled UUID = %q, want %q", polled.UUID, placed.UUID)
	}

	cancelled, err := p.CancelOrder(ctx, placed.UUID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.State != "cancel" {
		t.Errorf("cancelled state = %q", cancelled.State)
	}

	if _, err := p.Order(ctx, "missing"); !errors.Is(err, domain.ErrOrderRejected) {
		t.Errorf("unknown order error = %v, want ErrOrderRejected", err)
	}
}
