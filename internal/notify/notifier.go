// Package notify pushes operator alerts for trade outcomes and stream
// health to external channels (Telegram, Discord). Alerts are filtered by
// event type so operators receive only what they configured.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/upbitarb/internal/domain"
)

// Event types emitted by the engine.
const (
	EventTradeDone   = "trade_done"
	EventTradeFailed = "trade_failed"
	EventStopLoss    = "stop_loss"
	EventWSReconnect = "ws_reconnect"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches alerts to one or more Senders, filtered by event
// type. An empty event list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events whose type appears in events are forwarded; an empty list allows
// all of them.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert to all senders if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TradeClosed formats and sends the terminal-state alert for a trade.
// DONE maps to trade_done, every other terminal state to trade_failed.
func (n *Notifier) TradeClosed(ctx context.Context, t domain.Trade) error {
	event := EventTradeFailed
	title := fmt.Sprintf("Trade %s: %s", t.Status, t.Symbol)
	if t.Status == domain.TradeDone {
		event = EventTradeDone
	}

	message := fmt.Sprintf("%s %s\nbuy %s @ %v, sell %s @ %v\nsize %v, residual %v",
		t.Symbol, t.Direction,
		t.BuyMarket, t.BuyPrice, t.SellMarket, t.SellPrice,
		t.Size, t.ExecutedVolume)
	return n.Notify(ctx, event, title, message)
}

// StopLoss sends the sell-leg degradation alert.
func (n *Notifier) StopLoss(ctx context.Context, symbol string, plannedPrice, degradedPrice float64) error {
	title := fmt.Sprintf("Stop loss: %s", symbol)
	message := fmt.Sprintf("sell leg degraded, re-pricing %v -> %v", plannedPrice, degradedPrice)
	return n.Notify(ctx, EventStopLoss, title, message)
}

// StreamReconnected sends the stream-health alert after a reconnect.
func (n *Notifier) StreamReconnected(ctx context.Context) error {
	return n.Notify(ctx, EventWSReconnect, "Stream reconnected",
		"market data stream dropped and was re-established; subscriptions replayed")
}

// dispatch fans the alert out to every sender. A failing sender never
// blocks delivery to the others; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
