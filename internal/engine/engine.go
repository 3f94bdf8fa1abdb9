// Package engine runs the single-threaded event loop at the heart of the
// bot. Market pushes, scan ticks, drive ticks, and finished exchange calls
// all funnel into one goroutine, so the snapshot store and the active-trade
// set are mutated without any locking.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/alanyoungcy/upbitarb/internal/domain"
	"github.com/alanyoungcy/upbitarb/internal/lifecycle"
	"github.com/alanyoungcy/upbitarb/internal/marketdata"
	"github.com/alanyoungcy/upbitarb/internal/metrics"
	"github.com/alanyoungcy/upbitarb/internal/notify"
	"github.com/alanyoungcy/upbitarb/internal/platform/upbit"
	"github.com/alanyoungcy/upbitarb/internal/push"
	"github.com/alanyoungcy/upbitarb/internal/scanner"
)

// referenceMarket is the fiat-quoted market whose ticker feeds the
// reference rate.
const referenceMarket = "KRW-BTC"

// inboxSize bounds the backlog of stream events. The store is
// last-write-wins, so dropping under pressure only costs freshness.
const inboxSize = 1024

// Stream is the market-data surface the engine consumes.
type Stream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, feed string, codes []string) error
	OnTicker(upbit.TickerHandler)
	OnTrade(upbit.TradeHandler)
	OnOrderbook(upbit.OrderbookHandler)
	OnReconnect(upbit.ReconnectHandler)
	Close() error
}

// Broadcaster publishes engine events to dashboard clients.
type Broadcaster interface {
	Publish(channel string, payload any)
}

// Venue is the REST surface the engine consults outside of order flow:
// the market listing for universe checks and the account balances pushed
// to dashboard clients.
type Venue interface {
	Markets(ctx context.Context) ([]domain.Market, error)
	Accounts(ctx context.Context) ([]domain.Balance, error)
}

var _ Stream = (*upbit.WSClient)(nil)
var _ Broadcaster = (*push.Hub)(nil)
var _ Venue = (*upbit.Client)(nil)

// Config carries the engine's scheduling policy and universe.
type Config struct {
	// Symbols is the set of assets traded across both legs.
	Symbols []string

	// ScanInterval is the cadence of opportunity scans.
	ScanInterval time.Duration

	// DriveInterval is the cadence of trade advancement.
	DriveInterval time.Duration

	// BalanceInterval is the cadence of account balance refreshes. Zero
	// disables them.
	BalanceInterval time.Duration
}

type eventKind int

const (
	evTicker eventKind = iota
	evTrade
	evBook
	evReconnect
	evBalance
)

type event struct {
	kind     eventKind
	ticker   upbit.TickerMessage
	trade    upbit.TradeMessage
	book     upbit.OrderbookMessage
	balances []domain.Balance
}

// Engine owns the event loop and all loop-confined state.
type Engine struct {
	cfg      Config
	stream   Stream
	store    *marketdata.Store
	scanner  *scanner.Scanner
	manager  *lifecycle.Manager
	hub      Broadcaster
	notifier *notify.Notifier
	venue    Venue
	clock    clock.Clock
	logger   *slog.Logger

	inbox chan event

	// balanceInflight guards against stacking balance fetches when the
	// venue responds slower than the refresh cadence.
	balanceInflight bool
}

// New creates an Engine. hub, notifier, and venue may be nil.
func New(cfg Config, stream Stream, store *marketdata.Store, sc *scanner.Scanner,
	mgr *lifecycle.Manager, hub Broadcaster, notifier *notify.Notifier,
	venue Venue, clk clock.Clock, logger *slog.Logger) *Engine {

	e := &Engine{
		cfg:      cfg,
		stream:   stream,
		store:    store,
		scanner:  sc,
		manager:  mgr,
		hub:      hub,
		notifier: notifier,
		venue:    venue,
		clock:    clk,
		logger:   logger.With(slog.String("component", "engine")),
		inbox:    make(chan event, inboxSize),
	}

	mgr.OnTerminal(e.tradeClosed)
	mgr.OnStopLoss(e.stopLoss)
	return e
}

// Run connects the stream, subscribes the trading universe, and blocks on
// the event loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.stream.OnTicker(func(m upbit.TickerMessage) { e.post(event{kind: evTicker, ticker: m}) })
	e.stream.OnTrade(func(m upbit.TradeMessage) { e.post(event{kind: evTrade, trade: m}) })
	e.stream.OnOrderbook(func(m upbit.OrderbookMessage) { e.post(event{kind: evBook, book: m}) })
	e.stream.OnReconnect(func() { e.post(event{kind: evReconnect}) })

	if err := e.stream.Connect(ctx); err != nil {
		return err
	}
	defer e.stream.Close()

	if err := e.subscribeUniverse(ctx); err != nil {
		return err
	}
	if e.venue != nil {
		e.checkUniverse(ctx)
	}

	e.logger.Info("engine started",
		slog.Int("symbols", len(e.cfg.Symbols)),
		slog.Duration("scan_interval", e.cfg.ScanInterval),
		slog.Duration("drive_interval", e.cfg.DriveInterval))

	scanTick := e.clock.Ticker(e.cfg.ScanInterval)
	defer scanTick.Stop()
	driveTick := e.clock.Ticker(e.cfg.DriveInterval)
	defer driveTick.Stop()

	// A nil channel blocks forever, so balance refreshes only tick when
	// a venue is wired and an interval is configured.
	var balanceC <-chan time.Time
	if e.venue != nil && e.cfg.BalanceInterval > 0 {
		balanceTick := e.clock.Ticker(e.cfg.BalanceInterval)
		defer balanceTick.Stop()
		balanceC = balanceTick.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-e.inbox:
			e.handleEvent(ctx, ev)

		case <-scanTick.C:
			e.scan(ctx)

		case <-driveTick.C:
			start := time.Now()
			e.manager.DriveAll(ctx)
			metrics.DriveDuration.Observe(time.Since(start).Seconds())
			metrics.ActiveTrades.Set(float64(e.manager.ActiveCount()))

		case <-balanceC:
			e.fetchBalances(ctx)

		case res := <-e.manager.Results():
			e.manager.Apply(ctx, res)
		}
	}
}

// post enqueues a stream event, dropping it when the loop is saturated.
func (e *Engine) post(ev event) {
	select {
	case e.inbox <- ev:
	default:
	}
}

// subscribeUniverse requests the reference ticker plus trade and orderbook
// feeds for every traded market on both legs.
func (e *Engine) subscribeUniverse(ctx context.Context) error {
	codes := make([]string, 0, 2*len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		codes = append(codes,
			domain.MarketCode(domain.LegKRW, sym),
			domain.MarketCode(domain.LegBTC, sym))
	}

	if err := e.stream.Subscribe(ctx, upbit.FeedTicker, []string{referenceMarket}); err != nil {
		return err
	}
	if err := e.stream.Subscribe(ctx, upbit.FeedTrade, codes); err != nil {
		return err
	}
	return e.stream.Subscribe(ctx, upbit.FeedOrderbook, codes)
}

// handleEvent folds one stream event into the snapshot store.
func (e *Engine) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case evTicker:
		metrics.StreamMessages.WithLabelValues(upbit.FeedTicker).Inc()
		if ev.ticker.Code == referenceMarket && ev.ticker.TradePrice > 0 {
			e.store.SetReferenceRate(ev.ticker.TradePrice, e.eventTime(ev.ticker.Timestamp))
			metrics.ReferenceRate.Set(ev.ticker.TradePrice)
			if e.hub != nil {
				e.hub.Publish(push.ChannelReferenceRate, map[string]any{
					"rate": ev.ticker.TradePrice,
				})
			}
		}

	case evTrade:
		metrics.StreamMessages.WithLabelValues(upbit.FeedTrade).Inc()
		e.store.ApplyTrade(ev.trade.Code, ev.trade.TradePrice,
			domain.TradeSide(ev.trade.AskBid), e.eventTime(ev.trade.Timestamp))

	case evBook:
		metrics.StreamMessages.WithLabelValues(upbit.FeedOrderbook).Inc()
		if len(ev.book.Units) == 0 {
			return
		}
		best := ev.book.Units[0]
		e.store.ApplyBook(ev.book.Code,
			best.BidPrice, best.BidSize, best.AskPrice, best.AskSize,
			e.eventTime(ev.book.Timestamp))

	case evReconnect:
		metrics.StreamReconnects.Inc()
		e.logger.Warn("stream reconnected")
		if e.notifier != nil {
			go e.notifier.StreamReconnected(context.WithoutCancel(ctx))
		}

	case evBalance:
		e.balanceInflight = false
		if len(ev.balances) > 0 && e.hub != nil {
			e.hub.Publish(push.ChannelBalance, ev.balances)
		}
	}
}

// checkUniverse warns about configured symbols the venue does not list on
// both legs. They stay subscribed; they simply never pair in the scanner.
func (e *Engine) checkUniverse(ctx context.Context) {
	markets, err := e.venue.Markets(ctx)
	if err != nil {
		e.logger.Warn("market listing unavailable", slog.String("error", err.Error()))
		return
	}

	listed := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		listed[m.Code] = struct{}{}
	}
	for _, sym := range e.cfg.Symbols {
		for _, leg := range []domain.Leg{domain.LegKRW, domain.LegBTC} {
			code := domain.MarketCode(leg, sym)
			if _, ok := listed[code]; !ok {
				e.logger.Warn("configured market not listed on venue",
					slog.String("market", code))
			}
		}
	}
}

// fetchBalances kicks off one async balance refresh, posting the result
// back onto the loop. At most one refresh is in flight at a time.
func (e *Engine) fetchBalances(ctx context.Context) {
	if e.balanceInflight {
		return
	}
	e.balanceInflight = true

	go func() {
		balances, err := e.venue.Accounts(ctx)
		if err != nil {
			e.logger.Warn("balance refresh failed", slog.String("error", err.Error()))
		}

		// Must reach the loop even under backpressure or the inflight
		// flag would stick.
		select {
		case e.inbox <- event{kind: evBalance, balances: balances}:
		case <-ctx.Done():
		}
	}()
}

// scan runs one opportunity scan and feeds the results to the manager.
func (e *Engine) scan(ctx context.Context) {
	opps := e.scanner.Scan(e.store, e.clock.Now())
	for _, opp := range opps {
		metrics.RecordOpportunity(opp.Symbol, string(opp.Direction), opp.SpreadPct)
		if e.hub != nil {
			e.hub.Publish(push.ChannelOpportunity, opp)
		}
		e.manager.AddTrade(ctx, opp)
	}
}

// tradeClosed observes terminal trades out of the manager.
func (e *Engine) tradeClosed(t domain.Trade) {
	metrics.RecordTradeClosed(t.Symbol, string(t.Status))
	metrics.ActiveTrades.Set(float64(e.manager.ActiveCount()))
	if e.hub != nil {
		e.hub.Publish(push.ChannelTrade, t)
	}
	if e.notifier != nil {
		go e.notifier.TradeClosed(context.Background(), t)
	}
}

// stopLoss observes sell-leg re-pricings out of the manager.
func (e *Engine) stopLoss(symbol string, planned, degraded float64) {
	metrics.StopLossTriggered.WithLabelValues(symbol).Inc()
	if e.notifier != nil {
		go e.notifier.StopLoss(context.Background(), symbol, planned, degraded)
	}
}

// eventTime converts a venue millisecond timestamp, falling back to the
// engine clock for pushes that omit it.
func (e *Engine) eventTime(ms int64) time.Time {
	if ms <= 0 {
		return e.clock.Now()
	}
	return time.UnixMilli(ms)
}
