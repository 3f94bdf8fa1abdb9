// Package lifecycle owns the active-trade set and drives each trade
// through its state machine. All methods must be called from the engine's
// event loop; exchange calls run in their own goroutines and post results
// back through the Results channel, with the trade's in-flight flag acting
// as the per-symbol lock until the result is applied.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/alanyoungcy/upbitarb/internal/domain"
	"github.com/alanyoungcy/upbitarb/internal/platform/upbit"
)

// volumeEpsilon is the residual below which a sell is considered complete.
const volumeEpsilon = 1e-8

// ExchangeClient is the venue surface the manager needs to drive orders.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, market string, side domain.TradeSide, volume, price float64) (upbit.OrderResponse, error)
	Order(ctx context.Context, orderID string) (upbit.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (upbit.OrderResponse, error)
}

// QuoteSource supplies current snapshots for the stop-loss check.
type QuoteSource interface {
	Quote(leg domain.Leg, symbol string) (domain.Quote, bool)
}

// Config carries the manager's trading policy.
type Config struct {
	// MaxActiveTrades caps the number of concurrently active trades.
	MaxActiveTrades int

	// WaitTimeout bounds how long a pending buy may sit unfilled before
	// it is cancelled.
	WaitTimeout time.Duration

	// StopLossTolerancePct is how far the sell leg's best ask may degrade
	// below the planned sell price before the sell is re-issued at the
	// degraded price.
	StopLossTolerancePct float64
}

type opKind int

const (
	opBuy opKind = iota
	opPoll
	opSell
	opCancel
)

// Result is the outcome of one asynchronous exchange call, opaque to
// callers; the engine loop only moves it from Results into Apply.
type Result struct {
	symbol string
	kind   opKind
	resp   upbit.OrderResponse
	err    error
}

// TerminalFunc observes every trade that reaches a terminal state.
type TerminalFunc func(domain.Trade)

// StopLossFunc observes every stop-loss re-pricing of a sell leg.
type StopLossFunc func(symbol string, plannedPrice, degradedPrice float64)

// Manager is the per-symbol trade state machine driver.
type Manager struct {
	cfg    Config
	client ExchangeClient
	quotes QuoteSource
	clock  clock.Clock
	logger *slog.Logger

	trades   map[string]*domain.Trade
	inflight map[string]bool
	results  chan Result

	onTerminal TerminalFunc
	onStopLoss StopLossFunc
}

// NewManager creates a Manager. quotes may not be nil; the stop-loss
// branch reads it on every unfilled sell.
func NewManager(cfg Config, client ExchangeClient, quotes QuoteSource, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		client:   client,
		quotes:   quotes,
		clock:    clk,
		logger:   logger.With(slog.String("component", "lifecycle")),
		trades:   make(map[string]*domain.Trade),
		inflight: make(map[string]bool),
		results:  make(chan Result, 64),
	}
}

// OnTerminal registers the observer called when a trade leaves the active
// set. Must be set before the engine starts driving.
func (m *Manager) OnTerminal(fn TerminalFunc) {
	m.onTerminal = fn
}

// OnStopLoss registers the observer called when a sell leg is re-priced
// below plan. Must be set before the engine starts driving.
func (m *Manager) OnStopLoss(fn StopLossFunc) {
	m.onStopLoss = fn
}

// Results is the channel of finished exchange calls. The engine loop must
// drain it into Apply.
func (m *Manager) Results() <-chan Result {
	return m.results
}

// ActiveCount reports the number of non-terminal trades.
func (m *Manager) ActiveCount() int {
	return len(m.trades)
}

// Active returns a copy of the trade for a symbol, if one is active.
func (m *Manager) Active(symbol string) (domain.Trade, bool) {
	t, ok := m.trades[symbol]
	if !ok {
		return domain.Trade{}, false
	}
	return *t, true
}

// AddTrade inserts a new trade for the opportunity and drives it
// immediately. Returns false without error when the concurrency cap is
// reached or a trade for the symbol is already active; both are expected
// during a trade's multi-tick lifetime.
func (m *Manager) AddTrade(ctx context.Context, opp domain.Opportunity) bool {
	if _, exists := m.trades[opp.Symbol]; exists {
		return false
	}
	if m.cfg.MaxActiveTrades > 0 && len(m.trades) >= m.cfg.MaxActiveTrades {
		return false
	}

	now := m.clock.Now()
	t := &domain.Trade{
		ID:             uuid.NewString(),
		Symbol:         opp.Symbol,
		Direction:      opp.Direction,
		BuyMarket:      opp.EntryMarket,
		BuyPrice:       opp.EntryPrice,
		SellMarket:     opp.ExitMarket,
		SellPrice:      opp.ExitPrice,
		Size:           opp.Size,
		Status:         domain.TradeReady,
		CreatedAt:      now,
		TransitionedAt: now,
	}
	m.trades[opp.Symbol] = t

	m.logger.Info("trade opened",
		slog.String("trade_id", t.ID),
		slog.String("symbol", t.Symbol),
		slog.String("direction", string(t.Direction)),
		slog.Float64("size", t.Size),
		slog.Float64("spread_pct", opp.SpreadPct))

	m.drive(ctx, t)
	return true
}

// DriveAll advances every active trade that has no exchange call in
// flight. Invoked on the periodic drive tick.
func (m *Manager) DriveAll(ctx context.Context) {
	for _, t := range m.trades {
		if m.inflight[t.Symbol] {
			continue
		}
		m.drive(ctx, t)
	}
}

// Apply folds one finished exchange call back into the state machine. A
// panic while applying is caught and forces the trade to FAILED; a stuck
// trade must never survive.
func (m *Manager) Apply(ctx context.Context, res Result) {
	delete(m.inflight, res.symbol)

	t, ok := m.trades[res.symbol]
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("drive panic",
				slog.String("symbol", res.symbol),
				slog.Any("panic", r))
			m.finish(t, domain.TradeFailed)
		}
	}()

	switch res.kind {
	case opBuy:
		m.applyBuy(ctx, t, res)
	case opPoll:
		m.applyPoll(ctx, t, res)
	case opSell:
		m.applySell(ctx, t, res)
	case opCancel:
		m.applyCancel(t, res)
	}
}

// --------------------------------------------------------------------------
// Drive steps
// --------------------------------------------------------------------------

// drive dispatches the next exchange call for the trade's current state.
func (m *Manager) drive(ctx context.Context, t *domain.Trade) {
	switch t.Status {
	case domain.TradeReady:
		m.dispatch(ctx, t, opBuy, func(ctx context.Context) (upbit.OrderResponse, error) {
			return m.client.PlaceOrder(ctx, t.BuyMarket, domain.TradeSideBid, t.Size, t.BuyPrice)
		})

	case domain.TradeWaiting:
		if m.clock.Now().Sub(t.TransitionedAt) > m.cfg.WaitTimeout {
			// The timeout bounds capital lock-up; the trade is closed
			// whether or not the venue-side cancel succeeds.
			orderID := t.OrderID
			m.dispatch(ctx, t, opCancel, func(ctx context.Context) (upbit.OrderResponse, error) {
				return m.client.CancelOrder(ctx, orderID)
			})
			return
		}
		orderID := t.OrderID
		m.dispatch(ctx, t, opPoll, func(ctx context.Context) (upbit.OrderResponse, error) {
			return m.client.Order(ctx, orderID)
		})

	case domain.TradeBought:
		price := t.SellPrice
		volume := t.ExecutedVolume
		m.dispatch(ctx, t, opSell, func(ctx context.Context) (upbit.OrderResponse, error) {
			return m.client.PlaceOrder(ctx, t.SellMarket, domain.TradeSideAsk, volume, price)
		})
	}
}

// dispatch runs one exchange call off-loop and posts its result back.
func (m *Manager) dispatch(ctx context.Context, t *domain.Trade, kind opKind, call func(context.Context) (upbit.OrderResponse, error)) {
	m.inflight[t.Symbol] = true
	symbol := t.Symbol
	go func() {
		resp, err := call(ctx)
		m.results <- Result{symbol: symbol, kind: kind, resp: resp, err: err}
	}()
}

// applyBuy handles the outcome of the entry order.
func (m *Manager) applyBuy(ctx context.Context, t *domain.Trade, res Result) {
	if res.err != nil {
		m.logger.Warn("buy failed",
			slog.String("symbol", t.Symbol),
			slog.String("error", res.err.Error()))
		if res.resp.UUID != "" {
			m.cancelBestEffort(res.resp.UUID)
		}
		m.finish(t, domain.TradeFailed)
		return
	}

	t.OrderID = res.resp.UUID

	if res.resp.Done() && res.resp.Remaining() <= volumeEpsilon {
		t.ExecutedVolume = res.resp.Executed()
		m.transition(t, domain.TradeBought)
		m.drive(ctx, t)
		return
	}

	m.transition(t, domain.TradeWaiting)
}

// applyPoll handles a status poll of a pending entry order.
func (m *Manager) applyPoll(ctx context.Context, t *domain.Trade, res Result) {
	if res.err != nil {
		// Transport trouble on a poll is retried next tick; the wait
		// timeout still bounds the trade.
		m.logger.Warn("order poll failed",
			slog.String("symbol", t.Symbol),
			slog.String("error", res.err.Error()))
		return
	}

	if res.resp.Done() && res.resp.Remaining() <= volumeEpsilon && res.resp.State != "cancel" {
		t.ExecutedVolume = res.resp.Executed()
		m.transition(t, domain.TradeBought)
		m.drive(ctx, t)
		return
	}

	if res.resp.State == "cancel" {
		m.finish(t, domain.TradeCancelled)
	}
}

// applyCancel handles the outcome of a timeout cancel.
func (m *Manager) applyCancel(t *domain.Trade, res Result) {
	if res.err != nil {
		m.logger.Warn("cancel failed",
			slog.String("symbol", t.Symbol),
			slog.String("error", res.err.Error()))
	}
	m.finish(t, domain.TradeCancelled)
}

// applySell handles the outcome of the exit order, including the
// stop-loss branch for a degraded sell leg.
func (m *Manager) applySell(ctx context.Context, t *domain.Trade, res Result) {
	if res.err != nil {
		if errors.Is(res.err, domain.ErrOrderRejected) {
			m.logger.Warn("sell rejected",
				slog.String("symbol", t.Symbol),
				slog.String("error", res.err.Error()))
			m.finish(t, domain.TradeFailed)
			return
		}
		m.logger.Warn("sell failed, retrying",
			slog.String("symbol", t.Symbol),
			slog.String("error", res.err.Error()))
		return
	}

	sold := res.resp.Executed()
	if sold > 0 {
		t.ExecutedVolume -= sold
		if t.ExecutedVolume < 0 {
			t.ExecutedVolume = 0
		}
	}

	if res.resp.Done() && res.resp.Remaining() <= volumeEpsilon && t.ExecutedVolume <= volumeEpsilon {
		m.finish(t, domain.TradeDone)
		return
	}

	// Unfilled or partial: the order did not clear the book at the
	// planned price. Leave anything still resting to the venue and
	// decide between holding and a stop-loss re-issue.
	if res.resp.UUID != "" && res.resp.Remaining() > volumeEpsilon {
		m.cancelBestEffort(res.resp.UUID)
	}

	if t.ExecutedVolume <= volumeEpsilon {
		m.finish(t, domain.TradeDone)
		return
	}

	degraded, price := m.sellDegraded(t)
	if !degraded {
		// Within tolerance: hold and retry at the planned price next
		// tick instead of chasing the book down.
		return
	}

	m.logger.Warn("sell leg degraded, re-pricing",
		slog.String("symbol", t.Symbol),
		slog.Float64("planned_price", t.SellPrice),
		slog.Float64("degraded_price", price),
		slog.Float64("remaining", t.ExecutedVolume))
	if m.onStopLoss != nil {
		m.onStopLoss(t.Symbol, t.SellPrice, price)
	}
	t.SellPrice = price
	m.drive(ctx, t)
}

// sellDegraded reports whether the sell leg's current best ask has moved
// beyond the stop-loss tolerance below the planned sell price, and if so
// at what price the sell should be re-issued.
func (m *Manager) sellDegraded(t *domain.Trade) (bool, float64) {
	leg, symbol, err := domain.ParseMarketCode(t.SellMarket)
	if err != nil {
		return false, 0
	}
	q, ok := m.quotes.Quote(leg, symbol)
	if !ok || q.BestAskPrice <= 0 {
		return false, 0
	}

	dropPct := (t.SellPrice - q.BestAskPrice) / t.SellPrice * 100
	if dropPct <= m.cfg.StopLossTolerancePct {
		return false, 0
	}
	return true, q.BestAskPrice
}

// cancelBestEffort fires a cancel without tracking its outcome.
func (m *Manager) cancelBestEffort(orderID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := m.client.CancelOrder(ctx, orderID); err != nil {
			m.logger.Warn("best-effort cancel failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()))
		}
	}()
}

// transition moves a trade to a non-terminal state.
func (m *Manager) transition(t *domain.Trade, to domain.TradeStatus) {
	if !domain.CanTransition(t.Status, to) {
		panic(fmt.Sprintf("illegal transition %s -> %s for %s", t.Status, to, t.Symbol))
	}
	m.logger.Info("trade transition",
		slog.String("trade_id", t.ID),
		slog.String("symbol", t.Symbol),
		slog.String("from", string(t.Status)),
		slog.String("to", string(to)))
	t.Status = to
	t.TransitionedAt = m.clock.Now()
}

// finish moves a trade to a terminal state and releases its slot.
func (m *Manager) finish(t *domain.Trade, to domain.TradeStatus) {
	if !domain.CanTransition(t.Status, to) {
		to = domain.TradeFailed
	}
	t.Status = to
	t.TransitionedAt = m.clock.Now()

	m.logger.Info("trade closed",
		slog.String("trade_id", t.ID),
		slog.String("symbol", t.Symbol),
		slog.String("status", string(t.Status)),
		slog.Float64("residual", t.ExecutedVolume))

	delete(m.trades, t.Symbol)
	delete(m.inflight, t.Symbol)

	if m.onTerminal != nil {
		m.onTerminal(*t)
	}
}
