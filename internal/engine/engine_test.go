package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/alanyoungcy/upbitarb/internal/domain"
	"github.com/alanyoungcy/upbitarb/internal/lifecycle"
	"github.com/alanyoungcy/upbitarb/internal/marketdata"
	"github.com/alanyoungcy/upbitarb/internal/platform/upbit"
	"github.com/alanyoungcy/upbitarb/internal/scanner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream captures subscriptions and exposes the registered handlers so
// tests can inject pushes.
type fakeStream struct {
	mu          sync.Mutex
	subs        map[string][]string
	onTicker    upbit.TickerHandler
	onTrade     upbit.TradeHandler
	onOrderbook upbit.OrderbookHandler
	onReconnect upbit.ReconnectHandler
}

func newFakeStream() *fakeStream {
	return &fakeStream{subs: make(map[string][]string)}
}

func (f *fakeStream) Connect(context.Context) error { return nil }
func (f *fakeStream) Close() error                  { return nil }

func (f *fakeStream) Subscribe(_ context.Context, feed string, codes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[feed] = append(f.subs[feed], codes...)
	return nil
}

func (f *fakeStream) OnTicker(h upbit.TickerHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTicker = h
}

func (f *fakeStream) OnTrade(h upbit.TradeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrade = h
}

func (f *fakeStream) OnOrderbook(h upbit.OrderbookHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onOrderbook = h
}

func (f *fakeStream) OnReconnect(h upbit.ReconnectHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReconnect = h
}

func (f *fakeStream) handlers() (upbit.TickerHandler, upbit.TradeHandler, upbit.OrderbookHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onTicker, f.onTrade, f.onOrderbook
}

func (f *fakeStream) subscribed(feed string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs[feed]...)
}

// fakeBroadcaster records published events.
type fakeBroadcaster struct {
	events chan string
}

func (f *fakeBroadcaster) Publish(channel string, _ any) {
	select {
	case f.events <- channel:
	default:
	}
}

// fillExchange fills every order immediately.
type fillExchange struct{}

func (fillExchange) PlaceOrder(_ context.Context, _ string, _ domain.TradeSide, volume, _ float64) (upbit.OrderResponse, error) {
	return upbit.OrderResponse{UUID: "o", State: "done", ExecutedVolume: "100", RemainingVol: "0"}, nil
}

func (fillExchange) Order(context.Context, string) (upbit.OrderResponse, error) {
	return upbit.OrderResponse{}, nil
}

func (fillExchange) CancelOrder(context.Context, string) (upbit.OrderResponse, error) {
	return upbit.OrderResponse{State: "cancel"}, nil
}

// fakeVenue serves a fixed market listing and balance snapshot.
type fakeVenue struct {
	mu           sync.Mutex
	accountCalls int
}

func (f *fakeVenue) Markets(context.Context) ([]domain.Market, error) {
	return []domain.Market{
		{Code: "KRW-BTC"}, {Code: "KRW-DOGE"}, {Code: "BTC-DOGE"},
	}, nil
}

func (f *fakeVenue) Accounts(context.Context) ([]domain.Balance, error) {
	f.mu.Lock()
	f.accountCalls++
	f.mu.Unlock()
	return []domain.Balance{{Currency: "KRW", Balance: 1000000}}, nil
}

func (f *fakeVenue) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountCalls
}

func startEngine(t *testing.T) (*fakeStream, *fakeBroadcaster, *clock.Mock, *marketdata.Store, context.CancelFunc) {
	t.Helper()
	return startEngineWith(t, nil, 0)
}

func startEngineWith(t *testing.T, venue Venue, balanceInterval time.Duration) (*fakeStream, *fakeBroadcaster, *clock.Mock, *marketdata.Store, context.CancelFunc) {
	t.Helper()

	stream := newFakeStream()
	store := marketdata.NewStore()
	mock := clock.NewMock()
	bc := &fakeBroadcaster{events: make(chan string, 64)}

	sc := scanner.New(scanner.Config{
		MinSpreadPct:   0.5,
		MaxNotionalKRW: 1e9,
		TopK:           3,
	}, testLogger())

	mgr := lifecycle.NewManager(lifecycle.Config{
		MaxActiveTrades:      2,
		WaitTimeout:          3 * time.Second,
		StopLossTolerancePct: 1.0,
	}, fillExchange{}, store, mock, testLogger())

	e := New(Config{
		Symbols:         []string{"DOGE"},
		ScanInterval:    time.Second,
		DriveInterval:   time.Second,
		BalanceInterval: balanceInterval,
	}, stream, store, sc, mgr, bc, nil, venue, mock, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)

	// Let Run register handlers and create its tickers before the test
	// starts injecting events or advancing the mock clock.
	deadline := time.Now().Add(2 * time.Second)
	for {
		onTicker, _, onBook := stream.handlers()
		if onTicker != nil && onBook != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("engine never registered stream handlers")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	return stream, bc, mock, store, cancel
}

func waitEvent(t *testing.T, bc *fakeBroadcaster, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ch := <-bc.events:
			if ch == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", want)
		}
	}
}

func TestSubscribesUniverse(t *testing.T) {
	stream, _, _, _, cancel := startEngine(t)
	defer cancel()

	tickers := stream.subscribed(upbit.FeedTicker)
	if len(tickers) != 1 || tickers[0] != "KRW-BTC" {
		t.Errorf("ticker subscriptions = %v, want [KRW-BTC]", tickers)
	}

	books := stream.subscribed(upbit.FeedOrderbook)
	if len(books) != 2 || books[0] != "KRW-DOGE" || books[1] != "BTC-DOGE" {
		t.Errorf("orderbook subscriptions = %v, want both DOGE legs", books)
	}
	if trades := stream.subscribed(upbit.FeedTrade); len(trades) != 2 {
		t.Errorf("trade subscriptions = %v, want both DOGE legs", trades)
	}
}

func TestReferenceTickerPublishesRate(t *testing.T) {
	stream, bc, _, store, cancel := startEngine(t)
	defer cancel()

	onTicker, _, _ := stream.handlers()
	onTicker(upbit.TickerMessage{
		Type: "ticker", Code: "KRW-BTC", TradePrice: 43000000, Timestamp: 1700000000000,
	})

	waitEvent(t, bc, "reference_rate")

	rate, ok := store.ReferenceRate()
	if !ok || rate != 43000000 {
		t.Errorf("reference rate = (%v, %v), want (43000000, true)", rate, ok)
	}
}

func TestScanTickOpensAndCompletesTrade(t *testing.T) {
	stream, bc, mock, _, cancel := startEngine(t)
	defer cancel()

	// Reference rate and two-sided depth producing a 1% spread buying on
	// the reference leg.
	onTicker, _, onBook := stream.handlers()
	onTicker(upbit.TickerMessage{Type: "ticker", Code: "KRW-BTC", TradePrice: 1000})
	onBook(upbit.OrderbookMessage{
		Type: "orderbook", Code: "KRW-DOGE",
		Units: []upbit.OrderbookUnit{{BidPrice: 1010, BidSize: 2, AskPrice: 1011, AskSize: 2}},
	})
	onBook(upbit.OrderbookMessage{
		Type: "orderbook", Code: "BTC-DOGE",
		Units: []upbit.OrderbookUnit{{BidPrice: 0.9, BidSize: 2, AskPrice: 1, AskSize: 2}},
	})
	waitEvent(t, bc, "reference_rate")
	time.Sleep(50 * time.Millisecond)

	mock.Add(time.Second) // scan tick

	waitEvent(t, bc, "opportunity")
	// Buy fills immediately, sell fills immediately: terminal trade event.
	waitEvent(t, bc, "trade")
}

func TestBalanceTickPublishesSnapshot(t *testing.T) {
	venue := &fakeVenue{}
	_, bc, mock, _, cancel := startEngineWith(t, venue, 10*time.Second)
	defer cancel()

	mock.Add(10 * time.Second)
	waitEvent(t, bc, "balance")

	if venue.calls() < 1 {
		t.Errorf("account calls = %d, want at least 1", venue.calls())
	}

	mock.Add(10 * time.Second)
	waitEvent(t, bc, "balance")
}

func TestNilVenueDisablesBalanceTicks(t *testing.T) {
	_, bc, mock, _, cancel := startEngineWith(t, nil, 10*time.Second)
	defer cancel()

	mock.Add(30 * time.Second)
	select {
	case ch := <-bc.events:
		if ch == "balance" {
			t.Error("balance event published without a venue")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
