package upbit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/alanyoungcy/upbitarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the fixed delay between reconnection attempts.
	reconnectDelay = 3 * time.Second
)

// Feed names accepted by the venue's websocket subscription frame.
const (
	FeedTicker    = "ticker"
	FeedTrade     = "trade"
	FeedOrderbook = "orderbook"
)

var wsjson = jsoniter.ConfigCompatibleWithStandardLibrary

// TickerHandler is called for every ticker push.
type TickerHandler func(TickerMessage)

// TradeHandler is called for every executed-trade push.
type TradeHandler func(TradeMessage)

// OrderbookHandler is called for every orderbook push.
type OrderbookHandler func(OrderbookMessage)

// ReconnectHandler is called after the stream re-establishes a dropped
// connection and replays its subscriptions.
type ReconnectHandler func()

// WSClient multiplexes the venue's ticker, trade, and orderbook feeds over
// a single websocket connection. The venue replaces a connection's
// subscription set with each frame it receives, so the client tracks the
// cumulative set per feed and resends all of it on every change and on
// every reconnect.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	// connDone is closed when conn is replaced or the client shuts down,
	// so the loops serving a superseded connection exit instead of
	// writing to the new one.
	connDone chan struct{}

	mu     sync.RWMutex
	closed bool

	// Cumulative subscription set, feed type to market codes.
	subscriptions map[string]map[string]struct{}

	handlerMu         sync.RWMutex
	tickerHandlers    []TickerHandler
	tradeHandlers     []TradeHandler
	orderbookHandlers []OrderbookHandler
	reconnectHandlers []ReconnectHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new stream client for the given websocket URL,
// e.g. "wss://api.upbit.com/websocket/v1".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:         wsURL,
		subscriptions: make(map[string]map[string]struct{}),
		done:          make(chan struct{}),
	}
}

// Connect establishes the websocket connection and replays any tracked
// subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("upbit/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("upbit/ws: connect: %w", err)
	}

	// Retire the loops of any previous connection before handing out the
	// new one.
	if w.connDone != nil {
		close(w.connDone)
	}
	connDone := make(chan struct{})
	w.conn = conn
	w.connDone = connDone

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn, connDone)

	if err := w.sendSubscriptions(); err != nil {
		return fmt.Errorf("upbit/ws: restore subscriptions: %w", err)
	}

	return nil
}

// Subscribe adds market codes to the given feed and pushes the full
// cumulative subscription set to the venue. Codes already tracked are
// kept, never dropped.
func (w *WSClient) Subscribe(ctx context.Context, feed string, codes []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("upbit/ws: not connected")
	}

	set, ok := w.subscriptions[feed]
	if !ok {
		set = make(map[string]struct{})
		w.subscriptions[feed] = set
	}
	for _, code := range codes {
		set[code] = struct{}{}
	}

	if err := w.sendSubscriptions(); err != nil {
		return fmt.Errorf("upbit/ws: subscribe to %s: %w", feed, err)
	}
	return nil
}

// Close shuts down the websocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnTicker registers a handler for ticker pushes.
func (w *WSClient) OnTicker(handler TickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickerHandlers = append(w.tickerHandlers, handler)
}

// OnTrade registers a handler for executed-trade pushes.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// OnOrderbook registers a handler for orderbook pushes.
func (w *WSClient) OnOrderbook(handler OrderbookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.orderbookHandlers = append(w.orderbookHandlers, handler)
}

// OnReconnect registers a handler called after each successful reconnect.
func (w *WSClient) OnReconnect(handler ReconnectHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.reconnectHandlers = append(w.reconnectHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendSubscriptions writes the full cumulative subscription frame to the
// venue. Caller must hold w.mu.
func (w *WSClient) sendSubscriptions() error {
	if len(w.subscriptions) == 0 {
		return nil
	}

	frame := []any{subscribeTicket{Ticket: uuid.NewString()}}

	feeds := make([]string, 0, len(w.subscriptions))
	for feed := range w.subscriptions {
		feeds = append(feeds, feed)
	}
	sort.Strings(feeds)

	for _, feed := range feeds {
		set := w.subscriptions[feed]
		if len(set) == 0 {
			continue
		}
		codes := make([]string, 0, len(set))
		for code := range set {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		frame = append(frame, subscribeType{Type: feed, Codes: codes})
	}

	data, err := wsjson.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal subscription frame: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from its connection and dispatches
// them to the registered handlers. On disconnect it hands off to reconnect.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep its connection alive. It
// exits when that connection is retired, never pinging a successor.
func (w *WSClient) pingLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-connDone:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw push and routes it by its type discriminator.
// Messages with an unknown type or a malformed body are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := wsjson.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case FeedTicker:
		var msg TickerMessage
		if err := wsjson.Unmarshal(raw, &msg); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.tickerHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(msg)
		}

	case FeedTrade:
		var msg TradeMessage
		if err := wsjson.Unmarshal(raw, &msg); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(msg)
		}

	case FeedOrderbook:
		var msg OrderbookMessage
		if err := wsjson.Unmarshal(raw, &msg); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.orderbookHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(msg)
		}
	}
}

// reconnect re-establishes the websocket connection, retrying on a fixed
// interval until it succeeds or the client is closed. Connect replays the
// cumulative subscription set.
func (w *WSClient) reconnect() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(reconnectDelay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.handlerMu.RLock()
			handlers := w.reconnectHandlers
			w.handlerMu.RUnlock()
			for _, h := range handlers {
				h()
			}
			return
		}
	}
}
