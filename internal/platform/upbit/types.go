package upbit

import (
	"strconv"
)

// subscribeTicket is the first element of an outbound subscription frame.
type subscribeTicket struct {
	Ticket string `json:"ticket"`
}

// subscribeType is one feed request inside an outbound subscription frame.
// The venue replaces the connection's subscription set with whatever the
// frame carries, so every frame must list the full set of codes per type.
type subscribeType struct {
	Type  string   `json:"type"`
	Codes []string `json:"codes"`
}

// TickerMessage is the venue's per-market ticker push.
type TickerMessage struct {
	Type       string  `json:"type"`
	Code       string  `json:"code"`
	TradePrice float64 `json:"trade_price"`
	AskBid     string  `json:"ask_bid"`
	Timestamp  int64   `json:"timestamp"`
}

// TradeMessage is a single executed trade pushed by the venue.
type TradeMessage struct {
	Type        string  `json:"type"`
	Code        string  `json:"code"`
	TradePrice  float64 `json:"trade_price"`
	TradeVolume float64 `json:"trade_volume"`
	AskBid      string  `json:"ask_bid"`
	Timestamp   int64   `json:"trade_timestamp"`
}

// OrderbookUnit is one price level of an orderbook push. The venue sends
// levels best-first, so unit zero carries the top of book.
type OrderbookUnit struct {
	AskPrice float64 `json:"ask_price"`
	BidPrice float64 `json:"bid_price"`
	AskSize  float64 `json:"ask_size"`
	BidSize  float64 `json:"bid_size"`
}

// OrderbookMessage is the venue's aggregated orderbook push.
type OrderbookMessage struct {
	Type      string          `json:"type"`
	Code      string          `json:"code"`
	Units     []OrderbookUnit `json:"orderbook_units"`
	Timestamp int64           `json:"timestamp"`
}

// MarketInfo is one entry of the market listing endpoint.
type MarketInfo struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

// Account is one balance entry of the accounts endpoint. The venue
// serialises all amounts as decimal strings.
type Account struct {
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	Locked      string `json:"locked"`
	AvgBuyPrice string `json:"avg_buy_price"`
	UnitCurr    string `json:"unit_currency"`
}

// OrderResponse is the venue's order object, returned by order placement,
// lookup, and cancellation.
type OrderResponse struct {
	UUID           string `json:"uuid"`
	Side           string `json:"side"`
	OrdType        string `json:"ord_type"`
	Price          string `json:"price"`
	State          string `json:"state"`
	Market         string `json:"market"`
	Volume         string `json:"volume"`
	RemainingVol   string `json:"remaining_volume"`
	ExecutedVolume string `json:"executed_volume"`
	PaidFee        string `json:"paid_fee"`
	TradesCount    int    `json:"trades_count"`
}

// Executed reports the filled volume of the order. Unparseable amounts
// count as zero.
func (o OrderResponse) Executed() float64 {
	v, err := strconv.ParseFloat(o.ExecutedVolume, 64)
	if err != nil {
		return 0
	}
	return v
}

// Remaining reports the unfilled volume of the order.
func (o OrderResponse) Remaining() float64 {
	v, err := strconv.ParseFloat(o.RemainingVol, 64)
	if err != nil {
		return 0
	}
	return v
}

// Done reports whether the order has left the book, either fully filled
// or cancelled by the venue.
func (o OrderResponse) Done() bool {
	return o.State == "done" || o.State == "cancel"
}

// apiError is the venue's error envelope.
type apiError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}
