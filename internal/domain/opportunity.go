package domain

import "time"

// Direction names the two tradable divergence directions between the legs.
type Direction string

const (
	// BuyBTCSellKRW buys on the BTC leg (cheap in KRW terms) and sells on
	// the KRW leg.
	BuyBTCSellKRW Direction = "buy_btc_sell_krw"
	// BuyKRWSellBTC buys on the KRW leg and sells on the BTC leg.
	BuyKRWSellBTC Direction = "buy_krw_sell_btc"
)

// Opportunity is one actionable divergence computed during a single scan.
// Prices are expressed in the native quote currency of each market; the
// notional is always in KRW. Opportunities are never persisted beyond the
// scan that produced them.
type Opportunity struct {
	Symbol    string
	Direction Direction

	// Entry is the market bought into, Exit the market sold on.
	EntryMarket string
	EntryPrice  float64
	ExitMarket  string
	ExitPrice   float64

	SpreadPct   float64
	Size        float64
	NotionalKRW float64

	DetectedAt time.Time
}
