package domain

import "time"

// TradeSide is the taker side reported with a trade tick.
type TradeSide string

const (
	TradeSideBid TradeSide = "BID"
	TradeSideAsk TradeSide = "ASK"
)

// Quote is the latest observed market state for one (symbol, leg) pair:
// best bid/ask with visible size, the last trade, and the observation time.
// It is overwritten on every update; no history is kept.
type Quote struct {
	Symbol string
	Leg    Leg

	BestBidPrice float64
	BestBidSize  float64
	BestAskPrice float64
	BestAskSize  float64

	LastPrice float64
	LastSide  TradeSide

	ObservedAt time.Time
}

// HasDepth reports whether both sides of the book carry a usable price and
// size. Opportunity math requires depth on both legs.
func (q Quote) HasDepth() bool {
	return q.BestBidPrice > 0 && q.BestBidSize > 0 &&
		q.BestAskPrice > 0 && q.BestAskSize > 0
}
