package domain

import "time"

// TradeStatus tracks a trade through its lifecycle. Transitions only move
// forward along the paths in validTransitions; DONE, CANCELLED, and FAILED
// are terminal.
type TradeStatus string

const (
	TradeReady     TradeStatus = "READY"
	TradeWaiting   TradeStatus = "WAITING"
	TradeBought    TradeStatus = "BOUGHT"
	TradeDone      TradeStatus = "DONE"
	TradeCancelled TradeStatus = "CANCELLED"
	TradeFailed    TradeStatus = "FAILED"
)

// validTransitions enumerates the allowed forward edges of the trade state
// machine. CANCELLED and FAILED are reachable from any non-terminal state.
var validTransitions = map[TradeStatus][]TradeStatus{
	TradeReady:   {TradeWaiting, TradeBought, TradeCancelled, TradeFailed},
	TradeWaiting: {TradeBought, TradeCancelled, TradeFailed},
	TradeBought:  {TradeDone, TradeCancelled, TradeFailed},
}

// CanTransition reports whether moving from one status to another is a legal
// forward edge of the state machine.
func CanTransition(from, to TradeStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is one of the three terminal statuses.
func (s TradeStatus) Terminal() bool {
	return s == TradeDone || s == TradeCancelled || s == TradeFailed
}

// Trade is the durable in-memory record of a two-leg arbitrage trade,
// keyed by symbol. At most one non-terminal Trade exists per symbol.
type Trade struct {
	ID        string // uuid
	Symbol    string
	Direction Direction

	BuyMarket string
	BuyPrice  float64

	SellMarket string
	SellPrice  float64

	Size   float64 // requested volume in base asset units
	Status TradeStatus

	// OrderID is the venue identifier of the currently outstanding order,
	// empty when no order is open.
	OrderID string

	// ExecutedVolume is the bought volume still awaiting sale. It shrinks
	// as sell attempts (including degraded stop-loss resells) fill.
	ExecutedVolume float64

	CreatedAt      time.Time
	TransitionedAt time.Time
}

// Active reports whether the trade still occupies a concurrency slot.
func (t *Trade) Active() bool {
	return !t.Status.Terminal()
}
