// Package marketdata holds the in-memory snapshot of the venue's market
// state. The store is owned by the engine's event loop and is not safe for
// concurrent use; every write simply overwrites the previous snapshot.
package marketdata

import (
	"sort"
	"time"

	"github.com/alanyoungcy/upbitarb/internal/domain"
)

// Store keeps the latest quote per market code plus the KRW/BTC reference
// rate used to express BTC-leg prices in fiat.
type Store struct {
	quotes map[string]domain.Quote

	refRate float64
	refAt   time.Time
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{
		quotes: make(map[string]domain.Quote),
	}
}

// ApplyBook overwrites the top-of-book levels for a market. Unknown market
// codes are dropped. Trade fields of an existing quote are preserved.
func (s *Store) ApplyBook(code string, bidPrice, bidSize, askPrice, askSize float64, at time.Time) {
	leg, symbol, err := domain.ParseMarketCode(code)
	if err != nil {
		return
	}

	q := s.quotes[code]
	q.Symbol = symbol
	q.Leg = leg
	q.BestBidPrice = bidPrice
	q.BestBidSize = bidSize
	q.BestAskPrice = askPrice
	q.BestAskSize = askSize
	q.ObservedAt = at
	s.quotes[code] = q
}

// ApplyTrade overwrites the last-trade fields for a market. Unknown market
// codes are dropped. Book fields of an existing quote are preserved.
func (s *Store) ApplyTrade(code string, price float64, side domain.TradeSide, at time.Time) {
	leg, symbol, err := domain.ParseMarketCode(code)
	if err != nil {
		return
	}

	q := s.quotes[code]
	q.Symbol = symbol
	q.Leg = leg
	q.LastPrice = price
	q.LastSide = side
	q.ObservedAt = at
	s.quotes[code] = q
}

// Quote returns the latest snapshot for a symbol on the given leg.
func (s *Store) Quote(leg domain.Leg, symbol string) (domain.Quote, bool) {
	q, ok := s.quotes[domain.MarketCode(leg, symbol)]
	return q, ok
}

// SetReferenceRate records the latest KRW price of one BTC.
func (s *Store) SetReferenceRate(rate float64, at time.Time) {
	if rate <= 0 {
		return
	}
	s.refRate = rate
	s.refAt = at
}

// ReferenceRate returns the KRW price of one BTC. ok is false until the
// first reference tick has been observed.
func (s *Store) ReferenceRate() (rate float64, ok bool) {
	return s.refRate, s.refRate > 0
}

// ReferenceAge reports how long ago the reference rate was last updated.
func (s *Store) ReferenceAge(now time.Time) time.Duration {
	if s.refAt.IsZero() {
		return 0
	}
	return now.Sub(s.refAt)
}

// PairedSymbols returns, sorted, every symbol that currently has two-sided
// depth on both the KRW and BTC legs. BTC itself is never paired.
func (s *Store) PairedSymbols() []string {
	var symbols []string
	for code, q := range s.quotes {
		leg, symbol, err := domain.ParseMarketCode(code)
		if err != nil || leg != domain.LegKRW || symbol == "BTC" {
			continue
		}
		if !q.HasDepth() {
			continue
		}
		other, ok := s.quotes[domain.MarketCode(domain.LegBTC, symbol)]
		if !ok || !other.HasDepth() {
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Len reports the number of markets with at least one snapshot.
func (s *Store) Len() int {
	return len(s.quotes)
}
