// Package scanner turns market snapshots into actionable cross-market
// opportunities. Each scan is stateless: it reads the current snapshot,
// computes both directional spreads per symbol, sizes them against visible
// depth, and ranks the results.
package scanner

import (
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/upbitarb/internal/domain"
	"github.com/alanyoungcy/upbitarb/internal/marketdata"
)

// Config carries the scanner's sizing and ranking policy.
type Config struct {
	// MinSpreadPct is the spread a direction must exceed to be emitted.
	MinSpreadPct float64

	// MinNotionalKRW discards directions whose fillable value is too
	// small to be worth the order fees.
	MinNotionalKRW float64

	// MaxNotionalKRW caps per-trade exposure regardless of book depth.
	MaxNotionalKRW float64

	// MinPriceKRW skips symbols whose fiat top of book sits entirely
	// under this floor; sub-floor ticks are too coarse to trade.
	MinPriceKRW float64

	// TopK bounds how many symbols survive ranking each scan.
	TopK int
}

// Scanner evaluates snapshots against a fixed policy.
type Scanner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Scanner with the given policy.
func New(cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// symbolResult groups a symbol's viable directions with its ranking key.
type symbolResult struct {
	symbol     string
	bestSpread float64
	opps       []domain.Opportunity
}

// Scan evaluates every symbol quoted on both legs and returns the
// opportunities from the top-ranked symbols whose spread clears the
// configured minimum. Symbols missing depth or a reference rate are
// skipped for this tick.
func (s *Scanner) Scan(store *marketdata.Store, now time.Time) []domain.Opportunity {
	refRate, ok := store.ReferenceRate()
	if !ok {
		return nil
	}

	var results []symbolResult
	for _, symbol := range store.PairedSymbols() {
		res, ok := s.evaluateSymbol(store, symbol, refRate, now)
		if !ok {
			continue
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].bestSpread > results[j].bestSpread
	})
	if s.cfg.TopK > 0 && len(results) > s.cfg.TopK {
		results = results[:s.cfg.TopK]
	}

	var out []domain.Opportunity
	for _, res := range results {
		for _, opp := range res.opps {
			if opp.SpreadPct <= s.cfg.MinSpreadPct {
				continue
			}
			s.logger.Debug("opportunity",
				slog.String("symbol", opp.Symbol),
				slog.String("direction", string(opp.Direction)),
				slog.Float64("spread_pct", opp.SpreadPct),
				slog.Float64("size", opp.Size),
				slog.Float64("notional_krw", opp.NotionalKRW))
			out = append(out, opp)
		}
	}
	return out
}

// evaluateSymbol computes both directional spreads for one symbol. ok is
// false when the symbol cannot be evaluated this tick.
func (s *Scanner) evaluateSymbol(store *marketdata.Store, symbol string, refRate float64, now time.Time) (symbolResult, bool) {
	fiat, okF := store.Quote(domain.LegKRW, symbol)
	ref, okR := store.Quote(domain.LegBTC, symbol)
	if !okF || !okR || !fiat.HasDepth() || !ref.HasDepth() {
		return symbolResult{}, false
	}

	if s.cfg.MinPriceKRW > 0 &&
		fiat.BestBidPrice < s.cfg.MinPriceKRW && fiat.BestAskPrice < s.cfg.MinPriceKRW {
		return symbolResult{}, false
	}

	refAskInFiat := ref.BestAskPrice * refRate
	refBidInFiat := ref.BestBidPrice * refRate

	res := symbolResult{symbol: symbol}

	// Buy on the reference leg at its ask, sell on the fiat leg at its bid.
	spreadA := (fiat.BestBidPrice - refAskInFiat) / refAskInFiat * 100
	if size := s.tradableSize(ref.BestAskSize, fiat.BestBidSize, refAskInFiat); size > 0 {
		res.opps = append(res.opps, domain.Opportunity{
			Symbol:      symbol,
			Direction:   domain.BuyBTCSellKRW,
			EntryMarket: domain.MarketCode(domain.LegBTC, symbol),
			EntryPrice:  ref.BestAskPrice,
			ExitMarket:  domain.MarketCode(domain.LegKRW, symbol),
			ExitPrice:   fiat.BestBidPrice,
			SpreadPct:   spreadA,
			Size:        size,
			NotionalKRW: size * refAskInFiat,
			DetectedAt:  now,
		})
	}

	// Buy on the fiat leg at its ask, sell on the reference leg at its bid.
	spreadB := (refBidInFiat - fiat.BestAskPrice) / fiat.BestAskPrice * 100
	if size := s.tradableSize(fiat.BestAskSize, ref.BestBidSize, fiat.BestAskPrice); size > 0 {
		res.opps = append(res.opps, domain.Opportunity{
			Symbol:      symbol,
			Direction:   domain.BuyKRWSellBTC,
			EntryMarket: domain.MarketCode(domain.LegKRW, symbol),
			EntryPrice:  fiat.BestAskPrice,
			ExitMarket:  domain.MarketCode(domain.LegBTC, symbol),
			ExitPrice:   ref.BestBidPrice,
			SpreadPct:   spreadB,
			Size:        size,
			NotionalKRW: size * fiat.BestAskPrice,
			DetectedAt:  now,
		})
	}

	if len(res.opps) == 0 {
		return symbolResult{}, false
	}

	res.bestSpread = spreadA
	if spreadB > res.bestSpread {
		res.bestSpread = spreadB
	}
	return res, true
}

// tradableSize returns the fillable size for one direction: bounded by
// visible depth on both legs, clamped to the notional cap, and zero when
// the resulting value is below the notional minimum. entryPriceKRW is the
// fiat-equivalent entry price used for notional math.
func (s *Scanner) tradableSize(entryDepth, exitDepth, entryPriceKRW float64) float64 {
	if entryPriceKRW <= 0 {
		return 0
	}

	size := entryDepth
	if exitDepth < size {
		size = exitDepth
	}

	if s.cfg.MaxNotionalKRW > 0 && size*entryPriceKRW > s.cfg.MaxNotionalKRW {
		size = s.cfg.MaxNotionalKRW / entryPriceKRW
	}
	if size*entryPriceKRW < s.cfg.MinNotionalKRW {
		return 0
	}
	return size
}
