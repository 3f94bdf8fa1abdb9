// Package domain defines the core data model shared by every layer of the
// arbitrage engine: market legs, quotes, opportunities, and the trade
// lifecycle. It has no dependencies on transport or storage code.
package domain

import (
	"fmt"
	"strings"
)

// Leg identifies one of the two markets an asset trades on: the fiat-quoted
// KRW market or the reference-crypto-quoted BTC market.
type Leg string

const (
	LegKRW Leg = "KRW"
	LegBTC Leg = "BTC"
)

// Valid reports whether l is one of the two known legs.
func (l Leg) Valid() bool {
	return l == LegKRW || l == LegBTC
}

// MarketCode renders the venue market identifier for a symbol on the given
// leg, e.g. MarketCode(LegKRW, "BTC") == "KRW-BTC".
func MarketCode(leg Leg, symbol string) string {
	return string(leg) + "-" + symbol
}

// ParseMarketCode splits a venue market identifier like "KRW-XRP" into its
// leg and symbol. It returns an error for unknown quote currencies or
// malformed codes.
func ParseMarketCode(code string) (Leg, string, error) {
	quote, symbol, ok := strings.Cut(code, "-")
	if !ok || symbol == "" {
		return "", "", fmt.Errorf("domain: malformed market code %q", code)
	}
	leg := Leg(quote)
	if !leg.Valid() {
		return "", "", fmt.Errorf("domain: unknown quote currency in market code %q", code)
	}
	return leg, symbol, nil
}

// Market is one entry of the venue's market listing.
type Market struct {
	Code        string // e.g. "KRW-BTC"
	KoreanName  string
	EnglishName string
}

// Balance is a single currency balance from the venue's accounts endpoint.
type Balance struct {
	Currency string
	Balance  float64
	Locked   float64
	AvgBuy   float64
}
