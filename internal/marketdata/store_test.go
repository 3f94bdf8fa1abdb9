package marketdata

import (
	"testing"
	"time"

	"github.com/alanyoungcy/upbitarb/internal/domain"
)

func TestApplyBookAndTradeMerge(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	s.ApplyBook("KRW-DOGE", 310, 900, 311, 1000, t0)
	s.ApplyTrade("KRW-DOGE", 310.5, domain.TradeSideAsk, t0.Add(time.Second))

	q, ok := s.Quote(domain.LegKRW, "DOGE")
	if !ok {
		t.Fatal("quote missing after apply")
	}
	if q.BestBidPrice != 310 || q.BestAskPrice != 311 {
		t.Errorf("book fields lost: %+v", q)
	}
	if q.LastPrice != 310.5 || q.LastSide != domain.TradeSideAsk {
		t.Errorf("trade fields wrong: %+v", q)
	}
	if !q.ObservedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("ObservedAt = %v, want the later write", q.ObservedAt)
	}
}

func TestApplyLastWriteWins(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyBook("BTC-DOGE", 0.0000070, 500, 0.0000071, 600, now)
	s.ApplyBook("BTC-DOGE", 0.0000072, 100, 0.0000073, 200, now.Add(time.Millisecond))

	q, _ := s.Quote(domain.LegBTC, "DOGE")
	if q.BestBidPrice != 0.0000072 || q.BestAskSize != 200 {
		t.Errorf("second write did not overwrite: %+v", q)
	}
}

func TestApplyDropsMalformedCodes(t *testing.T) {
	s := NewStore()
	s.ApplyBook("USDT-DOGE", 1, 1, 2, 2, time.Now())
	s.ApplyTrade("garbage", 1, domain.TradeSideBid, time.Now())
	if s.Len() != 0 {
		t.Errorf("store accepted malformed codes, len = %d", s.Len())
	}
}

func TestReferenceRate(t *testing.T) {
	s := NewStore()
	if _, ok := s.ReferenceRate(); ok {
		t.Error("reference rate reported before first tick")
	}

	now := time.Now()
	s.SetReferenceRate(43000000, now)
	rate, ok := s.ReferenceRate()
	if !ok || rate != 43000000 {
		t.Errorf("ReferenceRate = (%v, %v), want (43000000, true)", rate, ok)
	}

	s.SetReferenceRate(0, now)
	if rate, _ := s.ReferenceRate(); rate != 43000000 {
		t.Errorf("zero rate overwrote reference, got %v", rate)
	}

	if age := s.ReferenceAge(now.Add(5 * time.Second)); age != 5*time.Second {
		t.Errorf("ReferenceAge = %v, want 5s", age)
	}
}

func TestPairedSymbols(t *testing.T) {
	s := NewStore()
	now := time.Now()

	// DOGE has two-sided depth on both legs.
	s.ApplyBook("KRW-DOGE", 310, 900, 311, 1000, now)
	s.ApplyBook("BTC-DOGE", 0.0000070, 500, 0.0000071, 600, now)

	// XRP only exists on the fiat leg.
	s.ApplyBook("KRW-XRP", 700, 10, 701, 10, now)

	// ADA is on both legs but one side of the BTC book is empty.
	s.ApplyBook("KRW-ADA", 500, 10, 501, 10, now)
	s.ApplyBook("BTC-ADA", 0.00001, 0, 0.00002, 5, now)

	// The reference market itself never pairs.
	s.ApplyBook("KRW-BTC", 43000000, 1, 43010000, 1, now)

	got := s.PairedSymbols()
	if len(got) != 1 || got[0] != "DOGE" {
		t.Errorf("PairedSymbols = %v, want [DOGE]", got)
	}
}
