package upbit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/upbitarb/internal/crypto"
	"github.com/alanyoungcy/upbitarb/internal/domain"
)

func newTestSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.NewSigner("test-access", "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestParseRemainingReq(t *testing.T) {
	tests := []struct {
		header  string
		wantSec int
		wantOK  bool
	}{
		{"group=order; min=199; sec=29", 29, true},
		{"group=default; min=899; sec=1", 1, true},
		{"group=market; min=10; sec=0", 0, true},
		{"", 0, false},
		{"garbage", 0, false},
		{"group=order min=199 sec=29", 0, false},
	}

	for _, tt := range tests {
		sec, ok := parseRemainingReq(tt.header)
		if sec != tt.wantSec || ok != tt.wantOK {
			t.Errorf("parseRemainingReq(%q) = (%d, %v), want (%d, %v)",
				tt.header, sec, ok, tt.wantSec, tt.wantOK)
		}
	}
}

func TestObserveRemainingAdjustsDelay(t *testing.T) {
	c := NewClient("http://unused", nil)

	c.observeRemaining("group=order; min=100; sec=1")
	if c.delay != lazyDelay {
		t.Errorf("delay after low budget = %v, want %v", c.delay, lazyDelay)
	}

	c.observeRemaining("group=order; min=100; sec=25")
	if c.delay != baseDelay {
		t.Errorf("delay after recovered budget = %v, want %v", c.delay, baseDelay)
	}

	c.observeRemaining("not a header")
	if c.delay != baseDelay {
		t.Errorf("malformed header changed delay to %v", c.delay)
	}
}

func TestMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/market/all" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("public endpoint must not carry an Authorization header")
		}
		w.Header().Set("Remaining-Req", "group=market; min=100; sec=9")
		w.Write([]byte(`[
			{"market":"KRW-BTC","korean_name":"비트코인","english_name":"Bitcoin"},
			{"market":"BTC-ETH","korean_name":"이더리움","english_name":"Ethereum"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	markets, err := c.Markets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
	if markets[0].Code != "KRW-BTC" || markets[1].EnglishName != "Ethereum" {
		t.Errorf("unexpected markets: %+v", markets)
	}
}

func TestAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("accounts endpoint requires bearer auth")
		}
		w.Write([]byte(`[
			{"currency":"KRW","balance":"1000000.5","locked":"0","avg_buy_price":"0"},
			{"currency":"BTC","balance":"0.2","locked":"0.1","avg_buy_price":"43000000"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestSigner(t))
	balances, err := c.Accounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(balances) != 2 {
		t.Fatalf("got %d balances, want 2", len(balances))
	}
	if balances[0].Balance != 1000000.5 {
		t.Errorf("KRW balance = %v, want 1000000.5", balances[0].Balance)
	}
	if balances[1].Locked != 0.1 {
		t.Errorf("BTC locked = %v, want 0.1", balances[1].Locked)
	}
}

func TestPlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("order endpoint requires bearer auth")
		}

		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		want := map[string]string{
			"market":   "KRW-DOGE",
			"side":     "bid",
			"volume":   "25",
			"price":    "310.5",
			"ord_type": "limit",
		}
		for k, v := range want {
			if fields[k] != v {
				t.Errorf("body field %s = %q, want %q", k, fields[k], v)
			}
		}

		w.Header().Set("Remaining-Req", "group=order; min=199; sec=7")
		w.Write([]byte(`{"uuid":"ord-1","side":"bid","ord_type":"limit","price":"310.5",
			"state":"wait","market":"KRW-DOGE","volume":"25","remaining_volume":"25",
			"executed_volume":"0"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestSigner(t))
	resp, err := c.PlaceOrder(context.Background(), "KRW-DOGE", domain.TradeSideBid, 25, 310.5)
	if err != nil {
		t.Fatal(err)
	}
	if resp.UUID != "ord-1" || resp.State != "wait" {
		t.Errorf("unexpected order response: %+v", resp)
	}
}

func TestCancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/order" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("uuid"); got != "ord-2" {
			t.Errorf("uuid = %q, want ord-2", got)
		}
		w.Write([]byte(`{"uuid":"ord-2","state":"cancel","executed_volume":"1.5"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestSigner(t))
	resp, err := c.CancelOrder(context.Background(), "ord-2")
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != "cancel" || resp.Executed() != 1.5 {
		t.Errorf("unexpected cancel response: %+v", resp)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusBadRequest, domain.ErrOrderRejected},
		{http.StatusNotFound, domain.ErrOrderRejected},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error":{"name":"some_error","message":"nope"}}`))
		}))

		c := NewClient(srv.URL, newTestSigner(t))
		_, err := c.Order(context.Background(), "whatever")
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("status %d: got %v, want %v", tt.status, err, tt.wantErr)
		}
		srv.Close()
	}
}

func TestThrottleSpacesRequests(t *testing.T) {
	var slept []time.Duration
	c := NewClient("http://unused", nil)
	c.sleepFn = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	// First call goes straight through, second must wait roughly one delay.
	if err := c.throttle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.throttle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(slept) != 1 {
		t.Fatalf("expected exactly one sleep, got %d", len(slept))
	}
	if slept[0] <= 0 || slept[0] > baseDelay {
		t.Errorf("second request slept %v, want within (0, %v]", slept[0], baseDelay)
	}
}

func TestThrottleBackToBackCallsAllWait(t *testing.T) {
	var slept []time.Duration
	c := NewClient("http://unused", nil)
	c.sleepFn = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	for i := 0; i < 5; i++ {
		if err := c.throttle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	// Only the first call rides for free; each later call owes spacing.
	if len(slept) != 4 {
		t.Fatalf("expected four sleeps after five rapid calls, got %d", len(slept))
	}
	for i, d := range slept {
		if d <= 0 || d > time.Duration(i+2)*baseDelay {
			t.Errorf("sleep %d = %v, want within (0, %v]", i, d, time.Duration(i+2)*baseDelay)
		}
	}

	// The schedule must stay anchored to the present, not drift off the
	// zero time.
	c.mu.Lock()
	next := c.nextAt
	c.mu.Unlock()
	if until := time.Until(next); until <= 0 || until > 5*baseDelay {
		t.Errorf("next slot is %v away, want within (0, %v]", until, 5*baseDelay)
	}
}

func TestOrderResponseHelpers(t *testing.T) {
	o := OrderResponse{State: "done", ExecutedVolume: "2.5", RemainingVol: "0"}
	if !o.Done() || o.Executed() != 2.5 || o.Remaining() != 0 {
		t.Errorf("unexpected helpers for %+v", o)
	}

	o = OrderResponse{State: "wait", ExecutedVolume: "", RemainingVol: "3"}
	if o.Done() || o.Executed() != 0 || o.Remaining() != 3 {
		t.Errorf("unexpected helpers for %+v", o)
	}
}
