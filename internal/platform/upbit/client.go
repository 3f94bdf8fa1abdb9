package upbit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/upbitarb/internal/crypto"
	"github.com/alanyoungcy/upbitarb/internal/domain"
	"github.com/alanyoungcy/upbitarb/internal/metrics"
)

const (
	// baseDelay is the inter-request spacing while the venue reports
	// headroom in the per-second rate budget.
	baseDelay = 105 * time.Millisecond

	// lazyDelay is the inter-request spacing once the per-second budget
	// drops below two remaining calls.
	lazyDelay = 300 * time.Millisecond
)

// remainingReqPattern matches the venue's Remaining-Req response header,
// e.g. "group=order; min=199; sec=29".
var remainingReqPattern = regexp.MustCompile(`group=([a-z\-]+); min=([0-9]+); sec=([0-9]+)`)

// Client is the REST client for the Upbit exchange API.
type Client struct {
	baseURL    string
	signer     *crypto.Signer
	httpClient *http.Client

	mu      sync.Mutex
	nextAt  time.Time
	delay   time.Duration
	sleepFn func(context.Context, time.Duration) error
}

// NewClient creates a new Upbit REST client.
//
// baseURL is the API root, e.g. "https://api.upbit.com/v1". signer holds
// the account's access and secret keys and may be nil for a client that
// only calls public endpoints.
func NewClient(baseURL string, signer *crypto.Signer) *Client {
	return &Client{
		baseURL: baseURL,
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		delay:   baseDelay,
		sleepFn: sleepCtx,
	}
}

// Markets returns the full market listing for the exchange.
func (c *Client) Markets(ctx context.Context) ([]domain.Market, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/market/all", nil, false)
	if err != nil {
		return nil, fmt.Errorf("upbit: get markets: %w", err)
	}

	var infos []MarketInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, fmt.Errorf("upbit: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(infos))
	for _, m := range infos {
		markets = append(markets, domain.Market{
			Code:        m.Market,
			KoreanName:  m.KoreanName,
			EnglishName: m.EnglishName,
		})
	}
	return markets, nil
}

// Accounts returns the account balances for every held currency.
func (c *Client) Accounts(ctx context.Context) ([]domain.Balance, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/accounts", nil, true)
	if err != nil {
		return nil, fmt.Errorf("upbit: get accounts: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(body, &accounts); err != nil {
		return nil, fmt.Errorf("upbit: decode accounts: %w", err)
	}

	balances := make([]domain.Balance, 0, len(accounts))
	for _, a := range accounts {
		balances = append(balances, domain.Balance{
			Currency: a.Currency,
			Balance:  parseAmount(a.Balance),
			Locked:   parseAmount(a.Locked),
			AvgBuy:   parseAmount(a.AvgBuyPrice),
		})
	}
	return balances, nil
}

// PlaceOrder submits a limit order on the given market. side is the
// venue's order side, "bid" to buy or "ask" to sell.
func (c *Client) PlaceOrder(ctx context.Context, market string, side domain.TradeSide, volume, price float64) (OrderResponse, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("side", strings.ToLower(string(side)))
	params.Set("volume", formatAmount(volume))
	params.Set("price", formatAmount(price))
	params.Set("ord_type", "limit")

	body, err := c.doRequest(ctx, http.MethodPost, "/orders", params, true)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("upbit: place order %s %s: %w", market, side, err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("upbit: decode order response: %w", err)
	}
	return resp, nil
}

// Order returns the current state of an order by its UUID.
func (c *Client) Order(ctx context.Context, orderID string) (OrderResponse, error) {
	params := url.Values{}
	params.Set("uuid", orderID)

	body, err := c.doRequest(ctx, http.MethodGet, "/order", params, true)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("upbit: get order %s: %w", orderID, err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("upbit: decode order: %w", err)
	}
	return resp, nil
}

// CancelOrder cancels an open order by its UUID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (OrderResponse, error) {
	params := url.Values{}
	params.Set("uuid", orderID)

	body, err := c.doRequest(ctx, http.MethodDelete, "/order", params, true)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("upbit: cancel order %s: %w", orderID, err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("upbit: decode cancel response: %w", err)
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, authenticates, throttles, and sends an HTTP request
// against the Upbit API. For GET and DELETE the params travel in the query
// string; for POST they are JSON-encoded into the body. Either way the
// encoded form of params is what gets hashed into the auth token.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, private bool) ([]byte, error) {
	rawQuery := ""
	if len(params) > 0 {
		rawQuery = params.Encode()
	}

	fullURL := c.baseURL + path
	var bodyReader io.Reader

	switch method {
	case http.MethodPost:
		fields := make(map[string]string, len(params))
		for k := range params {
			fields[k] = params.Get(k)
		}
		jsonBody, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	default:
		if rawQuery != "" {
			fullURL += "?" + rawQuery
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if private {
		if c.signer == nil {
			return nil, fmt.Errorf("upbit: %w: no API keys configured", domain.ErrUnauthorized)
		}
		token, err := c.signer.TokenForQuery(rawQuery)
		if err != nil {
			return nil, fmt.Errorf("upbit: %w: %v", domain.ErrSigningFailed, err)
		}
		req.Header.Set("Authorization", token)
	}

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	c.observeRemaining(resp.Header.Get("Remaining-Req"))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		metrics.RESTRequests.WithLabelValues(path, "error").Inc()
		return nil, err
	}

	metrics.RESTRequests.WithLabelValues(path, "ok").Inc()
	return respBody, nil
}

// throttle blocks until the inter-request spacing derived from the last
// Remaining-Req header has elapsed.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	if c.nextAt.Before(now) {
		c.nextAt = now
	}
	wait := c.nextAt.Sub(now)
	c.nextAt = c.nextAt.Add(c.delay)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return c.sleepFn(ctx, wait)
}

// observeRemaining adjusts the request spacing from the venue's
// Remaining-Req header. A missing or malformed header leaves the current
// spacing in place.
func (c *Client) observeRemaining(header string) {
	sec, ok := parseRemainingReq(header)
	if !ok {
		return
	}

	c.mu.Lock()
	if sec < 2 {
		c.delay = lazyDelay
	} else {
		c.delay = baseDelay
	}
	c.mu.Unlock()
}

// parseRemainingReq extracts the remaining per-second request budget from
// a Remaining-Req header value.
func parseRemainingReq(header string) (sec int, ok bool) {
	m := remainingReqPattern.FindStringSubmatch(header)
	if m == nil {
		return 0, false
	}
	sec, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, false
	}
	return sec, true
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("upbit: %w: %s (%s)", domain.ErrUnauthorized, apiErr.Error.Message, apiErr.Error.Name)
	case http.StatusTooManyRequests:
		return fmt.Errorf("upbit: %w: %s (%s)", domain.ErrRateLimited, apiErr.Error.Message, apiErr.Error.Name)
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("upbit: %w: %s (%s)", domain.ErrOrderRejected, apiErr.Error.Message, apiErr.Error.Name)
	default:
		return fmt.Errorf("upbit: HTTP %d: %s (%s)", statusCode, apiErr.Error.Message, apiErr.Error.Name)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseAmount(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
