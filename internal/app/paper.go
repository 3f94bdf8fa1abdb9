package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/upbitarb/internal/domain"
	"github.com/alanyoungcy/upbitarb/internal/platform/upbit"
)

// paperExchange is the monitor-mode order backend. Every order fills in full
// immediately, so the lifecycle manager walks its normal path and the hub and
// notifier emit the same events they would under live trading.
type paperExchange struct {
	mu     sync.Mutex
	orders map[string]upbit.OrderResponse
}

func newPaperExchange() *paperExchange {
	return &paperExchange{orders: make(map[string]upbit.OrderResponse)}
}

func (p *paperExchange) PlaceOrder(ctx context.Context, market string, side domain.TradeSide, volume, price float64) (upbit.OrderResponse, error) {
	vol := strconv.FormatFloat(volume, 'f', -1, 64)
	resp := upbit.OrderResponse{
		UUID:           uuid.NewString(),
		Side:           strings.ToLower(string(side)),
		OrdType:        "limit",
		Price:          strconv.FormatFloat(price, 'f', -1, 64),
		State:          "done",
		Market:         market,
		Volume:         vol,
		RemainingVol:   "0",
		ExecutedVolume: vol,
		TradesCount:    1,
	}

	p.mu.Lock()
	p.orders[resp.UUID] = resp
	p.mu.Unlock()
	return resp, nil
}

func (p *paperExchange) Order(ctx context.Context, orderID string) (upbit.OrderResponse, error) {
	p.mu.Lock()
	resp, ok := p.orders[orderID]
	p.mu.Unlock()
	if !ok {
		return upbit.OrderResponse{}, fmt.Errorf("paper: %w: unknown order %s", domain.ErrOrderRejected, orderID)
	}
	return resp, nil
}

func (p *paperExchange) CancelOrder(ctx context.Context, orderID string) (upbit.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp, ok := p.orders[orderID]
	if !ok {
		return upbit.OrderResponse{}, fmt.Errorf("paper: %w: unknown order %s", domain.ErrOrderRejected, orderID)
	}
	resp.State = "cancel"
	p.orders[orderID] = resp
	return resp, nil
}
