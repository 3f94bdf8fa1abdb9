// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StreamMessages counts inbound stream pushes by feed type.
var StreamMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "upbitarb",
		Subsystem: "stream",
		Name:      "messages_total",
		Help:      "Inbound websocket messages by feed type",
	},
	[]string{"feed"},
)

// StreamReconnects counts websocket reconnections.
var StreamReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "upbitarb",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Websocket reconnections",
	},
)

// SpreadObserved records spreads seen by the scanner.
var SpreadObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "upbitarb",
		Subsystem: "scanner",
		Name:      "spread_observed_percent",
		Help:      "Observed spread values in percent",
		Buckets:   []float64{-1, -0.5, 0, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
	},
	[]string{"symbol", "direction"},
)

// OpportunitiesDetected counts actionable opportunities per scan.
var OpportunitiesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "upbitarb",
		Subsystem: "scanner",
		Name:      "opportunities_detected_total",
		Help:      "Opportunities that cleared sizing and spread thresholds",
	},
	[]string{"symbol", "direction"},
)

// TradesClosed counts terminal trades by final status.
var TradesClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "upbitarb",
		Subsystem: "trading",
		Name:      "trades_closed_total",
		Help:      "Trades reaching a terminal state, by status",
	},
	[]string{"symbol", "status"},
)

// ActiveTrades tracks the size of the active-trade set.
var ActiveTrades = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "upbitarb",
		Subsystem: "trading",
		Name:      "active_trades",
		Help:      "Currently active trades",
	},
)

// StopLossTriggered counts stop-loss re-pricings of the sell leg.
var StopLossTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "upbitarb",
		Subsystem: "risk",
		Name:      "stop_loss_triggered_total",
		Help:      "Stop-loss re-pricings of the sell leg",
	},
	[]string{"symbol"},
)

// ReferenceRate publishes the current fiat price of the reference currency.
var ReferenceRate = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "upbitarb",
		Subsystem: "marketdata",
		Name:      "reference_rate_krw",
		Help:      "Latest KRW price of one BTC",
	},
)

// RESTRequests counts private/public REST calls by endpoint and outcome.
var RESTRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "upbitarb",
		Subsystem: "rest",
		Name:      "requests_total",
		Help:      "REST API calls by endpoint and outcome",
	},
	[]string{"endpoint", "outcome"},
)

// DriveDuration tracks how long one drive pass over the active set takes.
var DriveDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "upbitarb",
		Subsystem: "trading",
		Name:      "drive_duration_seconds",
		Help:      "Duration of one DriveAll pass",
		Buckets:   prometheus.DefBuckets,
	},
)

// RecordOpportunity records one emitted opportunity.
func RecordOpportunity(symbol, direction string, spreadPct float64) {
	OpportunitiesDetected.WithLabelValues(symbol, direction).Inc()
	SpreadObserved.WithLabelValues(symbol, direction).Observe(spreadPct)
}

// RecordTradeClosed records a trade reaching a terminal state.
func RecordTradeClosed(symbol, status string) {
	TradesClosed.WithLabelValues(symbol, status).Inc()
}
