// Command leadlag watches both legs of one asset and reports which leg's
// price moves first. It samples the live ticker feeds on a fixed cadence and
// periodically prints the lag with the strongest Pearson correlation.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alanyoungcy/upbitarb/internal/domain"
	"github.com/alanyoungcy/upbitarb/internal/leadlag"
	"github.com/alanyoungcy/upbitarb/internal/platform/upbit"
)

func main() {
	var (
		wsURL          = flag.String("ws-url", "wss://api.upbit.com/websocket/v1", "websocket endpoint")
		symbol         = flag.String("symbol", "XRP", "asset code present on both legs")
		sampleInterval = flag.Duration("sample", 200*time.Millisecond, "price sampling cadence")
		reportInterval = flag.Duration("report", 30*time.Second, "correlation report cadence")
		window         = flag.Int("window", 600, "samples held per leg")
		maxLag         = flag.Int("max-lag", 25, "maximum sample offset scanned")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	sym := strings.ToUpper(*symbol)
	krwCode := domain.MarketCode(domain.LegKRW, sym)
	btcCode := domain.MarketCode(domain.LegBTC, sym)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Latest tick per leg, written by the stream goroutine and read by the
	// sampling loop.
	var (
		mu       sync.Mutex
		lastKRW  float64
		lastBTC  float64
		haveBoth bool
	)

	stream := upbit.NewWSClient(*wsURL)
	stream.OnTicker(func(m upbit.TickerMessage) {
		mu.Lock()
		switch m.Code {
		case krwCode:
			lastKRW = m.TradePrice
		case btcCode:
			lastBTC = m.TradePrice
		}
		haveBoth = lastKRW > 0 && lastBTC > 0
		mu.Unlock()
	})

	if err := stream.Connect(ctx); err != nil {
		logger.Error("connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer stream.Close()

	if err := stream.Subscribe(ctx, upbit.FeedTicker, []string{krwCode, btcCode}); err != nil {
		logger.Error("subscribe failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("sampling legs",
		slog.String("krw_leg", krwCode),
		slog.String("btc_leg", btcCode),
		slog.Duration("sample_interval", *sampleInterval),
	)

	krwSeries := leadlag.NewSeries(*window)
	btcSeries := leadlag.NewSeries(*window)

	sampleTick := time.NewTicker(*sampleInterval)
	defer sampleTick.Stop()
	reportTick := time.NewTicker(*reportInterval)
	defer reportTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sampleTick.C:
			mu.Lock()
			k, b, ok := lastKRW, lastBTC, haveBoth
			mu.Unlock()
			if ok {
				krwSeries.Append(k)
				btcSeries.Append(b)
			}

		case <-reportTick.C:
			if krwSeries.Len() < 2*(*maxLag) {
				logger.Info("warming up", slog.Int("samples", krwSeries.Len()))
				continue
			}
			lag, corr := leadlag.BestLag(krwSeries.Values(), btcSeries.Values(), *maxLag)
			leader := "none"
			switch {
			case lag > 0:
				leader = krwCode
			case lag < 0:
				leader = btcCode
			}
			logger.Info("lead/lag report",
				slog.String("leader", leader),
				slog.Int("lag_samples", lag),
				slog.Duration("lag_time", time.Duration(abs(lag))*(*sampleInterval)),
				slog.Float64("correlation", corr),
				slog.Int("samples", krwSeries.Len()),
			)
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
