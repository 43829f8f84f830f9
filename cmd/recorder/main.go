// Command recorder runs the multi-feed ingestion pipeline of spec.md §4.1-
// §4.3: it starts the four FeedClients, fans their samples into a single
// SampleBuffer, resolves the active 15-minute window via MarketDiscovery,
// and anchors the Chainlink baseline on every rollover.
//
// Grounded on the teacher's cmd/bot/main.go shape: load config, build
// logger, wire components, wait for SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"btc15m-edge/internal/config"
	"btc15m-edge/internal/discovery"
	"btc15m-edge/internal/feedclient"
	"btc15m-edge/internal/store"
	"btc15m-edge/pkg/sample"
)

const (
	cexSymbol    sample.Symbol = "BTCUSDT"
	oracleSymbol sample.Symbol = "BTC/USD"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("EDGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.ValidateFeeds(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	sampleStore, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		logger.Error("failed to open sample store", "error", err)
		os.Exit(1)
	}
	defer sampleStore.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	buffer := store.NewBuffer(sampleStore, cfg.Store.MaxBuffer, cfg.Store.FlushIntervalMs, nil, logger)

	cex := feedclient.NewCexBookTicker(cfg.Feeds.Cex.WSURL, cexSymbol, cfg.Feeds.Cex.SampleIntervalMs, logger)
	oracleLog := feedclient.NewOracleLogStream(
		cfg.Feeds.OracleLog.RPCWSURL,
		common.HexToAddress(cfg.Feeds.OracleLog.AggregatorAddr),
		cfg.Feeds.OracleLog.Decimals,
		oracleSymbol,
		cfg.Feeds.OracleLog.PollMs,
		logger,
	)
	oracleAgg := feedclient.NewOracleAggregatorStream(cfg.Feeds.OracleAgg.WSURL, cfg.Feeds.OracleAgg.Topic, cfg.Feeds.OracleAgg.Symbol, logger)
	marketBook := feedclient.NewBinaryMarketBook(cfg.Feeds.MarketBook.WSMarketURL, logger)

	feeds := []feedclient.FeedClient{cex, oracleLog, oracleAgg, marketBook}

	anchor := discovery.NewBaselineAnchor(sampleStore, logger)
	disc := discovery.NewMarketDiscovery(cfg.Discovery.CatalogBaseURL, cfg.Discovery.SlugPrefix, cfg.Discovery.CandidateBehind, cfg.Discovery.CandidateAhead, logger)

	disc.OnChange(func(old, win sample.Window) {
		if old.UpTokenID != "" {
			marketBook.Unsubscribe(old.UpTokenID)
		}
		if old.DownTokenID != "" {
			marketBook.Unsubscribe(old.DownTokenID)
		}
		marketBook.RegisterAsset(win.UpTokenID, win.ConditionID, sample.MarketUp)
		marketBook.RegisterAsset(win.DownTokenID, win.ConditionID, sample.MarketDown)
		if err := marketBook.Subscribe(win.UpTokenID, win.ConditionID); err != nil {
			logger.Error("subscribe up token failed", "error", err)
		}
		if err := marketBook.Subscribe(win.DownTokenID, win.ConditionID); err != nil {
			logger.Error("subscribe down token failed", "error", err)
		}
		if err := anchor.Anchor(ctx, win, oracleSymbol); err != nil {
			logger.Error("baseline anchor failed", "error", err, "condition_id", win.ConditionID)
		}
	})

	var wg sync.WaitGroup

	for _, f := range feeds {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("feed client exited with fatal error", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		buffer.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		disc.Run(ctx, cfg.Discovery.DiscoveryInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		fanIn(ctx, buffer.Input(), feeds...)
	}()

	logger.Info("recorder started",
		"db_path", cfg.Store.DBPath,
		"slug_prefix", cfg.Discovery.SlugPrefix,
	)

	<-ctx.Done()
	for _, f := range feeds {
		f.Stop()
	}
	wg.Wait()
	logger.Info("recorder stopped")
}

// fanIn merges every feed's Samples() channel into a single buffer input.
func fanIn(ctx context.Context, dst chan<- sample.Sample, feeds ...feedclient.FeedClient) {
	var wg sync.WaitGroup
	for _, f := range feeds {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case s, ok := <-f.Samples():
					if !ok {
						return
					}
					select {
					case dst <- s:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
