// Command makerladder runs the event-driven reconciliation loop of
// spec.md §4.6/§6: it watches one binary market's order book over the
// market WebSocket channel, drives a Controller that maintains resting
// post-only ladder quotes through the OrderGateway, and retires its own
// live-order cache entries as the user channel reports fills/cancels.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"btc15m-edge/internal/config"
	"btc15m-edge/internal/exchange"
	"btc15m-edge/internal/feedclient"
	"btc15m-edge/internal/makerladder"
	"btc15m-edge/pkg/sample"
)

const cexSymbol sample.Symbol = "BTCUSDT"

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
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	auth, err := exchange.NewAuth(*cfg)
	if err != nil {
		logger.Error("failed to build auth", "error", err)
		os.Exit(1)
	}
	client := exchange.NewClient(*cfg, auth, logger)
	userChannel := exchange.NewUserChannel(cfg.Feeds.MarketBook.WSUserURL, auth, logger)
	marketBook := feedclient.NewBinaryMarketBook(cfg.Feeds.MarketBook.WSMarketURL, logger)
	cex := feedclient.NewCexBookTicker(cfg.Feeds.Cex.WSURL, cexSymbol, cfg.Feeds.Cex.SampleIntervalMs, logger)

	conditionID, upTokenID, downTokenID := resolveWindow(cfg)
	marketBook.RegisterAsset(upTokenID, conditionID, sample.MarketUp)
	marketBook.RegisterAsset(downTokenID, conditionID, sample.MarketDown)
	if err := marketBook.Subscribe(upTokenID, conditionID); err != nil {
		logger.Error("subscribe up token failed", "error", err)
	}
	if err := marketBook.Subscribe(downTokenID, conditionID); err != nil {
		logger.Error("subscribe down token failed", "error", err)
	}
	userChannel.Subscribe(conditionID)

	book := makerladder.NewBook()
	cache := makerladder.NewLiveOrderCache()
	guard := makerladder.NewSpikeGuard(makerladder.SpikeGuardConfig{
		SpikeUSD:   decimal.NewFromFloat(cfg.Maker.SpikeUSD),
		WindowMs:   cfg.Maker.SpikeWindowMs,
		CooldownMs: cfg.Maker.SpikeCooldownMs,
	}, logger)

	ladderCfg := makerladder.LadderConfig{
		Levels:         cfg.Maker.Levels,
		Tick:           decimal.NewFromFloat(cfg.Maker.Tick),
		QuoteBothSides: cfg.Maker.QuoteBothSides,
	}
	size := decimal.NewFromFloat(cfg.Maker.Size)

	assets := []makerladder.AssetConfig{
		{AssetID: upTokenID, Ladder: ladderCfg, Size: size},
	}
	if cfg.Maker.QuoteBothAssets {
		assets = append(assets, makerladder.AssetConfig{AssetID: downTokenID, Ladder: ladderCfg, Size: size})
	}

	eventDebounce := cfg.Maker.EventDebounceMs
	if eventDebounce <= 0 {
		eventDebounce = 15 * time.Millisecond
	}

	controller := makerladder.NewController(makerladder.Config{
		ConditionID:   conditionID,
		Assets:        assets,
		EventDebounce: eventDebounce,
		RefreshEvery:  cfg.Maker.RefreshMs,
		BurstPlace:    cfg.Maker.BurstPlace,
		BurstCancel:   cfg.Maker.BurstCancel,
		SpikeGuard: makerladder.SpikeGuardConfig{
			SpikeUSD:   decimal.NewFromFloat(cfg.Maker.SpikeUSD),
			WindowMs:   cfg.Maker.SpikeWindowMs,
			CooldownMs: cfg.Maker.SpikeCooldownMs,
		},
	}, book, cache, guard, client, logger)

	if cfg.Maker.CancelAllOnStart {
		if _, err := client.CancelAll(ctx); err != nil {
			logger.Error("cancel-all-on-start failed", "error", err)
		}
	} else if cfg.Maker.CancelOnStart {
		if err := client.CancelMarket(ctx, conditionID); err != nil {
			logger.Error("cancel-on-start failed", "error", err)
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := marketBook.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("market book feed exited", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cex.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("cex feed exited", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := userChannel.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("user channel exited", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pumpBookUpdates(ctx, marketBook.Samples(), book, controller, cfg.Maker.EventDriven)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pumpCexUpdates(ctx, cex.Samples(), guard, controller, cfg.Maker.EventDriven)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pumpOrderEvents(ctx, userChannel.Events(), cache, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		controller.Run(ctx)
	}()

	logger.Info("maker ladder started", "condition_id", conditionID, "dry_run", cfg.Maker.DryRun, "event_driven", cfg.Maker.EventDriven)

	<-ctx.Done()
	marketBook.Stop()
	cex.Stop()
	wg.Wait()
	logger.Info("maker ladder stopped")
}

// pumpBookUpdates feeds every bid/ask sample into the Book. When
// eventDriven is set it also nudges the Controller so the debounced
// reconciliation loop reacts immediately instead of waiting for the
// next safety-ticker tick (spec.md §6 event_driven).
func pumpBookUpdates(ctx context.Context, in <-chan sample.Sample, book *makerladder.Book, controller *makerladder.Controller, eventDriven bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			switch s.Side {
			case sample.Bid:
				book.UpdateBid(s.AssetID, s.Price, s.ObservedAt)
			case sample.Ask:
				book.UpdateAsk(s.AssetID, s.Price, s.ObservedAt)
			default:
				continue
			}
			if eventDriven {
				controller.NotifyBookUpdate()
			}
		}
	}
}

// pumpCexUpdates feeds every CEX best-bid tick into the SpikeGuard so the
// mass-cancel kill switch can trip in production, not just in unit tests
// (spec.md §4.6 Inputs, §8 scenario 6). When eventDriven is set, a tick
// also nudges the Controller so a spike trips reconciliation immediately.
func pumpCexUpdates(ctx context.Context, in <-chan sample.Sample, guard *makerladder.SpikeGuard, controller *makerladder.Controller, eventDriven bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			if s.Side != sample.Bid {
				continue
			}
			guard.Observe(s.Price, s.ObservedAt)
			if eventDriven {
				controller.NotifyBookUpdate()
			}
		}
	}
}

// pumpOrderEvents retires LiveOrderCache entries as the user channel
// reports an order's terminal state.
func pumpOrderEvents(ctx context.Context, in <-chan exchange.OrderEvent, cache *makerladder.LiveOrderCache, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			switch ev.EventType {
			case "cancellation":
				if key, found := cache.RemoveByOrderID(ev.OrderID); found {
					logger.Debug("order cache entry cleared on cancellation", "order_id", ev.OrderID, "asset_id", key.AssetID)
				}
			case "update":
				if ev.Status == "matched" || ev.Status == "filled" {
					cache.RemoveByOrderID(ev.OrderID)
				}
			}
		}
	}
}

// resolveWindow reads the active market's condition/asset IDs from config.
// The spec's discovery-driven rollover lives in the recorder; the maker
// ladder is started per-window by an external scheduler that (re)points
// EDGE_CONFIG at the newly discovered market before each 15-minute cycle.
func resolveWindow(cfg *config.Config) (conditionID, upTokenID, downTokenID string) {
	return cfg.Maker.ConditionID, cfg.Maker.UpTokenID, cfg.Maker.DownTokenID
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
