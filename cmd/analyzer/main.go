// Command analyzer runs one offline pass of the pattern detector and
// papertrade replay (spec.md §4.4-§4.5) over a time range read from the
// recorder's SampleStore, and prints the resulting Result/Report as JSON.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"btc15m-edge/internal/analyzer"
	"btc15m-edge/internal/config"
	"btc15m-edge/internal/papertrader"
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

	from, to := parseRange(os.Args[1:])
	logger.Info("analyzing window", "from", from, "to", to)

	ctx := context.Background()
	a := analyzer.New(sampleStore)
	params := analyzerParams(cfg.Analyzer)

	result, err := a.Run(ctx, from, to, cexSymbol, oracleSymbol, sample.MarketUp, sample.MarketDown, params)
	if err != nil {
		logger.Error("analyzer run failed", "error", err)
		os.Exit(1)
	}

	series, err := a.LoadAllWindowSeries(ctx, from, to, cexSymbol, oracleSymbol, sample.MarketUp, sample.MarketDown)
	if err != nil {
		logger.Error("loading window series for papertrade replay failed", "error", err)
		os.Exit(1)
	}

	sim := papertrader.New(papertradeParams(cfg.Papertrade, cfg.Analyzer))
	report := sim.Run(result.Events, series, papertrader.RunOpts{
		IncludeFills: cfg.Papertrade.IncludeFills,
		MaxFills:     cfg.Papertrade.MaxFills,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Analyzer   analyzer.Result    `json:"analyzer"`
		Papertrade papertrader.Report `json:"papertrade"`
	}{Analyzer: result, Papertrade: report}); err != nil {
		logger.Error("failed to encode result", "error", err)
		os.Exit(1)
	}
}

func analyzerParams(c config.AnalyzerConfig) analyzer.Params {
	return analyzer.Params{
		SpikeUSD:         decimal.NewFromFloat(c.SpikeUSD),
		ReactionWindowMs: c.ReactionWindowMs,
		DeltaBucketUSD:   decimal.NewFromFloat(c.DeltaBucketUSD),
		SpikeBucketUSD:   decimal.NewFromFloat(c.SpikeBucketUSD),
		SpikeCooldownMs:  c.SpikeCooldownMs,
		Epsilon:          decimal.NewFromFloat(c.Epsilon),
		MinN:             c.MinN,
		OrderP95Ms:       c.OrderP95Ms,
		SafetyMs:         c.SafetyMs,
	}
}

func papertradeParams(c config.PapertradeConfig, a config.AnalyzerConfig) papertrader.Params {
	return papertrader.Params{
		OrderP95Ms: a.OrderP95Ms,
		SafetyMs:   a.SafetyMs,
		HoldMs:     c.HoldMs,
		FeeBps:     decimal.NewFromFloat(c.FeeBps),
	}
}

// parseRange reads "from" and "to" as RFC3339 timestamps from the first two
// positional args, defaulting to the last 24 hours when omitted.
func parseRange(args []string) (from, to time.Time) {
	to = time.Now().UTC()
	from = to.Add(-24 * time.Hour)

	if len(args) > 0 {
		if t, err := time.Parse(time.RFC3339, args[0]); err == nil {
			from = t
		}
	}
	if len(args) > 1 {
		if t, err := time.Parse(time.RFC3339, args[1]); err == nil {
			to = t
		}
	}
	return from, to
}

// newLogger always logs to stderr: stdout is reserved for this binary's
// JSON result payload.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
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
