package analyzer

import (
	"context"
	"fmt"
	"time"

	"btc15m-edge/internal/store"
	"btc15m-edge/pkg/sample"
)

// maxScanRows bounds every range scan the Analyzer issues against the
// SampleStore (spec.md §5: "each range scan is bounded (≤ 20 000 rows)").
const maxScanRows = 20_000

// Analyzer orchestrates one full run of spec.md §4.4 over a time range:
// enumerate Baselines, fetch each Window's six raw series, detect
// events, bucket, and score strategy candidates. Store reads are the
// only blocking operation; everything downstream (spike.go, bucket.go,
// strategy.go) is pure.
type Analyzer struct {
	store *store.SampleStore
}

// New creates an Analyzer backed by the given store.
func New(st *store.SampleStore) *Analyzer {
	return &Analyzer{store: st}
}

// Run executes one analysis pass over [from, to] and returns the full Result.
func (a *Analyzer) Run(ctx context.Context, from, to time.Time, cexSymbol, oracleSymbol, upSymbol, downSymbol sample.Symbol, p Params) (Result, error) {
	baselines, err := a.store.Scan(ctx, sample.Baseline, oracleSymbol, sample.Anchor, from, to, maxScanRows, store.Asc)
	if err != nil {
		return Result{}, fmt.Errorf("scan baselines: %w", err)
	}

	var allEvents []Event
	stats := &Stats{}

	for _, baseline := range baselines {
		if baseline.ConditionID == "" || baseline.MarketSlug == "" {
			continue
		}
		series, err := a.loadWindowSeries(ctx, baseline, cexSymbol, oracleSymbol, upSymbol, downSymbol)
		if err != nil {
			return Result{}, fmt.Errorf("load window series for %s: %w", baseline.ConditionID, err)
		}
		allEvents = append(allEvents, DetectEvents(series, p, stats)...)
	}

	globalUp, globalDown := GlobalResponseRates(allEvents)
	buckets := ComputeBuckets(allEvents, p, globalUp, globalDown)
	candidates := SelectStrategyCandidates(buckets, p, globalUp)

	return Result{
		Events:                 allEvents,
		Buckets:                buckets,
		GlobalUpResponseRate:   globalUp,
		GlobalDownResponseRate: globalDown,
		StrategyCandidates:     candidates,
	}, nil
}

// LoadAllWindowSeries fetches every Window's series in [from, to], keyed by
// ConditionID. This powers the papertrade replay, which needs the raw
// series Run() already walks internally but doesn't surface on Result.
func (a *Analyzer) LoadAllWindowSeries(ctx context.Context, from, to time.Time, cexSymbol, oracleSymbol, upSymbol, downSymbol sample.Symbol) (map[string]WindowSeries, error) {
	baselines, err := a.store.Scan(ctx, sample.Baseline, oracleSymbol, sample.Anchor, from, to, maxScanRows, store.Asc)
	if err != nil {
		return nil, fmt.Errorf("scan baselines: %w", err)
	}

	out := make(map[string]WindowSeries, len(baselines))
	for _, baseline := range baselines {
		if baseline.ConditionID == "" || baseline.MarketSlug == "" {
			continue
		}
		series, err := a.loadWindowSeries(ctx, baseline, cexSymbol, oracleSymbol, upSymbol, downSymbol)
		if err != nil {
			return nil, fmt.Errorf("load window series for %s: %w", baseline.ConditionID, err)
		}
		out[baseline.ConditionID] = series
	}
	return out, nil
}

// loadWindowSeries fetches the six raw series for one Window (spec.md
// §4.4 step 2), constrained to [Window.start, Window.end]. The baseline
// Sample's own ObservedAt equals Window.start, but the Window's end must
// be recovered separately — we derive it as start + 15min since that
// invariant is fixed by spec.md §3.
func (a *Analyzer) loadWindowSeries(ctx context.Context, baseline sample.Sample, cexSymbol, oracleSymbol, upSymbol, downSymbol sample.Symbol) (WindowSeries, error) {
	start := baseline.ObservedAt
	end := start.Add(15 * time.Minute)

	series := WindowSeries{
		ConditionID:   baseline.ConditionID,
		Slug:          baseline.MarketSlug,
		Start:         start,
		End:           end,
		BaselinePrice: baseline.Price,
	}

	fetchers := []struct {
		source sample.Source
		symbol sample.Symbol
		side   sample.Side
		dest   *[]RawSample
	}{
		{sample.CexBook, cexSymbol, sample.Bid, &series.CexBid},
		{sample.OracleLog, oracleSymbol, sample.Oracle, &series.Oracle},
		{sample.MarketBook, upSymbol, sample.Bid, &series.UpBid},
		{sample.MarketBook, upSymbol, sample.Ask, &series.UpAsk},
		{sample.MarketBook, downSymbol, sample.Bid, &series.DownBid},
		{sample.MarketBook, downSymbol, sample.Ask, &series.DownAsk},
	}

	for _, f := range fetchers {
		samples, err := a.store.Scan(ctx, f.source, f.symbol, f.side, start, end, maxScanRows, store.Asc)
		if err != nil {
			return WindowSeries{}, err
		}
		*f.dest = toRawSamples(samples)
	}

	// Oracle price may also arrive via OracleAggregator; merge both
	// sources into a single time-ordered series since the Analyzer treats
	// "the oracle" as one logical feed for delta computation.
	aggSamples, err := a.store.Scan(ctx, sample.OracleAggregator, oracleSymbol, sample.Oracle, start, end, maxScanRows, store.Asc)
	if err != nil {
		return WindowSeries{}, err
	}
	series.Oracle = mergeSortedByTime(series.Oracle, toRawSamples(aggSamples))

	return series, nil
}

func toRawSamples(samples []sample.Sample) []RawSample {
	out := make([]RawSample, len(samples))
	for i, s := range samples {
		out[i] = RawSample{Price: s.Price, ObservedAt: s.ObservedAt}
	}
	return out
}

func mergeSortedByTime(a, b []RawSample) []RawSample {
	out := make([]RawSample, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].ObservedAt.After(b[j].ObservedAt) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
