package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"btc15m-edge/internal/store"
	"btc15m-edge/pkg/sample"
)

// BaselineAnchor writes the single Baseline Sample for a Window: the
// oracle price closest to Window.start, preferring OracleAggregator over
// OracleLog when both candidates exist at the same distance (spec.md
// §4.3).
type BaselineAnchor struct {
	store  *store.SampleStore
	logger *slog.Logger
}

// NewBaselineAnchor creates an anchor writer backed by the given store.
func NewBaselineAnchor(st *store.SampleStore, logger *slog.Logger) *BaselineAnchor {
	return &BaselineAnchor{store: st, logger: logger.With("component", "baseline_anchor")}
}

// Anchor ensures exactly one Baseline Sample exists for win. No-op if one
// already exists; if no oracle sample is available yet it writes nothing
// and returns nil. Anchor does not retry by itself, and the recorder calls
// it only when discovery reports a new window, so a window whose call
// found no oracle sample gets no Baseline.
func (a *BaselineAnchor) Anchor(ctx context.Context, win sample.Window, oracleSymbol sample.Symbol) error {
	existing, found, err := a.store.Latest(ctx, sample.Baseline, oracleSymbol, sample.Anchor)
	if err != nil {
		return fmt.Errorf("check existing baseline: %w", err)
	}
	if found && existing.ConditionID == win.ConditionID {
		return nil
	}

	chosen, ok, err := a.nearestOracleSample(ctx, oracleSymbol, win.Start)
	if err != nil {
		return fmt.Errorf("find nearest oracle sample: %w", err)
	}
	if !ok {
		a.logger.Debug("baseline: no oracle sample yet, skipping", "condition_id", win.ConditionID)
		return nil
	}

	baseline := sample.Sample{
		Source:      sample.Baseline,
		Symbol:      oracleSymbol,
		Side:        sample.Anchor,
		Price:       chosen.Price,
		ObservedAt:  win.Start,
		ConditionID: win.ConditionID,
		MarketSlug:  win.Slug,
	}
	if err := a.store.InsertMany(ctx, []sample.Sample{baseline}); err != nil {
		return fmt.Errorf("insert baseline: %w", err)
	}
	a.logger.Info("baseline anchored",
		"condition_id", win.ConditionID, "price", chosen.Price.String(), "source", chosen.Source)
	return nil
}

// nearestOracleSample picks the closer of the nearest OracleAggregator and
// nearest OracleLog sample to t, across both before/after directions,
// preferring OracleAggregator on exact ties.
func (a *BaselineAnchor) nearestOracleSample(ctx context.Context, symbol sample.Symbol, t time.Time) (sample.Sample, bool, error) {
	var candidates []sample.Sample

	for _, source := range []sample.Source{sample.OracleAggregator, sample.OracleLog} {
		before, foundBefore, err := a.store.NearestBefore(ctx, source, symbol, sample.Oracle, t)
		if err != nil {
			return sample.Sample{}, false, err
		}
		if foundBefore {
			candidates = append(candidates, *before)
		}
		after, foundAfter, err := a.store.NearestAfter(ctx, source, symbol, sample.Oracle, t)
		if err != nil {
			return sample.Sample{}, false, err
		}
		if foundAfter {
			candidates = append(candidates, *after)
		}
	}

	if len(candidates) == 0 {
		return sample.Sample{}, false, nil
	}

	best := candidates[0]
	bestDist := absDuration(best.ObservedAt.Sub(t))
	for _, c := range candidates[1:] {
		dist := absDuration(c.ObservedAt.Sub(t))
		switch {
		case dist < bestDist:
			best, bestDist = c, dist
		case dist == bestDist && c.Source == sample.OracleAggregator && best.Source != sample.OracleAggregator:
			best = c
		}
	}
	return best, true, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
