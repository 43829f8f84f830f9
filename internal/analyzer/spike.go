package analyzer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats accumulates counters that are not part of Event/Bucket output but
// are useful operationally — currently just the single-sided mid
// fallback counter flagged in spec.md §9's Open Questions (the source
// falls back to a single-sided price as mid when only one side of the
// book is present; we preserve that behavior but count its occurrences
// so it can be surfaced upward).
type Stats struct {
	SingleSidedMidFallbacks int
}

// DetectEvents walks the CEX bid series for spikes (magnitude + cooldown
// gated) and, for each, joins the oracle delta and both sides' market
// mid-move reactions into an Event (spec.md §4.4 steps 3–5).
func DetectEvents(series WindowSeries, p Params, stats *Stats) []Event {
	var events []Event
	var lastSpikeTime time.Time
	haveLastSpike := false

	for i := 1; i < len(series.CexBid); i++ {
		prev, cur := series.CexBid[i-1], series.CexBid[i]
		delta := cur.Price.Sub(prev.Price)

		if delta.Abs().LessThan(p.SpikeUSD) {
			continue
		}
		if haveLastSpike && cur.ObservedAt.Sub(lastSpikeTime) < p.SpikeCooldownMs {
			continue
		}

		t0 := cur.ObservedAt
		lastSpikeTime = t0
		haveLastSpike = true

		events = append(events, buildEvent(series, p, t0, delta, stats))
	}

	return events
}

func buildEvent(series WindowSeries, p Params, t0 time.Time, binanceDelta decimal.Decimal, stats *Stats) Event {
	e := Event{
		ConditionID:     series.ConditionID,
		T0:              t0,
		BinanceDeltaUSD: binanceDelta,
		Direction:       signOf(binanceDelta),
	}

	if oracleAt, ok := lastAtOrBefore(series.Oracle, t0); ok {
		e.ChainlinkDeltaFromBaselineUSD = oracleAt.Price.Sub(series.BaselinePrice)
		e.HasChainlinkDelta = true
	}

	upMid0, upMid1, upLag, upMoved := firstMidMove(series.UpBid, series.UpAsk, t0, p.ReactionWindowMs, p.Epsilon, stats)
	e.UpMid0, e.UpMid1, e.UpLagMs, e.UpMoved = upMid0, upMid1, upLag, upMoved
	if upMoved {
		e.UpMove = upMid1.Sub(upMid0)
	}

	downMid0, downMid1, downLag, downMoved := firstMidMove(series.DownBid, series.DownAsk, t0, p.ReactionWindowMs, p.Epsilon, stats)
	e.DownMid0, e.DownMid1, e.DownLagMs, e.DownMoved = downMid0, downMid1, downLag, downMoved
	if downMoved {
		e.DownMove = downMid1.Sub(downMid0)
	}

	e.UpAligned = (e.Direction > 0 && e.UpMoved && e.UpMove.IsPositive()) ||
		(e.Direction < 0 && e.UpMoved && e.UpMove.IsNegative())
	e.DownAligned = (e.Direction > 0 && e.DownMoved && e.DownMove.IsNegative()) ||
		(e.Direction < 0 && e.DownMoved && e.DownMove.IsPositive())

	e.RemainingMs = series.End.Sub(t0).Milliseconds()
	e.RemainingBucket = remainingBucket(e.RemainingMs)
	e.DeltaBucket = floorBucketKey(e.ChainlinkDeltaFromBaselineUSD, p.DeltaBucketUSD, e.HasChainlinkDelta)
	e.SpikeBucket = floorBucketKey(e.BinanceDeltaUSD.Abs(), p.SpikeBucketUSD, true)

	return e
}

func signOf(d decimal.Decimal) int {
	switch {
	case d.IsPositive():
		return 1
	case d.IsNegative():
		return -1
	default:
		return 0
	}
}

// lastAtOrBefore returns the last sample with ObservedAt <= t, assuming
// series is sorted ascending by ObservedAt.
func lastAtOrBefore(series []RawSample, t time.Time) (RawSample, bool) {
	var best RawSample
	found := false
	for _, s := range series {
		if s.ObservedAt.After(t) {
			break
		}
		best = s
		found = true
	}
	return best, found
}

// firstMidMove implements spec.md §4.4 step 4's market-reaction walker:
// starting from the running mid at t0 (falling back to whichever side is
// present if only one exists — flagged via stats), advance bid and ask
// indices in merged-timestamp order within (t0, t0+reactionWindow],
// applying simultaneous updates on ties, until the mid has moved by at
// least epsilon from mid0.
func firstMidMove(bids, asks []RawSample, t0 time.Time, reactionWindow time.Duration, epsilon decimal.Decimal, stats *Stats) (mid0, mid1 decimal.Decimal, lagMs int64, moved bool) {
	curBid, haveBid := lastAtOrBefore(bids, t0)
	curAsk, haveAsk := lastAtOrBefore(asks, t0)

	mid0, ok := mid(curBid.Price, curAsk.Price, haveBid, haveAsk)
	if !ok {
		return decimal.Zero, decimal.Zero, 0, false
	}
	if haveBid != haveAsk && stats != nil {
		stats.SingleSidedMidFallbacks++
	}

	deadline := t0.Add(reactionWindow)
	bidIdx := firstIndexAfter(bids, t0)
	askIdx := firstIndexAfter(asks, t0)

	for bidIdx < len(bids) || askIdx < len(asks) {
		var next time.Time
		nextSet := false
		if bidIdx < len(bids) {
			next = bids[bidIdx].ObservedAt
			nextSet = true
		}
		if askIdx < len(asks) {
			if !nextSet || asks[askIdx].ObservedAt.Before(next) {
				next = asks[askIdx].ObservedAt
			}
		}
		if !nextSet && askIdx < len(asks) {
			next = asks[askIdx].ObservedAt
		}
		if next.After(deadline) {
			break
		}

		for bidIdx < len(bids) && !bids[bidIdx].ObservedAt.After(next) {
			curBid, haveBid = bids[bidIdx], true
			bidIdx++
		}
		for askIdx < len(asks) && !asks[askIdx].ObservedAt.After(next) {
			curAsk, haveAsk = asks[askIdx], true
			askIdx++
		}

		curMid, ok := mid(curBid.Price, curAsk.Price, haveBid, haveAsk)
		if !ok {
			continue
		}
		if curMid.Sub(mid0).Abs().GreaterThanOrEqual(epsilon) {
			return mid0, curMid, next.Sub(t0).Milliseconds(), true
		}
	}

	return mid0, decimal.Zero, 0, false
}

func mid(bid, ask decimal.Decimal, haveBid, haveAsk bool) (decimal.Decimal, bool) {
	switch {
	case haveBid && haveAsk:
		return bid.Add(ask).Div(decimal.NewFromInt(2)), true
	case haveBid:
		return bid, true
	case haveAsk:
		return ask, true
	default:
		return decimal.Zero, false
	}
}

func firstIndexAfter(series []RawSample, t time.Time) int {
	for i, s := range series {
		if s.ObservedAt.After(t) {
			return i
		}
	}
	return len(series)
}

func remainingBucket(remainingMs int64) string {
	switch {
	case remainingMs < 30_000:
		return Remaining0To30s
	case remainingMs < 60_000:
		return Remaining30To60s
	case remainingMs < 120_000:
		return Remaining60To120s
	case remainingMs < 300_000:
		return Remaining120To300s
	case remainingMs < 600_000:
		return Remaining300To600s
	default:
		return Remaining600sPlus
	}
}

// floorBucketKey computes floor(value/bucketSize)*bucketSize and renders
// it as a half-open "[lo..hi)" string key. Returns "unknown" if the value
// is not available (no chainlink delta, e.g.).
func floorBucketKey(value, bucketSize decimal.Decimal, has bool) string {
	if !has || bucketSize.IsZero() {
		return "unknown"
	}
	quotient := value.Div(bucketSize).Floor()
	lo := quotient.Mul(bucketSize)
	hi := lo.Add(bucketSize)
	return "[" + lo.String() + ".." + hi.String() + ")"
}
