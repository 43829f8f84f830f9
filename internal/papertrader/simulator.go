package papertrader

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"btc15m-edge/internal/analyzer"
)

const defaultMaxFills = 500

// RunOpts controls output volume, independent of the simulation itself.
type RunOpts struct {
	IncludeFills bool
	MaxFills     int
}

// Simulator replays spec.md §4.5 over a set of Events and their parent
// WindowSeries (keyed by ConditionID, as produced alongside Analyzer's
// event detection).
type Simulator struct {
	params Params
}

// New creates a Simulator with the given parameters.
func New(p Params) *Simulator {
	return &Simulator{params: p}
}

// Run replays every event whose direction != 0 through the entry/exit
// timestamps of spec.md §4.5, against the side's ask (entry) and bid
// (exit) series from its Window.
func (s *Simulator) Run(events []analyzer.Event, seriesByCondition map[string]analyzer.WindowSeries, opts RunOpts) Report {
	report := Report{
		Global:           make(map[Side]SideSummary),
		PerBucketAndSide: make(map[string]SideSummary),
	}
	if opts.MaxFills <= 0 {
		opts.MaxFills = defaultMaxFills
	}

	bucketSideFills := make(map[string][]Fill)
	globalFills := make(map[Side][]Fill)

	for _, e := range events {
		if e.Direction == 0 {
			continue
		}
		series, ok := seriesByCondition[e.ConditionID]
		if !ok {
			continue
		}

		side := Up
		bidSeries, askSeries := series.UpBid, series.UpAsk
		if e.Direction < 0 {
			side = Down
			bidSeries, askSeries = series.DownBid, series.DownAsk
		}

		entryTime := e.T0.Add(s.params.OrderP95Ms)
		exitTime := entryTime.Add(s.params.HoldMs)
		latestExitAllowed := series.End.Add(-s.params.SafetyMs)

		if exitTime.After(latestExitAllowed) {
			report.SkippedTooLate++
			continue
		}

		entrySample, okEntry := firstAtOrAfter(askSeries, entryTime)
		exitSample, okExit := firstAtOrAfter(bidSeries, exitTime)
		if !okEntry || !okExit {
			report.SkippedNoQuote++
			continue
		}

		fee := s.params.FeeBps.
			Div(decimal.NewFromInt(10000)).
			Mul(entrySample.Price.Add(exitSample.Price))
		pnl := exitSample.Price.Sub(entrySample.Price).Sub(fee)
		roi := decimal.Zero
		if entrySample.Price.IsPositive() {
			roi = pnl.Div(entrySample.Price)
		}

		fill := Fill{
			ConditionID: e.ConditionID,
			Side:        side,
			BucketKey:   e.BucketKey(),
			T0:          e.T0,
			EntryTime:   entryTime,
			ExitTime:    exitTime,
			EntryPrice:  entrySample.Price,
			ExitPrice:   exitSample.Price,
			Fee:         fee,
			PnLPerShare: pnl,
			ROI:         roi,
		}

		globalFills[side] = append(globalFills[side], fill)
		bucketSideFills[fill.BucketKey+"|"+string(side)] = append(bucketSideFills[fill.BucketKey+"|"+string(side)], fill)

		if opts.IncludeFills && len(report.Fills) < opts.MaxFills {
			report.Fills = append(report.Fills, fill)
		}
	}

	for side, fills := range globalFills {
		report.Global[side] = summarize(fills)
	}
	for key, fills := range bucketSideFills {
		report.PerBucketAndSide[key] = summarize(fills)
	}

	return report
}

// firstAtOrAfter returns the first sample with ObservedAt >= t via binary
// search, assuming series is sorted ascending by ObservedAt.
func firstAtOrAfter(series []analyzer.RawSample, t time.Time) (analyzer.RawSample, bool) {
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].ObservedAt.Before(t)
	})
	if idx >= len(series) {
		return analyzer.RawSample{}, false
	}
	return series[idx], true
}

func summarize(fills []Fill) SideSummary {
	if len(fills) == 0 {
		return SideSummary{}
	}

	total := decimal.Zero
	wins := 0
	pnls := make([]decimal.Decimal, len(fills))
	roiTotal := decimal.Zero

	for i, f := range fills {
		total = total.Add(f.PnLPerShare)
		roiTotal = roiTotal.Add(f.ROI)
		pnls[i] = f.PnLPerShare
		if f.PnLPerShare.IsPositive() {
			wins++
		}
	}

	n := decimal.NewFromInt(int64(len(fills)))
	return SideSummary{
		Fills:     len(fills),
		AvgPnL:    total.Div(n),
		MedianPnL: medianDecimal(pnls),
		WinRate:   float64(wins) / float64(len(fills)),
		AvgROI:    roiTotal.Div(n),
		TotalPnL:  total,
	}
}

func medianDecimal(xs []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal(nil), xs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
