// Package papertrader replays a latency-aware order execution
// simulation over the same spike→reaction events the Analyzer detects
// (spec.md §4.5), grounded on the fee/fill accounting shape of the
// reference paper-trading simulator (GoPolymarket-polymarket-trader's
// internal/paper/simulator.go) — adapted from its market/limit order
// fill logic to this spec's fixed entry/exit-by-timestamp replay.
package papertrader

import (
	"time"

	"github.com/shopspring/decimal"
)

// Params are the tunable papertrade parameters (spec.md §4.5/§6).
type Params struct {
	OrderP95Ms time.Duration
	SafetyMs   time.Duration
	HoldMs     time.Duration
	FeeBps     decimal.Decimal
}

// Side is which outcome token a fill traded.
type Side string

const (
	Up   Side = "UP"
	Down Side = "DOWN"
)

// Fill is one simulated trade: enter at the ask order_p95_ms after the
// spike, exit at the bid hold_ms later.
type Fill struct {
	ConditionID string
	Side        Side
	BucketKey   string
	T0          time.Time
	EntryTime   time.Time
	ExitTime    time.Time
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Fee         decimal.Decimal
	PnLPerShare decimal.Decimal
	ROI         decimal.Decimal
}

// SideSummary aggregates fills for one (bucket, side) or the global side total.
type SideSummary struct {
	Fills     int
	AvgPnL    decimal.Decimal
	MedianPnL decimal.Decimal
	WinRate   float64
	AvgROI    decimal.Decimal
	TotalPnL  decimal.Decimal
}

// Report is the full output of one papertrade replay.
type Report struct {
	Fills           []Fill // only populated when RunOpts.IncludeFills is set; capped at RunOpts.MaxFills
	SkippedTooLate  int
	SkippedNoQuote  int
	Global          map[Side]SideSummary
	PerBucketAndSide map[string]SideSummary // key = bucketKey + "|" + side
}
