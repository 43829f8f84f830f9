// Package analyzer joins raw CEX/oracle/market-book samples into
// spike→reaction Events, buckets them along three discretized
// dimensions, and scores strategy candidates — spec.md §4.4. Every
// function here is pure (store reads happen only in analyzer.go's
// orchestration layer) so the algorithm itself is trivially testable
// without a database.
package analyzer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Params are the tunable thresholds of one analysis run (spec.md §4.4).
type Params struct {
	SpikeUSD         decimal.Decimal
	ReactionWindowMs time.Duration
	DeltaBucketUSD   decimal.Decimal
	SpikeBucketUSD   decimal.Decimal
	SpikeCooldownMs  time.Duration
	Epsilon          decimal.Decimal
	MinN             int
	OrderP95Ms       time.Duration // 0 = not supplied
	SafetyMs         time.Duration
}

// RawSample is a minimal (price, time) pair — the series shape the
// bucketing/spike-detection code operates on, decoupled from the store's
// full Sample record.
type RawSample struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// WindowSeries holds the six raw series for one Window plus its baseline,
// fetched by analyzer.go ahead of calling DetectEvents.
type WindowSeries struct {
	ConditionID string
	Slug        string
	Start       time.Time
	End         time.Time
	BaselinePrice decimal.Decimal

	CexBid    []RawSample
	Oracle    []RawSample
	UpBid     []RawSample
	UpAsk     []RawSample
	DownBid   []RawSample
	DownAsk   []RawSample
}

// RemainingBucket labels per spec.md §4.4.
const (
	Remaining0To30s    = "0..30s"
	Remaining30To60s   = "30..60s"
	Remaining60To120s  = "60..120s"
	Remaining120To300s = "120..300s"
	Remaining300To600s = "300..600s"
	Remaining600sPlus  = "600s+"
)

// Event is one qualifying CEX transition joined with its oracle and
// market-book reactions.
type Event struct {
	ConditionID string
	T0          time.Time

	BinanceDeltaUSD decimal.Decimal
	Direction       int // sign(BinanceDeltaUSD): -1, 0, +1

	ChainlinkDeltaFromBaselineUSD decimal.Decimal
	HasChainlinkDelta             bool

	UpMid0   decimal.Decimal
	UpMid1   decimal.Decimal
	UpLagMs  int64
	UpMoved  bool
	UpMove   decimal.Decimal // Mid1 - Mid0, zero if !UpMoved

	DownMid0  decimal.Decimal
	DownMid1  decimal.Decimal
	DownLagMs int64
	DownMoved bool
	DownMove  decimal.Decimal

	UpAligned   bool
	DownAligned bool

	RemainingMs     int64
	RemainingBucket string

	DeltaBucket string
	SpikeBucket string
}

// BucketKey is the composite key "delta | spike | remaining".
func (e Event) BucketKey() string {
	return e.DeltaBucket + " | " + e.SpikeBucket + " | " + e.RemainingBucket
}

// Bucket holds the per-bucket statistics computed over its member Events.
type Bucket struct {
	Key             string
	DeltaBucket     string
	SpikeBucket     string
	RemainingBucket string

	N int

	UpResponseRate float64
	UpCI95Low      float64
	UpCI95High     float64
	UpAlignedRate  float64
	UpMedianLagMs  float64
	UpMedianMove   float64

	DownResponseRate float64
	DownCI95Low      float64
	DownCI95High     float64
	DownAlignedRate  float64
	DownMedianLagMs  float64
	DownMedianMove   float64

	LiftVsGlobal              float64
	FeasibleForOrderLatency   bool
	HasFeasibility            bool // false if OrderP95Ms not supplied
}

// StrategyCandidate is a surviving, scored Bucket.
type StrategyCandidate struct {
	Bucket
	EdgeScore float64
}

// Result is the full output of one Analyzer invocation.
type Result struct {
	Events                []Event
	Buckets                []Bucket
	GlobalUpResponseRate   float64
	GlobalDownResponseRate float64
	StrategyCandidates     []StrategyCandidate
}
