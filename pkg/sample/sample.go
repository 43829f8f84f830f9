// Package sample defines the universal record shared across all feeds, the
// time-series store, and the downstream analysis engines. It has no
// dependency on any other internal package, so it can be imported by any
// layer — mirroring the role pkg/types played in the teacher bot.
package sample

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which feed produced a Sample.
type Source string

const (
	CexBook          Source = "CexBook"
	OracleLog        Source = "OracleLog"
	OracleAggregator Source = "OracleAggregator"
	MarketBook       Source = "MarketBook"
	MarketTrade      Source = "MarketTrade"
	Baseline         Source = "Baseline"
)

// Side is the dimension a Sample measures along.
type Side string

const (
	Bid      Side = "Bid"
	Ask      Side = "Ask"
	Trade    Side = "Trade"
	Oracle   Side = "Oracle"
	Anchor   Side = "Baseline"
)

// Symbol labels the instrument a Sample belongs to. CEX and oracle feeds use
// the configured pair label; binary-market feeds use the synthetic per-window
// outcome symbols below.
type Symbol string

const (
	MarketUp   Symbol = "MARKET_UP"
	MarketDown Symbol = "MARKET_DOWN"
)

// Sample is the single normalized record every FeedClient emits and every
// SampleStore row represents.
type Sample struct {
	Source      Source
	Symbol      Symbol
	Side        Side
	Price       decimal.Decimal
	ObservedAt  time.Time
	ConditionID string
	AssetID     string
	MarketSlug  string
	Extra       json.RawMessage
}

// Key returns the composite uniqueness tuple (source, symbol, side,
// observed_at) used by SampleStore to coalesce duplicate inserts.
func (s Sample) Key() (Source, Symbol, Side, time.Time) {
	return s.Source, s.Symbol, s.Side, s.ObservedAt
}

// Window is a single 15-minute market instance.
type Window struct {
	ConditionID string
	Slug        string
	UpTokenID   string
	DownTokenID string
	Start       time.Time
	End         time.Time
}

// Contains reports whether t falls within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Align15m returns the 15-minute wall-clock boundary at-or-before t.
func Align15m(t time.Time) time.Time {
	t = t.UTC()
	quarter := (t.Minute() / 15) * 15
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), quarter, 0, 0, time.UTC)
}
