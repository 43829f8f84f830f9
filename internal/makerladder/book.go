// Package makerladder implements the maker-ladder controller of
// spec.md §4.6: an event-driven reconciliation loop that maintains
// resting post-only quotes on both outcome tokens of the active
// Window, with a spike-guard that mass-cancels on fast CEX moves.
//
// Package structure mirrors the teacher's strategy/maker.go +
// market/book.go + risk/manager.go split, generalized from a
// per-market YES/NO book and an Avellaneda-Stoikov quoting formula to
// a per-asset book and a flat multi-level ladder.
package makerladder

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// assetBook is the best-bid/best-ask snapshot for one asset.
type assetBook struct {
	bestBid   decimal.Decimal
	bestAsk   decimal.Decimal
	haveBid   bool
	haveAsk   bool
	updatedAt time.Time
}

// Book tracks the live best-bid/best-ask for every quoted asset,
// concurrency-safe via RWMutex (grounded on the teacher's market/book.go).
type Book struct {
	mu     sync.RWMutex
	assets map[string]*assetBook
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{assets: make(map[string]*assetBook)}
}

// UpdateBid records a new best bid for assetID.
func (b *Book) UpdateBid(assetID string, price decimal.Decimal, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.entry(assetID)
	a.bestBid, a.haveBid, a.updatedAt = price, true, ts
}

// UpdateAsk records a new best ask for assetID.
func (b *Book) UpdateAsk(assetID string, price decimal.Decimal, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.entry(assetID)
	a.bestAsk, a.haveAsk, a.updatedAt = price, true, ts
}

func (b *Book) entry(assetID string) *assetBook {
	a, ok := b.assets[assetID]
	if !ok {
		a = &assetBook{}
		b.assets[assetID] = a
	}
	return a
}

// BestBidAsk returns the current best bid/ask for assetID. ok is false
// unless both sides have been observed at least once.
func (b *Book) BestBidAsk(assetID string) (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, exists := b.assets[assetID]
	if !exists || !a.haveBid || !a.haveAsk {
		return decimal.Zero, decimal.Zero, false
	}
	return a.bestBid, a.bestAsk, true
}

// Reset drops all tracked book state for assetID. Nothing outside the
// tests calls it.
func (b *Book) Reset(assetID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.assets, assetID)
}
