package makerladder

import (
	"sync"

	"github.com/shopspring/decimal"
)

// QuoteKey normalizes a resting quote's identity to (asset_id, side,
// price_rounded) per spec.md §4.6.
type QuoteKey struct {
	AssetID      string
	Side         QuoteSide
	PriceRounded string // decimal.String() of the tick-rounded price
}

// QuoteSide is BUY or SELL.
type QuoteSide string

const (
	BuySide  QuoteSide = "BUY"
	SellSide QuoteSide = "SELL"
)

func NewQuoteKey(assetID string, side QuoteSide, price decimal.Decimal) QuoteKey {
	return QuoteKey{AssetID: assetID, Side: side, PriceRounded: price.String()}
}

// LiveOrderCache maps a QuoteKey to the resting order's venue ID. It is
// mutated both by the controller's reconciliation loop and by the
// own-order event pump in cmd/makerladder, which runs on its own
// goroutine; a mutex guards every access.
type LiveOrderCache struct {
	mu     sync.RWMutex
	orders map[QuoteKey]string
}

// NewLiveOrderCache creates an empty cache.
func NewLiveOrderCache() *LiveOrderCache {
	return &LiveOrderCache{orders: make(map[QuoteKey]string)}
}

// Put records a Live order.
func (c *LiveOrderCache) Put(key QuoteKey, orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[key] = orderID
}

// Remove deletes an entry, e.g. on a terminal own-order status event.
func (c *LiveOrderCache) Remove(key QuoteKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, key)
}

// RemoveByOrderID deletes whichever entry (if any) holds this order ID —
// used when an own-order event carries an order ID but not its original
// key.
func (c *LiveOrderCache) RemoveByOrderID(orderID string) (QuoteKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, id := range c.orders {
		if id == orderID {
			delete(c.orders, k)
			return k, true
		}
	}
	return QuoteKey{}, false
}

// Has reports whether key currently has a live order.
func (c *LiveOrderCache) Has(key QuoteKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.orders[key]
	return ok
}

// Snapshot returns a copy of all live keys and their order IDs.
func (c *LiveOrderCache) Snapshot() map[QuoteKey]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[QuoteKey]string, len(c.orders))
	for k, v := range c.orders {
		out[k] = v
	}
	return out
}

// RemoveAllForAsset clears every entry for assetID — used by the
// controller after a cancel-by-market call (spike guard, shutdown) has
// cleared the market's resting orders.
func (c *LiveOrderCache) RemoveAllForAsset(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.orders {
		if k.AssetID == assetID {
			delete(c.orders, k)
		}
	}
}
