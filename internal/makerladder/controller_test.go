package makerladder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeGateway struct {
	mu            sync.Mutex
	placed        []string // assetID:side:price
	cancelled     []string
	marketCancels []string
	nextID        int
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, assetID string, side QuoteSide, price, size decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.placed = append(f.placed, assetID+":"+string(side)+":"+price.String())
	return "order-" + price.String(), nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeGateway) CancelOrders(ctx context.Context, orderIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderIDs...)
	return orderIDs, nil
}

func (f *fakeGateway) CancelMarket(ctx context.Context, conditionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCancels = append(f.marketCancels, conditionID)
	return nil
}

func newTestController(gw *fakeGateway, book *Book, cache *LiveOrderCache, guard *SpikeGuard) *Controller {
	cfg := Config{
		ConditionID: "cond-1",
		Assets: []AssetConfig{
			{AssetID: "asset-1", Ladder: LadderConfig{Levels: 1, Tick: dec("0.01"), QuoteBothSides: false}, Size: dec("5")},
		},
		EventDebounce: 5 * time.Millisecond,
		RefreshEvery:  time.Hour,
		SpikeGuard:    SpikeGuardConfig{SpikeUSD: dec("6"), WindowMs: 250 * time.Millisecond, CooldownMs: 1200 * time.Millisecond},
	}
	return NewController(cfg, book, cache, guard, gw, testLogger())
}

func TestControllerReconcilePlacesDesiredQuotes(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	book := NewBook()
	cache := NewLiveOrderCache()
	guard := newTestSpikeGuard()

	book.UpdateBid("asset-1", dec("0.50"), time.Now())
	book.UpdateAsk("asset-1", dec("0.52"), time.Now())

	c := newTestController(gw, book, cache, guard)
	c.reconcile(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.placed) != 1 {
		t.Fatalf("expected 1 placement, got %d: %v", len(gw.placed), gw.placed)
	}
	if len(cache.Snapshot()) != 1 {
		t.Errorf("expected 1 live order cached, got %d", len(cache.Snapshot()))
	}
}

func TestControllerReconcileSkipsAssetWithoutBook(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	book := NewBook()
	cache := NewLiveOrderCache()
	guard := newTestSpikeGuard()

	c := newTestController(gw, book, cache, guard)
	c.reconcile(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.placed) != 0 {
		t.Errorf("expected no placements without a book, got %v", gw.placed)
	}
}

func TestControllerSpikeGuardActiveCancelsMarketOnly(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	book := NewBook()
	cache := NewLiveOrderCache()
	guard := newTestSpikeGuard()

	book.UpdateBid("asset-1", dec("0.50"), time.Now())
	book.UpdateAsk("asset-1", dec("0.52"), time.Now())
	cache.Put(NewQuoteKey("asset-1", BuySide, dec("0.50")), "pre-existing-order")

	now := time.Now()
	guard.Observe(dec("60000"), now)
	guard.Observe(dec("60010"), now.Add(10*time.Millisecond)) // trips

	c := newTestController(gw, book, cache, guard)
	c.reconcile(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.marketCancels) != 1 {
		t.Fatalf("expected 1 cancel-by-market call, got %d", len(gw.marketCancels))
	}
	if len(gw.placed) != 0 {
		t.Errorf("expected no placements while spike guard active, got %v", gw.placed)
	}
	if len(cache.Snapshot()) != 0 {
		t.Errorf("expected cache cleared for the asset, got %v", cache.Snapshot())
	}
}

func TestControllerBurstPlaceCapsPlacementsPerTick(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	book := NewBook()
	cache := NewLiveOrderCache()
	guard := newTestSpikeGuard()

	book.UpdateBid("asset-1", dec("0.50"), time.Now())
	book.UpdateAsk("asset-1", dec("0.54"), time.Now())

	cfg := Config{
		ConditionID: "cond-1",
		Assets: []AssetConfig{
			{AssetID: "asset-1", Ladder: LadderConfig{Levels: 3, Tick: dec("0.01"), QuoteBothSides: true}, Size: dec("5")},
		},
		EventDebounce: 5 * time.Millisecond,
		RefreshEvery:  time.Hour,
		BurstPlace:    2,
		SpikeGuard:    SpikeGuardConfig{SpikeUSD: dec("6"), WindowMs: 250 * time.Millisecond, CooldownMs: 1200 * time.Millisecond},
	}
	c := NewController(cfg, book, cache, guard, gw, testLogger())
	c.reconcile(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.placed) != 2 {
		t.Fatalf("expected burst_place to cap placements at 2, got %d: %v", len(gw.placed), gw.placed)
	}
}

func TestControllerCancelAllOnShutdown(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	book := NewBook()
	cache := NewLiveOrderCache()
	guard := newTestSpikeGuard()
	cache.Put(NewQuoteKey("asset-1", BuySide, dec("0.50")), "o1")

	c := newTestController(gw, book, cache, guard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.marketCancels) != 1 {
		t.Fatalf("expected shutdown to cancel-by-market, got %d calls", len(gw.marketCancels))
	}
}
