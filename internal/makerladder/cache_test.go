package makerladder

import "testing"

func TestLiveOrderCachePutHasRemove(t *testing.T) {
	t.Parallel()
	c := NewLiveOrderCache()
	key := NewQuoteKey("asset-1", BuySide, dec("0.50"))

	if c.Has(key) {
		t.Fatal("expected Has=false before Put")
	}
	c.Put(key, "order-1")
	if !c.Has(key) {
		t.Fatal("expected Has=true after Put")
	}
	c.Remove(key)
	if c.Has(key) {
		t.Fatal("expected Has=false after Remove")
	}
}

func TestLiveOrderCacheRemoveByOrderID(t *testing.T) {
	t.Parallel()
	c := NewLiveOrderCache()
	key := NewQuoteKey("asset-1", SellSide, dec("0.60"))
	c.Put(key, "order-xyz")

	got, ok := c.RemoveByOrderID("order-xyz")
	if !ok {
		t.Fatal("expected found=true")
	}
	if got != key {
		t.Errorf("got key %+v, want %+v", got, key)
	}
	if c.Has(key) {
		t.Error("expected entry removed")
	}

	if _, ok := c.RemoveByOrderID("order-xyz"); ok {
		t.Error("expected found=false on second removal")
	}
}

func TestLiveOrderCacheRemoveAllForAsset(t *testing.T) {
	t.Parallel()
	c := NewLiveOrderCache()
	c.Put(NewQuoteKey("asset-1", BuySide, dec("0.50")), "o1")
	c.Put(NewQuoteKey("asset-1", SellSide, dec("0.55")), "o2")
	c.Put(NewQuoteKey("asset-2", BuySide, dec("0.30")), "o3")

	c.RemoveAllForAsset("asset-1")

	snap := c.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(snap))
	}
	for k := range snap {
		if k.AssetID != "asset-2" {
			t.Errorf("unexpected surviving asset %s", k.AssetID)
		}
	}
}

func TestQuoteKeyEqualForSamePriceScale(t *testing.T) {
	t.Parallel()
	k1 := NewQuoteKey("asset-1", BuySide, dec("0.50"))
	k2 := NewQuoteKey("asset-1", BuySide, dec("0.50"))
	if k1 != k2 {
		t.Errorf("expected identical QuoteKeys, got %+v vs %+v", k1, k2)
	}
}
