package makerladder

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBookBestBidAskRequiresBothSides(t *testing.T) {
	t.Parallel()
	b := NewBook()

	if _, _, ok := b.BestBidAsk("asset-1"); ok {
		t.Fatal("expected ok=false before any update")
	}

	b.UpdateBid("asset-1", dec("0.50"), time.Now())
	if _, _, ok := b.BestBidAsk("asset-1"); ok {
		t.Fatal("expected ok=false with bid only")
	}

	b.UpdateAsk("asset-1", dec("0.52"), time.Now())
	bid, ask, ok := b.BestBidAsk("asset-1")
	if !ok {
		t.Fatal("expected ok=true once both sides observed")
	}
	if !bid.Equal(dec("0.50")) || !ask.Equal(dec("0.52")) {
		t.Errorf("got bid=%s ask=%s, want 0.50/0.52", bid, ask)
	}
}

func TestBookResetDropsState(t *testing.T) {
	t.Parallel()
	b := NewBook()
	b.UpdateBid("asset-1", dec("0.50"), time.Now())
	b.UpdateAsk("asset-1", dec("0.52"), time.Now())

	b.Reset("asset-1")

	if _, _, ok := b.BestBidAsk("asset-1"); ok {
		t.Fatal("expected ok=false after Reset")
	}
}

func TestBookTracksAssetsIndependently(t *testing.T) {
	t.Parallel()
	b := NewBook()
	b.UpdateBid("asset-1", dec("0.50"), time.Now())
	b.UpdateAsk("asset-1", dec("0.52"), time.Now())
	b.UpdateBid("asset-2", dec("0.30"), time.Now())
	b.UpdateAsk("asset-2", dec("0.33"), time.Now())

	bid1, ask1, _ := b.BestBidAsk("asset-1")
	bid2, ask2, _ := b.BestBidAsk("asset-2")

	if bid1.Equal(bid2) || ask1.Equal(ask2) {
		t.Error("expected independent state per asset")
	}
}
