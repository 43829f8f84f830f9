package makerladder

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDesiredNeverCrosses(t *testing.T) {
	t.Parallel()
	cfg := LadderConfig{Levels: 3, Tick: dec("0.01"), QuoteBothSides: true}

	quotes := Desired("asset-1", dec("0.50"), dec("0.505"), cfg, dec("5"))

	for _, q := range quotes {
		if q.Key.Side == BuySide && q.Price.GreaterThanOrEqual(dec("0.505")) {
			t.Errorf("buy quote %s crosses ask 0.505", q.Price)
		}
		if q.Key.Side == SellSide && q.Price.LessThanOrEqual(dec("0.50")) {
			t.Errorf("sell quote %s crosses bid 0.50", q.Price)
		}
	}
}

func TestDesiredLevelsStepByTick(t *testing.T) {
	t.Parallel()
	cfg := LadderConfig{Levels: 3, Tick: dec("0.01"), QuoteBothSides: false}
	quotes := Desired("asset-1", dec("0.50"), dec("0.52"), cfg, dec("5"))

	if len(quotes) != 3 {
		t.Fatalf("expected 3 buy-only quotes, got %d", len(quotes))
	}
	// safe_bid = min(0.50, 0.52-0.01) = 0.50; decimal.String() drops the
	// trailing zero, so level 0 prints as "0.5".
	want := []string{"0.5", "0.49", "0.48"}
	for i, q := range quotes {
		if q.Price.String() != want[i] {
			t.Errorf("level %d price = %s, want %s", i, q.Price, want[i])
		}
	}
}

func TestDesiredClampsToValidPriceRange(t *testing.T) {
	t.Parallel()
	cfg := LadderConfig{Levels: 5, Tick: dec("0.01"), QuoteBothSides: true}
	quotes := Desired("asset-1", dec("0.02"), dec("0.98"), cfg, dec("5"))

	for _, q := range quotes {
		if q.Price.LessThan(dec("0.01")) || q.Price.GreaterThan(dec("0.99")) {
			t.Errorf("price %s out of [0.01, 0.99] range", q.Price)
		}
	}
}

func TestDesiredQuoteBothSidesOff(t *testing.T) {
	t.Parallel()
	cfg := LadderConfig{Levels: 2, Tick: dec("0.01"), QuoteBothSides: false}
	quotes := Desired("asset-1", dec("0.50"), dec("0.52"), cfg, dec("5"))

	for _, q := range quotes {
		if q.Key.Side != BuySide {
			t.Errorf("expected only BUY quotes when QuoteBothSides=false, got %s", q.Key.Side)
		}
	}
}

func TestDiffComputesPlaceAndCancel(t *testing.T) {
	t.Parallel()
	desired := []DesiredQuote{
		{Key: NewQuoteKey("asset-1", BuySide, dec("0.50")), Price: dec("0.50"), Size: dec("5")},
		{Key: NewQuoteKey("asset-1", BuySide, dec("0.49")), Price: dec("0.49"), Size: dec("5")},
	}
	live := map[QuoteKey]string{
		NewQuoteKey("asset-1", BuySide, dec("0.50")): "order-keep",
		NewQuoteKey("asset-1", BuySide, dec("0.48")): "order-stale",
	}

	toPlace, toCancel := Diff("asset-1", desired, live)

	if len(toPlace) != 1 || toPlace[0].Price.String() != "0.49" {
		t.Errorf("toPlace = %+v, want single 0.49 entry", toPlace)
	}
	if len(toCancel) != 1 || toCancel[0].PriceRounded != "0.48" {
		t.Errorf("toCancel = %+v, want single 0.48 entry", toCancel)
	}
}

func TestDiffIgnoresOtherAssets(t *testing.T) {
	t.Parallel()
	live := map[QuoteKey]string{
		NewQuoteKey("asset-2", BuySide, dec("0.50")): "order-other-asset",
	}
	_, toCancel := Diff("asset-1", nil, live)
	if len(toCancel) != 0 {
		t.Errorf("expected no cancels for a different asset's live orders, got %+v", toCancel)
	}
}

func TestRoundToTickHandlesZeroTick(t *testing.T) {
	t.Parallel()
	price := dec("0.5055")
	if got := roundToTick(price, decimal.Zero); !got.Equal(price) {
		t.Errorf("roundToTick with zero tick should be identity, got %s", got)
	}
}
