package makerladder

import (
	"github.com/shopspring/decimal"
)

var (
	priceFloor = decimal.NewFromFloat(0.01)
	priceCeil  = decimal.NewFromFloat(0.99)
)

// LadderConfig is the per-asset quoting configuration (spec.md §4.6/§6).
type LadderConfig struct {
	Levels         int
	Tick           decimal.Decimal
	QuoteBothSides bool
}

// DesiredQuote is one price level this ladder wants resting.
type DesiredQuote struct {
	Key   QuoteKey
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Desired computes the full set of desired quotes for one asset given
// its current best bid/ask, per spec.md §4.6 step 2:
//
//	safe_bid = min(best_bid, best_ask - tick)
//	safe_ask = max(best_ask, best_bid + tick)
//	for i in 0..levels-1: BUY at round(safe_bid - i*tick), SELL at round(safe_ask + i*tick)
//
// All prices are clamped to [0.01, 0.99]. Desired always builds the full
// ladder; the controller skips an asset whose best_bid/best_ask are not
// both present before calling it.
func Desired(assetID string, bestBid, bestAsk decimal.Decimal, cfg LadderConfig, size decimal.Decimal) []DesiredQuote {
	safeBid := decimal.Min(bestBid, bestAsk.Sub(cfg.Tick))
	safeAsk := decimal.Max(bestAsk, bestBid.Add(cfg.Tick))

	quotes := make([]DesiredQuote, 0, cfg.Levels*2)
	for i := 0; i < cfg.Levels; i++ {
		offset := cfg.Tick.Mul(decimal.NewFromInt(int64(i)))

		buyPrice := clamp(roundToTick(safeBid.Sub(offset), cfg.Tick))
		quotes = append(quotes, DesiredQuote{
			Key:   NewQuoteKey(assetID, BuySide, buyPrice),
			Price: buyPrice,
			Size:  size,
		})

		if cfg.QuoteBothSides {
			sellPrice := clamp(roundToTick(safeAsk.Add(offset), cfg.Tick))
			quotes = append(quotes, DesiredQuote{
				Key:   NewQuoteKey(assetID, SellSide, sellPrice),
				Price: sellPrice,
				Size:  size,
			})
		}
	}
	return quotes
}

// roundToTick rounds price to the nearest multiple of tick.
func roundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	return price.DivRound(tick, 0).Mul(tick)
}

func clamp(price decimal.Decimal) decimal.Decimal {
	if price.LessThan(priceFloor) {
		return priceFloor
	}
	if price.GreaterThan(priceCeil) {
		return priceCeil
	}
	return price
}

// Diff computes to_place/to_cancel between desired and the live cache's
// current snapshot for this asset (spec.md §4.6 step 3).
func Diff(assetID string, desired []DesiredQuote, live map[QuoteKey]string) (toPlace []DesiredQuote, toCancel []QuoteKey) {
	desiredSet := make(map[QuoteKey]bool, len(desired))
	for _, d := range desired {
		desiredSet[d.Key] = true
		if _, ok := live[d.Key]; !ok {
			toPlace = append(toPlace, d)
		}
	}
	for k := range live {
		if k.AssetID != assetID {
			continue
		}
		if !desiredSet[k] {
			toCancel = append(toCancel, k)
		}
	}
	return toPlace, toCancel
}
