package feedclient

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"btc15m-edge/pkg/sample"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestMarketBook() *BinaryMarketBook {
	f := NewBinaryMarketBook("wss://example.invalid", testLogger())
	f.RegisterAsset("asset-up", "cond-1", sample.MarketUp)
	return f
}

func TestEmitDiscardsPriceOutOfDomain(t *testing.T) {
	t.Parallel()
	f := newTestMarketBook()

	f.emit(sample.MarketUp, sample.Bid, decimal.NewFromInt(0), time.Now(), "cond-1", "asset-up", "m1")
	f.emit(sample.MarketUp, sample.Bid, decimal.NewFromInt(1), time.Now(), "cond-1", "asset-up", "m1")
	f.emit(sample.MarketUp, sample.Bid, decimal.NewFromFloat(1.5), time.Now(), "cond-1", "asset-up", "m1")

	select {
	case s := <-f.Samples():
		t.Fatalf("expected no sample for out-of-domain price, got %+v", s)
	default:
	}
}

func TestEmitAcceptsInDomainPrice(t *testing.T) {
	t.Parallel()
	f := newTestMarketBook()

	f.emit(sample.MarketUp, sample.Bid, decimal.NewFromFloat(0.42), time.Now(), "cond-1", "asset-up", "m1")

	select {
	case s := <-f.Samples():
		if !s.Price.Equal(decimal.NewFromFloat(0.42)) {
			t.Errorf("expected price 0.42, got %s", s.Price)
		}
		if s.Source != sample.MarketBook || s.Side != sample.Bid {
			t.Errorf("unexpected source/side: %+v", s)
		}
	default:
		t.Fatal("expected a sample for an in-domain price")
	}
}

func TestHandleDeltaEmitsTradeSample(t *testing.T) {
	t.Parallel()
	f := newTestMarketBook()

	f.handleDelta(priceChangeFrame{
		Market:    "m1",
		Timestamp: "1700000000000",
		PriceChanges: []priceChange{
			{AssetID: "asset-up", Side: "BUY", Price: "0.37", Size: "125.5"},
		},
	})

	var got sample.Sample
	select {
	case got = <-f.Samples():
	default:
		t.Fatal("expected a trade sample to be emitted")
	}
	if got.Source != sample.MarketTrade || got.Side != sample.Trade {
		t.Fatalf("expected MarketTrade/Trade sample, got %+v", got)
	}
	if !got.Price.Equal(decimal.NewFromFloat(0.37)) {
		t.Errorf("expected price 0.37, got %s", got.Price)
	}

	var extra tradeExtra
	if err := json.Unmarshal(got.Extra, &extra); err != nil {
		t.Fatalf("unmarshal extra: %v", err)
	}
	if extra.Size != "125.5" {
		t.Errorf("expected size 125.5 carried verbatim, got %q", extra.Size)
	}
}

func TestHandleDeltaDiscardsTradeOutOfDomain(t *testing.T) {
	t.Parallel()
	f := newTestMarketBook()

	f.handleDelta(priceChangeFrame{
		Market:    "m1",
		Timestamp: "1700000000000",
		PriceChanges: []priceChange{
			{AssetID: "asset-up", Side: "BUY", Price: "1.20", Size: "10"},
		},
	})

	select {
	case s := <-f.Samples():
		t.Fatalf("expected out-of-domain trade to be discarded, got %+v", s)
	default:
	}
}
