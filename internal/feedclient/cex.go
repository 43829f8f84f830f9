package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"btc15m-edge/internal/health"
	"btc15m-edge/pkg/sample"
)

// cexTickerFrame is the wire shape of one CEX bookTicker frame:
// {u, s, b, B, a, A, E} — update id, symbol, best bid, best bid qty, best
// ask, best ask qty, event time (ms).
type cexTickerFrame struct {
	Symbol      string `json:"s"`
	BestBid     string `json:"b"`
	BestBidQty  string `json:"B"`
	BestAsk     string `json:"a"`
	BestAskQty  string `json:"A"`
	EventTimeMs int64  `json:"E"`
}

// CexBookTicker streams the CEX best-bid/best-ask tape and throttles output
// per side to at most one sample per SampleInterval unless the price itself
// changed (spec.md §4.1).
type CexBookTicker struct {
	url            string
	symbol         sample.Symbol
	sampleInterval time.Duration
	logger         *slog.Logger

	out     chan sample.Sample
	tracker *health.Tracker

	mu         sync.Mutex
	conn       *websocket.Conn
	lastBid    decimal.Decimal
	lastBidAt  time.Time
	lastAsk    decimal.Decimal
	lastAskAt  time.Time
	haveBid    bool
	haveAsk    bool
}

// NewCexBookTicker creates a CexBookTicker for the given pair.
func NewCexBookTicker(wsURL string, symbol sample.Symbol, sampleInterval time.Duration, logger *slog.Logger) *CexBookTicker {
	return &CexBookTicker{
		url:            wsURL,
		symbol:         symbol,
		sampleInterval: sampleInterval,
		logger:         logger.With("component", "feed_cex"),
		out:            make(chan sample.Sample, 256),
		tracker:        health.NewTracker("cex_book_ticker"),
	}
}

func (f *CexBookTicker) Samples() <-chan sample.Sample { return f.out }
func (f *CexBookTicker) Health() health.Snapshot        { return f.tracker.Get() }
func (f *CexBookTicker) Subscribe(string, string) error { return nil }
func (f *CexBookTicker) Unsubscribe(string) error       { return nil }

func (f *CexBookTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

// Start dials and begins emitting samples, reconnecting on disconnect.
func (f *CexBookTicker) Start(ctx context.Context) error {
	return runWithReconnect(ctx, "cex_book_ticker", f.connectAndRead)
}

func (f *CexBookTicker) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		f.tracker.RecordError(err)
		return fmt.Errorf("dial: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.tracker.SetConnected(true)
	defer func() {
		f.mu.Lock()
		conn.Close()
		f.conn = nil
		f.mu.Unlock()
		f.tracker.SetConnected(false)
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.tracker.RecordError(err)
			return fmt.Errorf("read: %w", err)
		}
		f.handleFrame(msg)
	}
}

func (f *CexBookTicker) handleFrame(data []byte) {
	var frame cexTickerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		f.tracker.IncParseFailures()
		return
	}

	bid, errB := decimal.NewFromString(frame.BestBid)
	ask, errA := decimal.NewFromString(frame.BestAsk)
	if errB != nil && errA != nil {
		f.tracker.IncParseFailures()
		return
	}

	var observedAt time.Time
	if frame.EventTimeMs > 0 {
		observedAt = time.UnixMilli(frame.EventTimeMs).UTC()
	} else {
		observedAt = time.Now().UTC()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if errB == nil {
		f.maybeEmit(sample.Bid, bid, observedAt)
	}
	if errA == nil {
		f.maybeEmit(sample.Ask, ask, observedAt)
	}
	f.tracker.Tick()
}

// maybeEmit throttles output per-side to at most one write every
// sampleInterval unless price changes, whichever occurs first.
func (f *CexBookTicker) maybeEmit(side sample.Side, price decimal.Decimal, observedAt time.Time) {
	var last decimal.Decimal
	var lastAt time.Time
	var have bool

	if side == sample.Bid {
		last, lastAt, have = f.lastBid, f.lastBidAt, f.haveBid
	} else {
		last, lastAt, have = f.lastAsk, f.lastAskAt, f.haveAsk
	}

	changed := !have || !last.Equal(price)
	elapsed := observedAt.Sub(lastAt) >= f.sampleInterval

	if have && !changed && !elapsed {
		return
	}

	select {
	case f.out <- sample.Sample{
		Source:     sample.CexBook,
		Symbol:     f.symbol,
		Side:       side,
		Price:      price,
		ObservedAt: observedAt,
	}:
	default:
		f.logger.Warn("cex sample channel full, dropping", "side", side)
	}

	if side == sample.Bid {
		f.lastBid, f.lastBidAt, f.haveBid = price, observedAt, true
	} else {
		f.lastAsk, f.lastAskAt, f.haveAsk = price, observedAt, true
	}
}
