package feedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"btc15m-edge/internal/health"
	"btc15m-edge/pkg/sample"
)

const (
	marketBookPingInterval = 50 * time.Second
	marketBookReadTimeout  = 90 * time.Second
	marketBookWriteTimeout = 10 * time.Second
)

// marketBookSubscribeMsg is the initial subscription sent on connect.
type marketBookSubscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// marketBookUpdateMsg adjusts the live subscription set after connect.
type marketBookUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids"`
	Operation string   `json:"operation"`
}

// bookLevel is one price/size pair in a snapshot.
type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookSnapshotFrame is the full-depth snapshot sent on (re)subscribe.
type bookSnapshotFrame struct {
	EventType string      `json:"event_type"`
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Timestamp string      `json:"timestamp"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
}

// priceChange is one entry inside a price_change delta frame.
type priceChange struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// priceChangeFrame is the incremental book-delta frame.
type priceChangeFrame struct {
	EventType    string        `json:"event_type"`
	Market       string        `json:"market"`
	Timestamp    string        `json:"timestamp"`
	PriceChanges []priceChange `json:"price_changes"`
}

// BinaryMarketBook streams one binary market's CLOB order book (both the
// UP and DOWN asset) over the market WebSocket channel, grounded on the
// teacher's exchange/ws.go dial/subscribe/dispatch shape and the wire
// frame shapes observed in the RTDS handler example (book snapshot +
// price_changes delta, "INVALID OPERATION" benign text frame, PING/PONG).
type BinaryMarketBook struct {
	url    string
	logger *slog.Logger

	out     chan sample.Sample
	tracker *health.Tracker

	mu           sync.Mutex
	conn         *websocket.Conn
	subscribed   map[string]bool        // asset IDs
	assetSymbol  map[string]sample.Symbol
	assetMarket  map[string]string // asset ID -> condition ID (for samples' MarketSlug/ConditionID)
}

// NewBinaryMarketBook creates a feed client for the market channel.
func NewBinaryMarketBook(wsURL string, logger *slog.Logger) *BinaryMarketBook {
	return &BinaryMarketBook{
		url:         wsURL,
		logger:      logger.With("component", "feed_market_book"),
		out:         make(chan sample.Sample, 512),
		tracker:     health.NewTracker("binary_market_book"),
		subscribed:  make(map[string]bool),
		assetSymbol: make(map[string]sample.Symbol),
		assetMarket: make(map[string]string),
	}
}

func (f *BinaryMarketBook) Samples() <-chan sample.Sample { return f.out }
func (f *BinaryMarketBook) Health() health.Snapshot        { return f.tracker.Get() }

// RegisterAsset tells the feed which Symbol (MARKET_UP / MARKET_DOWN) an
// asset ID maps to. Discovery calls this before/alongside Subscribe since
// the wire protocol identifies assets only by opaque token ID.
func (f *BinaryMarketBook) RegisterAsset(assetID, conditionID string, symbol sample.Symbol) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assetSymbol[assetID] = symbol
	f.assetMarket[assetID] = conditionID
}

// Subscribe adds an asset ID to the live subscription, sending an
// "subscribe" operation message if already connected.
func (f *BinaryMarketBook) Subscribe(assetID, conditionID string) error {
	f.mu.Lock()
	f.subscribed[assetID] = true
	if conditionID != "" {
		f.assetMarket[assetID] = conditionID
	}
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return nil // picked up by the next connectAndRead's initial subscribe
	}
	return f.writeJSON(marketBookUpdateMsg{AssetIDs: []string{assetID}, Operation: "subscribe"})
}

// Unsubscribe removes an asset ID from the live subscription.
func (f *BinaryMarketBook) Unsubscribe(assetID string) error {
	f.mu.Lock()
	delete(f.subscribed, assetID)
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return nil
	}
	return f.writeJSON(marketBookUpdateMsg{AssetIDs: []string{assetID}, Operation: "unsubscribe"})
}

func (f *BinaryMarketBook) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

func (f *BinaryMarketBook) Start(ctx context.Context) error {
	return runWithReconnect(ctx, "binary_market_book", f.connectAndRead)
}

func (f *BinaryMarketBook) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		f.tracker.RecordError(err)
		return fmt.Errorf("dial: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	f.tracker.SetConnected(true)
	defer func() {
		f.mu.Lock()
		conn.Close()
		f.conn = nil
		f.mu.Unlock()
		f.tracker.SetConnected(false)
	}()

	if err := f.writeJSON(marketBookSubscribeMsg{Type: "market", AssetIDs: ids}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(marketBookReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.tracker.RecordError(err)
			return fmt.Errorf("read: %w", err)
		}
		f.handleFrame(msg)
	}
}

func (f *BinaryMarketBook) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(marketBookPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

func (f *BinaryMarketBook) handleFrame(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}
	switch trimmed[0] {
	case '{', '[':
	default:
		// "PING"/"PONG" keepalive text frames and the benign
		// "INVALID OPERATION" response to a stale unsubscribe both land
		// here; neither indicates a parse failure.
		text := strings.ToUpper(string(trimmed))
		if text != "PING" && text != "PONG" && text != "INVALID OPERATION" {
			f.tracker.IncParseFailures()
		}
		return
	}

	if trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			f.tracker.IncParseFailures()
			return
		}
		for _, raw := range batch {
			f.handleFrame(raw)
		}
		return
	}

	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		f.tracker.IncParseFailures()
		return
	}

	switch envelope.EventType {
	case "book":
		var snap bookSnapshotFrame
		if err := json.Unmarshal(trimmed, &snap); err != nil {
			f.tracker.IncParseFailures()
			return
		}
		f.handleSnapshot(snap)
	case "price_change":
		var delta priceChangeFrame
		if err := json.Unmarshal(trimmed, &delta); err != nil {
			f.tracker.IncParseFailures()
			return
		}
		f.handleDelta(delta)
	default:
		// last_trade_price, tick_size_change, best_bid_ask etc: not part
		// of the sample model, intentionally ignored.
	}
	f.tracker.Tick()
}

func (f *BinaryMarketBook) handleSnapshot(snap bookSnapshotFrame) {
	symbol, conditionID, ok := f.resolve(snap.AssetID)
	if !ok {
		return
	}
	observedAt := parseMillisString(snap.Timestamp)

	if len(snap.Bids) > 0 {
		if price, err := decimal.NewFromString(bestOf(snap.Bids)); err == nil {
			f.emit(symbol, sample.Bid, price, observedAt, conditionID, snap.AssetID, snap.Market)
		}
	}
	if len(snap.Asks) > 0 {
		if price, err := decimal.NewFromString(bestOf(snap.Asks)); err == nil {
			f.emit(symbol, sample.Ask, price, observedAt, conditionID, snap.AssetID, snap.Market)
		}
	}
}

// bestOf returns the best (highest bid / lowest ask — here, simply the
// first) level's price string; callers pass bids or asks as already
// ordered by the venue.
func bestOf(levels []bookLevel) string {
	return levels[0].Price
}

func (f *BinaryMarketBook) handleDelta(delta priceChangeFrame) {
	observedAt := parseMillisString(delta.Timestamp)
	for _, change := range delta.PriceChanges {
		symbol, conditionID, ok := f.resolve(change.AssetID)
		if !ok {
			continue
		}

		if change.BestBid != "" {
			if price, err := decimal.NewFromString(change.BestBid); err == nil {
				f.emit(symbol, sample.Bid, price, observedAt, conditionID, change.AssetID, delta.Market)
			}
		}
		if change.BestAsk != "" {
			if price, err := decimal.NewFromString(change.BestAsk); err == nil {
				f.emit(symbol, sample.Ask, price, observedAt, conditionID, change.AssetID, delta.Market)
			}
		}

		if change.Price != "" && change.Size != "" {
			if price, err := decimal.NewFromString(change.Price); err == nil {
				f.emitTrade(symbol, price, change.Size, observedAt, conditionID, change.AssetID, delta.Market)
			}
		}
	}
}

func (f *BinaryMarketBook) resolve(assetID string) (sample.Symbol, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbol, ok := f.assetSymbol[assetID]
	if !ok {
		return "", "", false
	}
	return symbol, f.assetMarket[assetID], true
}

// tradeExtra carries price_changes[].size verbatim on the Sample's Extra
// blob (Open Question decision: stored as an opaque decimal, never
// interpreted as base/quote units).
type tradeExtra struct {
	Size string `json:"size"`
}

// marketPriceInDomain enforces the §3/§7 invariant that a binary-market
// price lies in the open interval (0,1); anything else is a malformed or
// out-of-range frame and must be discarded rather than stored.
func marketPriceInDomain(price decimal.Decimal) bool {
	return price.IsPositive() && price.LessThan(decimal.NewFromInt(1))
}

func (f *BinaryMarketBook) emit(symbol sample.Symbol, side sample.Side, price decimal.Decimal, observedAt time.Time, conditionID, assetID, market string) {
	if !marketPriceInDomain(price) {
		f.tracker.IncParseFailures()
		return
	}
	select {
	case f.out <- sample.Sample{
		Source:      sample.MarketBook,
		Symbol:      symbol,
		Side:        side,
		Price:       price,
		ObservedAt:  observedAt,
		ConditionID: conditionID,
		AssetID:     assetID,
		MarketSlug:  market,
	}:
	default:
		f.logger.Warn("market book channel full, dropping", "asset_id", assetID)
	}
}

// emitTrade emits a Sample(Trade) for a price_changes entry that carries
// its own price/size (spec.md §4.1), subject to the same (0,1) domain
// check as book quotes.
func (f *BinaryMarketBook) emitTrade(symbol sample.Symbol, price decimal.Decimal, size string, observedAt time.Time, conditionID, assetID, market string) {
	if !marketPriceInDomain(price) {
		f.tracker.IncParseFailures()
		return
	}
	extra, err := json.Marshal(tradeExtra{Size: size})
	if err != nil {
		f.tracker.IncParseFailures()
		return
	}
	select {
	case f.out <- sample.Sample{
		Source:      sample.MarketTrade,
		Symbol:      symbol,
		Side:        sample.Trade,
		Price:       price,
		ObservedAt:  observedAt,
		ConditionID: conditionID,
		AssetID:     assetID,
		MarketSlug:  market,
		Extra:       extra,
	}:
	default:
		f.logger.Warn("market book channel full, dropping trade", "asset_id", assetID)
	}
}

func (f *BinaryMarketBook) writeJSON(v any) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("market book: not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(marketBookWriteTimeout))
	return conn.WriteJSON(v)
}

func (f *BinaryMarketBook) writeMessage(msgType int, data []byte) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("market book: not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(marketBookWriteTimeout))
	return conn.WriteMessage(msgType, data)
}

func parseMillisString(s string) time.Time {
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil || ms == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
