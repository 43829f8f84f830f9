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

const oracleAggPingInterval = 5 * time.Second

type oracleAggSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters"`
}

type oracleAggSubscribeMsg struct {
	Action        string                  `json:"action"`
	Subscriptions []oracleAggSubscription `json:"subscriptions"`
}

// oracleAggUpdateFrame is the wire shape of one reference-push update:
// {symbol, value, payload_timestamp, message_timestamp}.
type oracleAggUpdateFrame struct {
	Symbol            string `json:"symbol"`
	Value             string `json:"value"`
	PayloadTimestamp  int64  `json:"payload_timestamp"`
	MessageTimestamp  int64  `json:"message_timestamp"`
}

// OracleAggregatorStream is the reference oracle push channel (spec.md
// §4.1/§6): subscribes to one topic by symbol, keeps alive with PING/PONG
// text frames every 5s, emits Sample(Oracle) per update with
// observed_at = message_timestamp.
type OracleAggregatorStream struct {
	url    string
	topic  string
	symbol string
	logger *slog.Logger

	out     chan sample.Sample
	tracker *health.Tracker

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewOracleAggregatorStream creates a feed subscribed to topic/symbol.
func NewOracleAggregatorStream(wsURL, topic, symbol string, logger *slog.Logger) *OracleAggregatorStream {
	return &OracleAggregatorStream{
		url:     wsURL,
		topic:   topic,
		symbol:  symbol,
		logger:  logger.With("component", "feed_oracle_agg"),
		out:     make(chan sample.Sample, 64),
		tracker: health.NewTracker("oracle_aggregator"),
	}
}

func (f *OracleAggregatorStream) Samples() <-chan sample.Sample { return f.out }
func (f *OracleAggregatorStream) Health() health.Snapshot        { return f.tracker.Get() }
func (f *OracleAggregatorStream) Subscribe(string, string) error { return nil }
func (f *OracleAggregatorStream) Unsubscribe(string) error       { return nil }

func (f *OracleAggregatorStream) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

func (f *OracleAggregatorStream) Start(ctx context.Context) error {
	return runWithReconnect(ctx, "oracle_aggregator", f.connectAndRead)
}

func (f *OracleAggregatorStream) connectAndRead(ctx context.Context) error {
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

	sub := oracleAggSubscribeMsg{
		Action: "subscribe",
		Subscriptions: []oracleAggSubscription{{
			Topic:   f.topic,
			Type:    "*",
			Filters: fmt.Sprintf(`{"symbol":"%s"}`, f.symbol),
		}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

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

func (f *OracleAggregatorStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(oracleAggPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			f.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

func (f *OracleAggregatorStream) handleFrame(data []byte) {
	text := string(data)
	if text == "PING" {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte("PONG"))
		}
		return
	}
	if text == "PONG" {
		return
	}

	var frame oracleAggUpdateFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		f.tracker.IncParseFailures()
		return
	}

	price, err := decimal.NewFromString(frame.Value)
	if err != nil || !price.IsPositive() {
		f.tracker.IncParseFailures()
		return
	}

	observedAt := time.UnixMilli(frame.MessageTimestamp).UTC()

	select {
	case f.out <- sample.Sample{
		Source:     sample.OracleAggregator,
		Symbol:     sample.Symbol(frame.Symbol),
		Side:       sample.Oracle,
		Price:      price,
		ObservedAt: observedAt,
	}:
	default:
		f.logger.Warn("oracle agg channel full, dropping")
	}
	f.tracker.Tick()
}
