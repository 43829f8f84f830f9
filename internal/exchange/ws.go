// ws.go implements the authenticated user WebSocket channel of spec.md §6
// (wss://<venue>/ws/user), used only by the maker-ladder process to
// observe its own order lifecycle. Placement, update and cancellation
// events are all delivered on Events(); cmd/makerladder uses cancellations
// and matched/filled updates to retire LiveOrderCache entries and ignores
// placement events, so an order whose placement HTTP response timed out is
// not added to the cache from here.
//
// Grounded on the teacher's exchange/ws.go WSFeed: same reconnect/ping/
// read-deadline shape, narrowed to the user channel only (the market/book
// channel is feedclient.BinaryMarketBook's job, not this package's).
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"btc15m-edge/internal/health"
)

const (
	userPingInterval = 50 * time.Second
	userReadTimeout  = 90 * time.Second
	userWriteTimeout = 10 * time.Second
	userMaxBackoff   = 30 * time.Second
	userEventBuffer  = 128
)

// OrderEvent is one own-order lifecycle update from the user channel.
type OrderEvent struct {
	EventType string // "placement", "update", "cancellation"
	OrderID   string
	AssetID   string
	Side      string
	Status    string // e.g. "live", "matched", "cancelled"
	Price     string
	SizeLeft  string
}

type userSubscribeMsg struct {
	Type    string            `json:"type"`
	Auth    map[string]string `json:"auth"`
	Markets []string          `json:"markets,omitempty"`
}

type userUpdateMsg struct {
	Operation string   `json:"operation"`
	Markets   []string `json:"markets"`
}

// UserChannel subscribes to the authenticated own-order event stream.
type UserChannel struct {
	url    string
	auth   *Auth
	logger *slog.Logger
	tracker *health.Tracker

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]bool

	events chan OrderEvent
}

// NewUserChannel creates a UserChannel; markets are added with Subscribe.
func NewUserChannel(wsURL string, auth *Auth, logger *slog.Logger) *UserChannel {
	return &UserChannel{
		url:        wsURL,
		auth:       auth,
		logger:     logger.With("component", "exchange_user_channel"),
		tracker:    health.NewTracker("exchange_user_channel"),
		subscribed: make(map[string]bool),
		events:     make(chan OrderEvent, userEventBuffer),
	}
}

// Events returns the read-only stream of own-order lifecycle events.
func (u *UserChannel) Events() <-chan OrderEvent { return u.events }

// Health returns the current connection health snapshot.
func (u *UserChannel) Health() health.Snapshot { return u.tracker.Get() }

// Subscribe adds conditionID to the tracked market set.
func (u *UserChannel) Subscribe(conditionID string) {
	u.mu.Lock()
	u.subscribed[conditionID] = true
	conn := u.conn
	u.mu.Unlock()

	if conn != nil {
		_ = u.writeJSON(userUpdateMsg{Operation: "subscribe", Markets: []string{conditionID}})
	}
}

// Unsubscribe removes conditionID from the tracked market set.
func (u *UserChannel) Unsubscribe(conditionID string) {
	u.mu.Lock()
	delete(u.subscribed, conditionID)
	conn := u.conn
	u.mu.Unlock()

	if conn != nil {
		_ = u.writeJSON(userUpdateMsg{Operation: "unsubscribe", Markets: []string{conditionID}})
	}
}

// Run connects and maintains the user channel, reconnecting with
// doubling backoff, until ctx is cancelled.
func (u *UserChannel) Run(ctx context.Context) error {
	backoff := 500 * time.Millisecond

	for {
		err := u.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		u.tracker.SetConnected(false)
		u.tracker.RecordError(fmt.Errorf("user channel disconnected: %w", err))
		u.logger.Warn("user channel disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > userMaxBackoff {
			backoff = userMaxBackoff
		}
	}
}

func (u *UserChannel) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	u.mu.Lock()
	u.conn = conn
	markets := make([]string, 0, len(u.subscribed))
	for id := range u.subscribed {
		markets = append(markets, id)
	}
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		conn.Close()
		u.conn = nil
		u.mu.Unlock()
	}()

	headers, err := u.auth.WSAuthHeaders()
	if err != nil {
		return fmt.Errorf("auth headers: %w", err)
	}
	if err := u.writeJSON(userSubscribeMsg{Type: "user", Auth: headers, Markets: markets}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	u.tracker.SetConnected(true)
	u.logger.Info("user channel connected", "markets", len(markets))

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go u.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(userReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		u.dispatch(msg)
		u.tracker.Tick()
	}
}

func (u *UserChannel) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
		OrderID   string `json:"id"`
		AssetID   string `json:"asset_id"`
		Side      string `json:"side"`
		Status    string `json:"status"`
		Price     string `json:"price"`
		SizeLeft  string `json:"size_matched"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		u.logger.Debug("ignoring non-json user channel message", "data", string(data))
		return
	}
	switch envelope.EventType {
	case "placement", "update", "cancellation":
		evt := OrderEvent{
			EventType: envelope.EventType,
			OrderID:   envelope.OrderID,
			AssetID:   envelope.AssetID,
			Side:      envelope.Side,
			Status:    envelope.Status,
			Price:     envelope.Price,
			SizeLeft:  envelope.SizeLeft,
		}
		select {
		case u.events <- evt:
		default:
			u.logger.Warn("order event channel full, dropping event", "order_id", evt.OrderID)
		}
	default:
		u.logger.Debug("ignoring user channel event", "type", envelope.EventType)
	}
}

func (u *UserChannel) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(userPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				u.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (u *UserChannel) writeJSON(v interface{}) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return fmt.Errorf("user channel not connected")
	}
	u.conn.SetWriteDeadline(time.Now().Add(userWriteTimeout))
	return u.conn.WriteJSON(v)
}

func (u *UserChannel) writeMessage(msgType int, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return fmt.Errorf("user channel not connected")
	}
	u.conn.SetWriteDeadline(time.Now().Add(userWriteTimeout))
	return u.conn.WriteMessage(msgType, data)
}
