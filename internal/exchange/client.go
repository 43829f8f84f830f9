// Package exchange implements the order-gateway REST client of spec.md §6:
//
//   - PlaceOrder:          POST   /order              — single post-only LIMIT order
//   - CancelOrders:        DELETE /orders              — batch-cancel by ID
//   - CancelAll:           DELETE /cancel-all           — emergency cancel everything
//   - CancelMarket:        DELETE /cancel-market-orders — cancel one market's orders
//   - ListOpenOrders:      GET    /orders               — list resting orders
//
// Every request is rate-limited via per-category TokenBuckets, retried on
// 5xx, and signed with the HMAC scheme in auth.go. Unlike the teacher's
// CLOB client, orders here carry no on-chain maker/taker amounts — the
// gateway accepts human-readable price/size directly (spec.md §6).
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"btc15m-edge/internal/config"
	"btc15m-edge/internal/makerladder"
)

// OrderRequest is the wire payload for a single post-only LIMIT order.
type OrderRequest struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"` // BUY or SELL
	Price   string `json:"price"`
	Size    string `json:"size"`
	Type    string `json:"type"` // always "POST_ONLY_LIMIT"
}

// OrderResponse is the gateway's reply to a PlaceOrder call.
type OrderResponse struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	ErrorMsg string `json:"errorMsg"`
}

// CancelResponse lists which order IDs were actually cancelled.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// OpenOrder is one resting order as reported by ListOpenOrders.
type OpenOrder struct {
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// Client is the order-gateway REST client. It implements
// makerladder.OrderGateway.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

var _ makerladder.OrderGateway = (*Client)(nil)

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Maker.OrderGatewayURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.Maker.DryRun,
		logger: logger.With("component", "exchange"),
	}
}

// PlaceOrder posts a single post-only LIMIT order and returns its venue
// order ID. Satisfies makerladder.OrderGateway.
func (c *Client) PlaceOrder(ctx context.Context, assetID string, side makerladder.QuoteSide, price, size decimal.Decimal) (string, error) {
	if c.dryRun {
		id := fmt.Sprintf("dry-run-%s-%s-%s", assetID, side, price.String())
		c.logger.Info("DRY-RUN: would place order", "asset_id", assetID, "side", side, "price", price, "size", size)
		return id, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	req := OrderRequest{
		AssetID: assetID,
		Side:    string(side),
		Price:   price.String(),
		Size:    size.String(),
		Type:    "POST_ONLY_LIMIT",
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.Headers(http.MethodPost, "/order", string(body))
	if err != nil {
		return "", fmt.Errorf("auth headers: %w", err)
	}

	var result OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(req).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return "", fmt.Errorf("order rejected: %s", result.ErrorMsg)
	}
	return result.OrderID, nil
}

// CancelOrder cancels a single order by ID. Satisfies makerladder.OrderGateway.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.CancelOrders(ctx, []string{orderID})
	return err
}

// CancelOrders batch-cancels orders by ID. Satisfies
// makerladder.OrderGateway — the controller prefers this over repeated
// CancelOrder calls and falls back to per-id cancellation if it fails.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) ([]string, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "count", len(orderIDs))
		return orderIDs, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(orderIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.Headers(http.MethodDelete, "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", "count", len(result.Canceled))
	return result.Canceled, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.Headers(http.MethodDelete, "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelMarket cancels all orders for conditionID. Satisfies
// makerladder.OrderGateway.
func (c *Client) CancelMarket(ctx context.Context, conditionID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", conditionID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"market":"%s"}`, conditionID)
	headers, err := c.auth.Headers(http.MethodDelete, "/cancel-market-orders", body)
	if err != nil {
		return fmt.Errorf("auth headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel market orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ListOpenOrders fetches every currently-resting order. Nothing in this
// module calls it, so the maker ladder does not rebuild its LiveOrderCache
// from it after a restart.
func (c *Client) ListOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.Headers(http.MethodGet, "/orders", "")
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}

	var result []OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}
