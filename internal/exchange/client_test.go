package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"btc15m-edge/internal/config"
	"btc15m-edge/internal/makerladder"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

func TestDryRunPlaceOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	id, err := c.PlaceOrder(context.Background(), "asset-1", makerladder.BuySide, decimal.NewFromFloat(0.5), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id == "" {
		t.Error("expected non-empty dry-run order ID")
	}
}

func TestDryRunCancelOrders(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	canceled, err := c.CancelOrders(context.Background(), []string{"order-1", "order-2"})
	if err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
	if len(canceled) != 2 {
		t.Errorf("expected 2 canceled, got %d", len(canceled))
	}
}

func TestDryRunCancelOrdersEmpty(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	canceled, err := c.CancelOrders(context.Background(), nil)
	if err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
	if len(canceled) != 0 {
		t.Errorf("expected 0 canceled, got %d", len(canceled))
	}
}

func TestDryRunCancelOrderSingle(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelOrder(context.Background(), "order-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestDryRunCancelAll(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelAll(context.Background())
	if err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if resp == nil {
		t.Fatal("expected non-nil response")
	}
}

func TestDryRunCancelMarket(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelMarket(context.Background(), "condition-123"); err != nil {
		t.Fatalf("CancelMarket: %v", err)
	}
}

func TestNewClientDryRunFromConfig(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Config{Maker: config.MakerConfig{DryRun: true, OrderGatewayURL: "http://localhost"}}
	auth := &Auth{}
	c := NewClient(cfg, auth, logger)

	if !c.dryRun {
		t.Error("client.dryRun should be true when config.Maker.DryRun is true")
	}
}

func TestClientSatisfiesOrderGateway(t *testing.T) {
	t.Parallel()
	var _ makerladder.OrderGateway = (*Client)(nil)
}
