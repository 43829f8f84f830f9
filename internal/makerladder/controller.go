package makerladder

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// OrderGateway is the subset of exchange.Client the controller needs,
// kept as a narrow interface so the reconciliation loop can be tested
// without a live venue connection.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, assetID string, side QuoteSide, price, size decimal.Decimal) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelOrders(ctx context.Context, orderIDs []string) (canceled []string, err error)
	CancelMarket(ctx context.Context, conditionID string) error
}

// AssetConfig pairs one outcome token with its ladder parameters.
type AssetConfig struct {
	AssetID string
	Ladder  LadderConfig
	Size    decimal.Decimal
}

// Config is the controller's full runtime configuration.
type Config struct {
	ConditionID   string
	Assets        []AssetConfig
	EventDebounce time.Duration
	RefreshEvery  time.Duration
	SpikeGuard    SpikeGuardConfig

	// BurstPlace/BurstCancel cap how many orders reconcile places/cancels
	// in a single tick (spec.md §4.6 step 4). Zero means unlimited.
	BurstPlace  int
	BurstCancel int
}

// Controller runs the event-driven reconciliation loop of spec.md §4.6:
// on every book update it debounces, recomputes the desired ladder, and
// diffs against the LiveOrderCache — placing/cancelling only what
// changed. A tripped SpikeGuard short-circuits straight to a
// cancel-by-market call and skips quoting until the gate closes.
//
// Adapted from the teacher's strategy.Maker.quoteUpdate/reconcileOrders
// ticker-driven single-market loop, generalized to an event-debounced,
// multi-asset, flat-ladder model with an explicit LiveOrderCache instead
// of an in-struct activeOrders map.
type Controller struct {
	cfg    Config
	book   *Book
	cache  *LiveOrderCache
	guard  *SpikeGuard
	gw     OrderGateway
	logger *slog.Logger

	bookEvents chan struct{}
}

// NewController wires a Controller over an existing Book/LiveOrderCache/
// SpikeGuard/OrderGateway.
func NewController(cfg Config, book *Book, cache *LiveOrderCache, guard *SpikeGuard, gw OrderGateway, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		book:       book,
		cache:      cache,
		guard:      guard,
		gw:         gw,
		logger:     logger.With("component", "makerladder", "condition_id", cfg.ConditionID),
		bookEvents: make(chan struct{}, 1),
	}
}

// NotifyBookUpdate signals that a relevant book update occurred. Safe to
// call from any goroutine; non-blocking (coalesces bursts).
func (c *Controller) NotifyBookUpdate() {
	select {
	case c.bookEvents <- struct{}{}:
	default:
	}
}

// Run is the main reconciliation loop. Blocks until ctx is cancelled,
// at which point it cancels every order this controller placed.
func (c *Controller) Run(ctx context.Context) {
	safety := time.NewTicker(c.cfg.RefreshEvery)
	defer safety.Stop()

	var debounce *time.Timer
	debounceFired := make(chan struct{})

	fireDebounce := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(c.cfg.EventDebounce, func() {
			select {
			case debounceFired <- struct{}{}:
			default:
			}
		})
	}

	c.logger.Info("maker-ladder controller started", "assets", len(c.cfg.Assets))

	for {
		select {
		case <-ctx.Done():
			c.cancelAll(context.Background())
			c.logger.Info("maker-ladder controller stopped")
			return

		case <-c.bookEvents:
			fireDebounce()

		case <-debounceFired:
			c.reconcile(ctx)

		case <-safety.C:
			c.reconcile(ctx)
		}
	}
}

// pendingCancel pairs a live cache key with the venue order ID it maps to.
type pendingCancel struct {
	key     QuoteKey
	orderID string
}

// reconcile runs one full pass: spike-guard check, then a diff across
// every asset, capped to at most BurstCancel cancels and BurstPlace
// placements for this tick (spec.md §4.6 step 4). Cancels run before
// placements so a stale quote always clears before its replacement
// goes live.
func (c *Controller) reconcile(ctx context.Context) {
	now := time.Now()
	if c.guard.Active(now) {
		c.logger.Warn("spike guard active, cancelling market and skipping quotes",
			"until", c.guard.Until())
		if err := c.gw.CancelMarket(ctx, c.cfg.ConditionID); err != nil {
			c.logger.Error("cancel-market failed", "error", err)
			return
		}
		for _, a := range c.cfg.Assets {
			c.cache.RemoveAllForAsset(a.AssetID)
		}
		return
	}

	var toPlace []DesiredQuote
	var toCancel []pendingCancel
	placeAsset := make(map[int]string) // index into toPlace -> asset ID

	for _, a := range c.cfg.Assets {
		place, cancel := c.diffAsset(a)
		for _, d := range place {
			placeAsset[len(toPlace)] = a.AssetID
			toPlace = append(toPlace, d)
		}
		toCancel = append(toCancel, cancel...)
	}

	if c.cfg.BurstCancel > 0 && len(toCancel) > c.cfg.BurstCancel {
		c.logger.Debug("burst_cancel cap applied", "candidates", len(toCancel), "cap", c.cfg.BurstCancel)
		toCancel = toCancel[:c.cfg.BurstCancel]
	}
	if c.cfg.BurstPlace > 0 && len(toPlace) > c.cfg.BurstPlace {
		c.logger.Debug("burst_place cap applied", "candidates", len(toPlace), "cap", c.cfg.BurstPlace)
		toPlace = toPlace[:c.cfg.BurstPlace]
	}

	c.cancelBatch(ctx, toCancel)

	for i, d := range toPlace {
		assetID := placeAsset[i]
		orderID, err := c.gw.PlaceOrder(ctx, assetID, d.Key.Side, d.Price, d.Size)
		if err != nil {
			c.logger.Error("place failed",
				"asset_id", assetID, "side", d.Key.Side, "price", d.Price, "error", err)
			continue
		}
		c.cache.Put(d.Key, orderID)
	}
}

// diffAsset computes the desired-vs-live diff for one asset without
// acting on it.
func (c *Controller) diffAsset(a AssetConfig) (toPlace []DesiredQuote, toCancel []pendingCancel) {
	bid, ask, ok := c.book.BestBidAsk(a.AssetID)
	if !ok {
		return nil, nil
	}

	desired := Desired(a.AssetID, bid, ask, a.Ladder, a.Size)
	live := c.cache.Snapshot()
	place, cancel := Diff(a.AssetID, desired, live)

	toPlace = place
	for _, key := range cancel {
		if orderID, ok := live[key]; ok {
			toCancel = append(toCancel, pendingCancel{key: key, orderID: orderID})
		}
	}
	return toPlace, toCancel
}

// cancelBatch prefers a single batch CancelOrders call and falls back to
// per-id CancelOrder on failure (spec.md §4.6 Failure semantics).
func (c *Controller) cancelBatch(ctx context.Context, pending []pendingCancel) {
	if len(pending) == 0 {
		return
	}

	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.orderID
	}

	canceled, err := c.gw.CancelOrders(ctx, ids)
	if err == nil {
		canceledSet := make(map[string]bool, len(canceled))
		for _, id := range canceled {
			canceledSet[id] = true
		}
		for _, p := range pending {
			if canceledSet[p.orderID] {
				c.cache.Remove(p.key)
			}
		}
		return
	}

	c.logger.Warn("batch cancel failed, falling back to per-id cancel", "error", err, "count", len(pending))
	for _, p := range pending {
		if err := c.gw.CancelOrder(ctx, p.orderID); err != nil {
			c.logger.Error("cancel failed", "asset_id", p.key.AssetID, "error", err)
			continue
		}
		c.cache.Remove(p.key)
	}
}

func (c *Controller) cancelAll(ctx context.Context) {
	if err := c.gw.CancelMarket(ctx, c.cfg.ConditionID); err != nil {
		c.logger.Error("shutdown cancel-market failed", "error", err)
		return
	}
	for _, a := range c.cfg.Assets {
		c.cache.RemoveAllForAsset(a.AssetID)
	}
}
