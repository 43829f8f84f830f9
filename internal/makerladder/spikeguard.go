package makerladder

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SpikeGuardConfig is the tunable CEX-move detector (spec.md §4.6/§6).
type SpikeGuardConfig struct {
	SpikeUSD   decimal.Decimal
	WindowMs   time.Duration
	CooldownMs time.Duration
}

// priceAnchor is the rolling reference point the spike guard compares
// new ticks against, adapted from the teacher's risk.Manager
// checkPriceMovement rolling-anchor detector (absolute-USD threshold
// instead of percentage, single global CEX feed instead of per-market
// mid-price).
type priceAnchor struct {
	price     decimal.Decimal
	at        time.Time
	hasAnchor bool
}

// SpikeGuard watches the CEX tick stream for fast moves and holds a
// mass-cancel gate open for CooldownMs after any trip.
type SpikeGuard struct {
	cfg    SpikeGuardConfig
	logger *slog.Logger

	mu            sync.Mutex
	anchor        priceAnchor
	spikeUntil    time.Time
	tripped       bool
	lastTripPrice decimal.Decimal
}

// NewSpikeGuard creates a SpikeGuard with the given config.
func NewSpikeGuard(cfg SpikeGuardConfig, logger *slog.Logger) *SpikeGuard {
	return &SpikeGuard{cfg: cfg, logger: logger.With("component", "spikeguard")}
}

// Observe feeds a new CEX price tick. It resets the rolling anchor once
// it ages out of WindowMs, and extends the cancel gate
// (spike_until_ts = max(spike_until_ts, t + cooldown_ms)) whenever the
// move from the current anchor meets SpikeUSD.
func (g *SpikeGuard) Observe(price decimal.Decimal, at time.Time) (tripped bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.anchor.hasAnchor || at.Sub(g.anchor.at) > g.cfg.WindowMs {
		g.anchor = priceAnchor{price: price, at: at, hasAnchor: true}
		return false
	}

	delta := price.Sub(g.anchor.price).Abs()
	if delta.LessThan(g.cfg.SpikeUSD) {
		return false
	}

	until := at.Add(g.cfg.CooldownMs)
	if until.After(g.spikeUntil) {
		g.spikeUntil = until
	}
	g.tripped = true
	g.lastTripPrice = price
	g.logger.Warn("spike guard tripped",
		"delta_usd", delta.String(),
		"spike_until", g.spikeUntil,
	)

	// Move the anchor forward so a sustained trend doesn't re-trip on
	// every subsequent tick still within the old window.
	g.anchor = priceAnchor{price: price, at: at, hasAnchor: true}
	return true
}

// Active reports whether the mass-cancel gate is currently open at t.
func (g *SpikeGuard) Active(t time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return t.Before(g.spikeUntil)
}

// Until returns the current cancel-gate expiry.
func (g *SpikeGuard) Until() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spikeUntil
}
