package makerladder

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSpikeGuard() *SpikeGuard {
	return NewSpikeGuard(SpikeGuardConfig{
		SpikeUSD:   decimal.NewFromInt(6),
		WindowMs:   250 * time.Millisecond,
		CooldownMs: 1200 * time.Millisecond,
	}, testLogger())
}

// Scenario 6 from spec.md: CEX (t=0, 60000), (t=200, 60007) with
// spike_usd=6, spike_window_ms=250, spike_cooldown_ms=1200. From t=200 to
// t=1400, reconciliation must cancel-only; at t=1400+ε it resumes.
func TestSpikeGuardTripsAndExpires(t *testing.T) {
	t.Parallel()
	g := newTestSpikeGuard()
	base := time.Now()

	if tripped := g.Observe(decimal.NewFromInt(60000), base); tripped {
		t.Fatal("first observation should only seed the anchor")
	}
	if g.Active(base) {
		t.Fatal("guard should not be active before any spike")
	}

	t1 := base.Add(200 * time.Millisecond)
	if tripped := g.Observe(decimal.NewFromInt(60007), t1); !tripped {
		t.Fatal("expected trip: delta 7 >= spike_usd 6 within window")
	}

	if !g.Active(t1) {
		t.Fatal("expected guard active immediately after trip")
	}
	if !g.Active(base.Add(1399 * time.Millisecond)) {
		t.Fatal("expected guard active at t=1399ms")
	}
	if g.Active(base.Add(1401 * time.Millisecond)) {
		t.Fatal("expected guard inactive after cooldown expiry")
	}
}

func TestSpikeGuardIgnoresSmallMoves(t *testing.T) {
	t.Parallel()
	g := newTestSpikeGuard()
	base := time.Now()

	g.Observe(decimal.NewFromInt(60000), base)
	tripped := g.Observe(decimal.NewFromInt(60003), base.Add(100*time.Millisecond))
	if tripped {
		t.Fatal("delta of 3 should not trip a spike_usd=6 guard")
	}
	if g.Active(base.Add(100 * time.Millisecond)) {
		t.Fatal("guard should not be active")
	}
}

func TestSpikeGuardResetsAnchorAfterWindowExpires(t *testing.T) {
	t.Parallel()
	g := newTestSpikeGuard()
	base := time.Now()

	g.Observe(decimal.NewFromInt(60000), base)
	// Move from the anchor by 10 but after the window has already elapsed —
	// the anchor resets instead of comparing against the stale price.
	late := base.Add(500 * time.Millisecond)
	if tripped := g.Observe(decimal.NewFromInt(60010), late); tripped {
		t.Fatal("anchor should have reset after window elapsed, no trip expected")
	}
}

func TestSpikeGuardExtendsCooldownOnRepeatedTrips(t *testing.T) {
	t.Parallel()
	g := newTestSpikeGuard()
	base := time.Now()

	g.Observe(decimal.NewFromInt(60000), base)
	g.Observe(decimal.NewFromInt(60007), base.Add(100*time.Millisecond))
	firstUntil := g.Until()

	// A second trip shortly after should extend, never shrink, the gate.
	g.Observe(decimal.NewFromInt(60015), base.Add(150*time.Millisecond))
	secondUntil := g.Until()

	if secondUntil.Before(firstUntil) {
		t.Errorf("spike_until_ts must never move backward: first=%v second=%v", firstUntil, secondUntil)
	}
}
