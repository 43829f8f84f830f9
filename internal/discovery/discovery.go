// Package discovery resolves the active 15-minute binary-market window
// and anchors its oracle baseline. MarketDiscovery is grounded on the
// teacher's market/scanner.go poll-loop shape (resty client, periodic
// ticker, immediate first scan) re-targeted from "rank many markets" to
// "resolve exactly one window by candidate slug".
package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"btc15m-edge/internal/health"
	"btc15m-edge/pkg/sample"
)

const windowLength = 15 * time.Minute

// catalogMarket is the subset of the venue's market-catalog response we
// need to resolve a candidate slug into a Window.
type catalogMarket struct {
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	ClobTokenIds string `json:"clobTokenIds"` // JSON-encoded ["upID","downID"]
	Outcomes     string `json:"outcomes"`     // JSON-encoded ["Up","Down"]
}

// MarketDiscovery resolves the current 15-minute window by probing the
// venue's market catalog for candidate slugs and caches the result until
// a rollover is detected.
type MarketDiscovery struct {
	http       *resty.Client
	slugPrefix string
	behind     int
	ahead      int
	logger     *slog.Logger
	tracker    *health.Tracker

	mu       sync.RWMutex
	current  *sample.Window
	onChange func(old, new sample.Window)
}

// NewMarketDiscovery creates a resolver against the given catalog base
// URL. behind/ahead are the i range in base + i·15min (spec.md §4.3
// default: 1 behind, 3 ahead, i.e. i ∈ {-1,0,1,2,3}).
func NewMarketDiscovery(catalogBaseURL, slugPrefix string, behind, ahead int, logger *slog.Logger) *MarketDiscovery {
	client := resty.New().
		SetBaseURL(catalogBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &MarketDiscovery{
		http:       client,
		slugPrefix: slugPrefix,
		behind:     behind,
		ahead:      ahead,
		logger:     logger.With("component", "discovery"),
		tracker:    health.NewTracker("discovery"),
	}
}

// Health returns the discovery loop's health snapshot.
func (d *MarketDiscovery) Health() health.Snapshot { return d.tracker.Get() }

// Current returns the cached active window, if any has been resolved.
func (d *MarketDiscovery) Current() (sample.Window, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == nil {
		return sample.Window{}, false
	}
	return *d.current, true
}

// OnChange registers a callback invoked synchronously whenever the
// resolved window changes — the recorder wires this to
// unsubscribe/subscribe the BinaryMarketBook FeedClient and to kick the
// BaselineAnchor.
func (d *MarketDiscovery) OnChange(fn func(old, new sample.Window)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// Run polls immediately, then every interval, until ctx is cancelled.
func (d *MarketDiscovery) Run(ctx context.Context, interval time.Duration) {
	d.probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.probe(ctx)
		}
	}
}

func (d *MarketDiscovery) probe(ctx context.Context) {
	now := time.Now().UTC()
	base := sample.Align15m(now)

	for offset := -d.behind; offset <= d.ahead; offset++ {
		start := base.Add(time.Duration(offset) * windowLength)
		win, ok := d.resolveCandidate(ctx, start)
		if !ok {
			continue
		}
		d.applyIfChanged(win)
		return
	}

	d.logger.Warn("discovery: no candidate resolved this probe", "base", base)
}

func (d *MarketDiscovery) resolveCandidate(ctx context.Context, start time.Time) (sample.Window, bool) {
	slug := d.slugPrefix + strconv.FormatInt(start.Unix(), 10)

	var markets []catalogMarket
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		d.tracker.RecordError(err)
		return sample.Window{}, false
	}
	if resp.StatusCode() != 200 || len(markets) == 0 {
		return sample.Window{}, false
	}

	m := markets[0]
	upID, downID, ok := parseOutcomeTokens(m.Outcomes, m.ClobTokenIds)
	if !ok || m.ConditionID == "" {
		return sample.Window{}, false
	}

	d.tracker.Tick()
	return sample.Window{
		ConditionID: m.ConditionID,
		Slug:        m.Slug,
		UpTokenID:   upID,
		DownTokenID: downID,
		Start:       start,
		End:         start.Add(windowLength),
	}, true
}

// parseOutcomeTokens maps the parallel outcomes/clobTokenIds arrays to
// (up_token_id, down_token_id) by matching the "Up" outcome label.
func parseOutcomeTokens(outcomesJSON, tokenIDsJSON string) (upID, downID string, ok bool) {
	var outcomes []string
	var tokenIDs []string
	if err := json.Unmarshal([]byte(outcomesJSON), &outcomes); err != nil {
		return "", "", false
	}
	if err := json.Unmarshal([]byte(tokenIDsJSON), &tokenIDs); err != nil {
		return "", "", false
	}
	if len(outcomes) != 2 || len(tokenIDs) != 2 {
		return "", "", false
	}

	if isUpLabel(outcomes[0]) {
		return tokenIDs[0], tokenIDs[1], true
	}
	if isUpLabel(outcomes[1]) {
		return tokenIDs[1], tokenIDs[0], true
	}
	return "", "", false
}

func isUpLabel(s string) bool {
	switch s {
	case "Up", "UP", "up", "Yes", "YES", "yes":
		return true
	default:
		return false
	}
}

func (d *MarketDiscovery) applyIfChanged(win sample.Window) {
	d.mu.Lock()
	old := d.current
	changed := old == nil || old.ConditionID != win.ConditionID
	if changed {
		d.current = &win
	}
	onChange := d.onChange
	d.mu.Unlock()

	if !changed || onChange == nil {
		return
	}

	var oldWin sample.Window
	if old != nil {
		oldWin = *old
	}
	d.logger.Info("discovery: window rollover",
		"old_condition_id", oldWin.ConditionID,
		"new_condition_id", win.ConditionID,
		"new_slug", win.Slug,
	)
	onChange(oldWin, win)
}
