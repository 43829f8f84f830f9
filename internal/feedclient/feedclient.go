// Package feedclient implements the four FeedClient variants from spec.md
// §4.1. Each maintains a long-lived WebSocket (or chain RPC) subscription,
// parses frames, and emits normalized sample.Sample values on a single
// output channel — grounded on the teacher's exchange/ws.go dial/backoff/
// dispatch-by-event_type shape, generalized from two fixed Polymarket
// channels to four independent feed protocols.
package feedclient

import (
	"context"

	"btc15m-edge/internal/health"
	"btc15m-edge/pkg/sample"
)

// FeedClient is the shared contract every feed variant implements.
type FeedClient interface {
	// Start establishes the connection and begins emitting samples. It
	// blocks until ctx is cancelled or reconnection is exhausted.
	Start(ctx context.Context) error
	// Subscribe adjusts the per-feed subscription set. Only BinaryMarketBook
	// supports a non-trivial implementation; others may no-op.
	Subscribe(assetID string, conditionID string) error
	// Unsubscribe is the inverse of Subscribe.
	Unsubscribe(assetID string) error
	// Samples returns the read-only output channel.
	Samples() <-chan sample.Sample
	// Health returns the current connection/error snapshot.
	Health() health.Snapshot
	// Stop releases resources.
	Stop()
}
