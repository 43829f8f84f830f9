package feedclient

import (
	"context"
	"fmt"
	"time"
)

const (
	initialBackoff  = 500 * time.Millisecond
	maxBackoff      = 30 * time.Second
	maxReconnects   = 50
)

// runWithReconnect repeatedly invokes connect until ctx is cancelled or
// maxReconnects attempts are exhausted, applying an exponential backoff that
// doubles from initialBackoff up to maxBackoff — grounded on the teacher's
// exchange/ws.go Run() loop, tightened per spec.md §4.1/§5 ("Reconnect loops
// cap at 50 attempts then surface a fatal error to the supervisor") from the
// teacher's unlimited-retry loop.
func runWithReconnect(ctx context.Context, name string, connect func(ctx context.Context) error) error {
	backoff := initialBackoff

	for attempt := 1; attempt <= maxReconnects; attempt++ {
		err := connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// connect() returning nil without ctx cancellation means the
			// caller intentionally stopped reading; treat as clean exit.
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return fmt.Errorf("%s: exhausted %d reconnect attempts", name, maxReconnects)
}
