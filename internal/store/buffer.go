package store

import (
	"context"
	"log/slog"
	"time"

	"btc15m-edge/pkg/sample"
)

// Buffer coalesces Samples from multiple FeedClients and flushes them to a
// SampleStore in size- or time-triggered batches. Run is the only goroutine
// through which feed samples reach the store; BaselineAnchor writes its
// Baseline rows to the SampleStore directly.
//
// The tick source is injectable (REDESIGN FLAGS §9: "ambient time-based
// batch flush via interval becomes a tick-driven state machine whose tick
// source is injectable") so tests can drive flush deterministically instead
// of sleeping on a wall-clock ticker.
type Buffer struct {
	store     *SampleStore
	maxBuffer int
	in        chan sample.Sample
	ticks     <-chan time.Time
	stopTick  func()
	logger    *slog.Logger

	pending []sample.Sample
}

// NewBuffer creates a Buffer that flushes into store. If ticks is nil, a
// time.Ticker at flushInterval is created and owned internally.
func NewBuffer(store *SampleStore, maxBuffer int, flushInterval time.Duration, ticks <-chan time.Time, logger *slog.Logger) *Buffer {
	b := &Buffer{
		store:     store,
		maxBuffer: maxBuffer,
		in:        make(chan sample.Sample, maxBuffer*4),
		logger:    logger.With("component", "sample_buffer"),
	}
	if ticks != nil {
		b.ticks = ticks
		b.stopTick = func() {}
	} else {
		t := time.NewTicker(flushInterval)
		b.ticks = t.C
		b.stopTick = t.Stop
	}
	return b
}

// Input returns the channel FeedClients (via a fan-in goroutine, or
// directly) write Samples to.
func (b *Buffer) Input() chan<- sample.Sample { return b.in }

// Run is the dedicated flusher loop. Blocks until ctx is cancelled, then
// performs one best-effort final flush before returning (§5 cancellation
// guarantee: "A final flush on SampleBuffer must be awaited before exit").
func (b *Buffer) Run(ctx context.Context) {
	defer b.stopTick()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background())
			return

		case smp := <-b.in:
			b.pending = append(b.pending, smp)
			if len(b.pending) >= b.maxBuffer {
				b.flush(ctx)
			}

		case <-b.ticks:
			b.flush(ctx)
		}
	}
}

// flush performs a single bulk insert. Per spec.md §4.2, on insert failure
// the batch is dropped (logged), not requeued, to bound memory.
func (b *Buffer) flush(ctx context.Context) {
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil

	if err := b.store.InsertMany(ctx, batch); err != nil {
		b.logger.Error("flush failed, batch dropped", "error", err, "count", len(batch))
		return
	}
	b.logger.Debug("flushed samples", "count", len(batch))
}
