package feedclient

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"btc15m-edge/internal/health"
	"btc15m-edge/internal/oraclechain"
	"btc15m-edge/pkg/sample"
)

// OracleLogStream follows a Chainlink aggregator via eth_subscribe("logs",
// ...) on AnswerUpdated, with a poll_ms safety-net eth_call of
// latestRoundData() in case the log subscription goes silent — grounded
// on spec.md §4.1's dual log+poll requirement and internal/oraclechain's
// wrapping of the reference listener example.
type OracleLogStream struct {
	rpcURL     string
	aggregator common.Address
	decimals   int32
	symbol     sample.Symbol
	pollEvery  time.Duration
	logger     *slog.Logger

	out     chan sample.Sample
	tracker *health.Tracker

	mu            sync.Mutex
	lastRoundID   *big.Int
	lastAnswer    *big.Int
	client        *oraclechain.Client
}

// NewOracleLogStream creates a feed for the given aggregator contract.
func NewOracleLogStream(rpcURL string, aggregator common.Address, decimals int32, symbol sample.Symbol, pollEvery time.Duration, logger *slog.Logger) *OracleLogStream {
	return &OracleLogStream{
		rpcURL:     rpcURL,
		aggregator: aggregator,
		decimals:   decimals,
		symbol:     symbol,
		pollEvery:  pollEvery,
		logger:     logger.With("component", "feed_oracle_log"),
		out:        make(chan sample.Sample, 64),
		tracker:    health.NewTracker("oracle_log"),
	}
}

func (f *OracleLogStream) Samples() <-chan sample.Sample { return f.out }
func (f *OracleLogStream) Health() health.Snapshot        { return f.tracker.Get() }
func (f *OracleLogStream) Subscribe(string, string) error { return nil }
func (f *OracleLogStream) Unsubscribe(string) error       { return nil }

func (f *OracleLogStream) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		f.client.Close()
		f.client = nil
	}
}

func (f *OracleLogStream) Start(ctx context.Context) error {
	return runWithReconnect(ctx, "oracle_log", f.connectAndRead)
}

func (f *OracleLogStream) connectAndRead(ctx context.Context) error {
	client, err := oraclechain.Dial(ctx, f.rpcURL)
	if err != nil {
		f.tracker.RecordError(err)
		return fmt.Errorf("dial: %w", err)
	}
	f.mu.Lock()
	f.client = client
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		client.Close()
		f.client = nil
		f.mu.Unlock()
	}()

	// Seed from latestRoundData so the first log (or poll tick) can be
	// compared against a known baseline instead of emitting unconditionally.
	if round, err := client.LatestRoundData(ctx, f.aggregator); err == nil {
		f.maybeEmit(round.RoundID, round.Answer, time.Unix(round.UpdatedAt.Int64(), 0).UTC())
	}

	logs, sub, err := client.SubscribeAnswerUpdated(ctx, f.aggregator)
	if err != nil {
		f.tracker.RecordError(err)
		return fmt.Errorf("subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()
	f.tracker.SetConnected(true)
	defer f.tracker.SetConnected(false)

	ticker := time.NewTicker(f.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			f.tracker.RecordError(err)
			return fmt.Errorf("log subscription: %w", err)
		case log := <-logs:
			answer, roundID, err := oraclechain.DecodeAnswerUpdated(log)
			if err != nil {
				f.tracker.IncParseFailures()
				continue
			}
			f.maybeEmit(roundID, answer, time.Now().UTC())
		case <-ticker.C:
			round, err := client.LatestRoundData(ctx, f.aggregator)
			if err != nil {
				f.tracker.RecordError(err)
				continue
			}
			f.maybeEmit(round.RoundID, round.Answer, time.Unix(round.UpdatedAt.Int64(), 0).UTC())
		}
	}
}

// maybeEmit dedupes on round ID / answer: a repeated poll tick that sees
// the same round the log stream already delivered is a no-op, not a
// fresh sample.
func (f *OracleLogStream) maybeEmit(roundID, answer *big.Int, observedAt time.Time) {
	f.mu.Lock()
	if f.lastRoundID != nil && f.lastRoundID.Cmp(roundID) == 0 && f.lastAnswer.Cmp(answer) == 0 {
		f.mu.Unlock()
		return
	}
	f.lastRoundID = roundID
	f.lastAnswer = answer
	f.mu.Unlock()

	price := decimal.NewFromBigInt(answer, -f.decimals)
	if !price.IsPositive() {
		f.tracker.IncParseFailures()
		return
	}

	select {
	case f.out <- sample.Sample{
		Source:     sample.OracleLog,
		Symbol:     f.symbol,
		Side:       sample.Oracle,
		Price:      price,
		ObservedAt: observedAt,
	}:
	default:
		f.logger.Warn("oracle log channel full, dropping")
	}
	f.tracker.Tick()
}
