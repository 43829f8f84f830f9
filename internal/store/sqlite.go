// Package store provides append-only time-series storage for Samples
// (SampleStore, backed by SQLite — grounded on
// gurre-prime-fix-md-go/database/marketdata.go's WAL-mode + prepared
// statement + transaction-batch pattern), a batching SampleBuffer in front of
// it, and a JSON-file PositionStore adapted from the teacher's
// internal/store/store.go for maker-ladder state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"btc15m-edge/pkg/sample"
)

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	source       TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	price        TEXT NOT NULL,
	observed_at  INTEGER NOT NULL,
	condition_id TEXT,
	asset_id     TEXT,
	market_slug  TEXT,
	extra        TEXT,
	UNIQUE(source, symbol, side, observed_at)
);
CREATE INDEX IF NOT EXISTS idx_samples_ssso ON samples(source, symbol, side, observed_at);
CREATE INDEX IF NOT EXISTS idx_samples_cond  ON samples(condition_id, observed_at);
`

const (
	insertQuery = `INSERT OR IGNORE INTO samples
		(source, symbol, side, price, observed_at, condition_id, asset_id, market_slug, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Order controls scan direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// SampleStore is a SQLite-backed, append-only, time-indexed store for
// Samples. Reads are shared. Feed samples are written by SampleBuffer;
// BaselineAnchor inserts its Baseline rows directly.
type SampleStore struct {
	db          *sql.DB
	stmtInsert  *sql.Stmt
}

// Open creates (or attaches to) the SQLite database at dbPath in WAL mode,
// exactly the mode/pragma combination used by the teacher's FIX market-data
// store: continuous writers, concurrent readers, no per-write fsync stall.
func Open(dbPath string) (*SampleStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("open sample store: %w", err)
	}

	s := &SampleStore{db: db}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if s.stmtInsert, err = db.Prepare(insertQuery); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return s, nil
}

// Close releases the prepared statements and underlying connection.
func (s *SampleStore) Close() error {
	if s.stmtInsert != nil {
		_ = s.stmtInsert.Close()
	}
	return s.db.Close()
}

// InsertMany bulk-inserts samples inside one transaction. Domain-invalid
// prices (per spec.md §7) must already have been filtered by the caller;
// uniqueness-key collisions are silently coalesced via INSERT OR IGNORE.
func (s *SampleStore) InsertMany(ctx context.Context, samples []sample.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.stmtInsert)
	for _, smp := range samples {
		var extra any
		if len(smp.Extra) > 0 {
			extra = string(smp.Extra)
		}
		if _, err := stmt.ExecContext(ctx,
			string(smp.Source), string(smp.Symbol), string(smp.Side),
			smp.Price.String(), smp.ObservedAt.UnixMilli(),
			nullable(smp.ConditionID), nullable(smp.AssetID), nullable(smp.MarketSlug),
			extra,
		); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}

	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Scan returns samples in [from, to] for (source, symbol, side), bounded by
// limit and ordered per order.
func (s *SampleStore) Scan(ctx context.Context, source sample.Source, symbol sample.Symbol, side sample.Side, from, to time.Time, limit int, order Order) ([]sample.Sample, error) {
	dir := "ASC"
	if order == Desc {
		dir = "DESC"
	}
	q := fmt.Sprintf(`SELECT source, symbol, side, price, observed_at, condition_id, asset_id, market_slug, extra
		FROM samples
		WHERE source = ? AND symbol = ? AND side = ? AND observed_at BETWEEN ? AND ?
		ORDER BY observed_at %s
		LIMIT ?`, dir)

	rows, err := s.db.QueryContext(ctx, q, string(source), string(symbol), string(side),
		from.UnixMilli(), to.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Latest returns the most recent sample for (source, symbol, side), if any.
func (s *SampleStore) Latest(ctx context.Context, source sample.Source, symbol sample.Symbol, side sample.Side) (*sample.Sample, bool, error) {
	return s.nearestQuery(ctx, source, symbol, side, `
		SELECT source, symbol, side, price, observed_at, condition_id, asset_id, market_slug, extra
		FROM samples WHERE source = ? AND symbol = ? AND side = ?
		ORDER BY observed_at DESC LIMIT 1`, nil)
}

// NearestBefore returns the sample at-or-before t, if any.
func (s *SampleStore) NearestBefore(ctx context.Context, source sample.Source, symbol sample.Symbol, side sample.Side, t time.Time) (*sample.Sample, bool, error) {
	return s.nearestQuery(ctx, source, symbol, side, `
		SELECT source, symbol, side, price, observed_at, condition_id, asset_id, market_slug, extra
		FROM samples WHERE source = ? AND symbol = ? AND side = ? AND observed_at <= ?
		ORDER BY observed_at DESC LIMIT 1`, &t)
}

// NearestAfter returns the sample at-or-after t, if any.
func (s *SampleStore) NearestAfter(ctx context.Context, source sample.Source, symbol sample.Symbol, side sample.Side, t time.Time) (*sample.Sample, bool, error) {
	return s.nearestQuery(ctx, source, symbol, side, `
		SELECT source, symbol, side, price, observed_at, condition_id, asset_id, market_slug, extra
		FROM samples WHERE source = ? AND symbol = ? AND side = ? AND observed_at >= ?
		ORDER BY observed_at ASC LIMIT 1`, &t)
}

func (s *SampleStore) nearestQuery(ctx context.Context, source sample.Source, symbol sample.Symbol, side sample.Side, q string, t *time.Time) (*sample.Sample, bool, error) {
	var row *sql.Row
	if t != nil {
		row = s.db.QueryRowContext(ctx, q, string(source), string(symbol), string(side), t.UnixMilli())
	} else {
		row = s.db.QueryRowContext(ctx, q, string(source), string(symbol), string(side))
	}

	smp, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("nearest query: %w", err)
	}
	return &smp, true, nil
}

func scanRows(rows *sql.Rows) ([]sample.Sample, error) {
	var out []sample.Sample
	for rows.Next() {
		smp, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// rowScanner abstracts over *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(r rowScanner) (sample.Sample, error) {
	var (
		src, sym, side, priceStr                    string
		observedAtMs                                int64
		conditionID, assetID, marketSlug, extraText sql.NullString
	)
	if err := r.Scan(&src, &sym, &side, &priceStr, &observedAtMs, &conditionID, &assetID, &marketSlug, &extraText); err != nil {
		return sample.Sample{}, err
	}

	price, err := decimalFromString(priceStr)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("parse stored price %q: %w", priceStr, err)
	}

	var extra []byte
	if extraText.Valid {
		extra = []byte(extraText.String)
	}

	return sample.Sample{
		Source:      sample.Source(src),
		Symbol:      sample.Symbol(sym),
		Side:        sample.Side(side),
		Price:       price,
		ObservedAt:  time.UnixMilli(observedAtMs).UTC(),
		ConditionID: conditionID.String,
		AssetID:     assetID.String,
		MarketSlug:  marketSlug.String,
		Extra:       extra,
	}, nil
}
