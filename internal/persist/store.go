// Package persist is the bot's SQL persistence layer: trades, daily
// volume, LP flip cycles, synthetic-edge forecasts, and a small key/value
// table for copy-trading snapshots. It is backed by modernc.org/sqlite, a
// pure-Go driver, so the bot stays cgo-free end to end.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"polymarket-mm/internal/retry"
	"polymarket-mm/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id           TEXT PRIMARY KEY,
	strategy     TEXT NOT NULL,
	condition_id TEXT NOT NULL,
	token_id     TEXT NOT NULL,
	side         TEXT NOT NULL,
	order_type   TEXT NOT NULL,
	price        REAL NOT NULL,
	size         REAL NOT NULL,
	notional_usd REAL NOT NULL,
	dry_run      INTEGER NOT NULL,
	order_id     TEXT,
	reason       TEXT,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_volume (
	date     TEXT NOT NULL,
	strategy TEXT NOT NULL,
	total    REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (date, strategy)
);

CREATE TABLE IF NOT EXISTS flip_cycles (
	id            TEXT PRIMARY KEY,
	condition_id  TEXT NOT NULL,
	token_id      TEXT NOT NULL,
	exit_token_id TEXT,
	status        TEXT NOT NULL,
	entry_price   REAL NOT NULL,
	entry_size    REAL NOT NULL,
	entry_order_id TEXT,
	exit_price    REAL,
	exit_size     REAL,
	exit_order_id TEXT,
	profit        REAL,
	opened_at     TEXT NOT NULL,
	closed_at     TEXT
);

CREATE TABLE IF NOT EXISTS synth_signals (
	id             TEXT PRIMARY KEY,
	condition_id   TEXT NOT NULL,
	token_id       TEXT NOT NULL,
	fair_prob      REAL NOT NULL,
	market_price   REAL NOT NULL,
	edge           REAL NOT NULL,
	kelly_fraction REAL NOT NULL,
	outcome        TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is the SQL persistence handle. All methods are safe for concurrent
// use; database/sql pools its own connections.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the SQLite database at path. The
// schema is idempotent — every statement is CREATE TABLE IF NOT EXISTS, so
// running it again on an existing database is a no-op.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// isBusy reports whether err looks like SQLITE_BUSY/SQLITE_LOCKED, the only
// failure mode execWithRetry retries. SetMaxOpenConns(1) keeps this rare —
// it mostly guards against a concurrent sqlite3 CLI or backup tool holding
// the file lock — but a write should not give up on the first contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// execWithRetry runs a write against the database with the bot's standard
// bounded backoff, retrying only on SQLITE_BUSY/SQLITE_LOCKED.
func execWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, retry.DefaultConfig(), isBusy, fn)
}

// RecordTrade appends an immutable row for one OrderResult. Trades are
// never updated or deleted after insertion.
func (s *Store) RecordTrade(ctx context.Context, result types.OrderResult, dryRun bool) error {
	sig := result.Signal
	err := execWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO trades (id, strategy, condition_id, token_id, side, order_type, price, size, notional_usd, dry_run, order_id, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), string(sig.Strategy), sig.ConditionID, sig.TokenID, string(sig.Side), string(sig.OrderType),
			sig.Price, sig.Size, sig.NotionalUSD(), boolToInt(dryRun), result.OrderID, result.Reason,
			result.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// UpsertDailyVolume adds notionalUSD to today's running total for strategy.
func (s *Store) UpsertDailyVolume(ctx context.Context, strategy types.Strategy, notionalUSD float64, at time.Time) error {
	date := at.UTC().Format("2006-01-02")
	err := execWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO daily_volume (date, strategy, total) VALUES (?, ?, ?)
			ON CONFLICT(date, strategy) DO UPDATE SET total = total + excluded.total`,
			date, string(strategy), notionalUSD,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert daily volume: %w", err)
	}
	return nil
}

// DailyVolumeUSD returns the running total volume for strategy on the UTC
// date containing at. Returns 0 with no error if nothing has traded yet.
func (s *Store) DailyVolumeUSD(ctx context.Context, strategy types.Strategy, at time.Time) (float64, error) {
	date := at.UTC().Format("2006-01-02")
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT total FROM daily_volume WHERE date = ? AND strategy = ?`, date, string(strategy),
	).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query daily volume: %w", err)
	}
	return total, nil
}

// SaveFlipCycle inserts or updates a flip cycle row, keyed by its ID. New
// cycles are assigned a uuid by the caller via types.FlipCycle.ID.
func (s *Store) SaveFlipCycle(ctx context.Context, c types.FlipCycle) error {
	var closedAt any
	if !c.ClosedAt.IsZero() {
		closedAt = c.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	err := execWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO flip_cycles (id, condition_id, token_id, exit_token_id, status, entry_price, entry_size, entry_order_id, exit_price, exit_size, exit_order_id, profit, opened_at, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status, exit_token_id = excluded.exit_token_id, exit_price = excluded.exit_price,
				exit_size = excluded.exit_size, exit_order_id = excluded.exit_order_id,
				profit = excluded.profit, closed_at = excluded.closed_at`,
			c.ID, c.ConditionID, c.TokenID, c.ExitTokenID, string(c.Status), c.EntryPrice, c.EntrySize, c.EntryOrderID,
			nullableFloat(c.ExitPrice), nullableFloat(c.ExitSize), c.ExitOrderID, nullableFloat(c.Profit),
			c.OpenedAt.UTC().Format(time.RFC3339Nano), closedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save flip cycle: %w", err)
	}
	return nil
}

// LoadOpenFlipCycles restores every cycle not in the IDLE-and-closed state,
// used on restart to resume RESTING_ENTRY/RESTING_EXIT cycles rather than
// abandoning them.
func (s *Store) LoadOpenFlipCycles(ctx context.Context) ([]types.FlipCycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, condition_id, token_id, exit_token_id, status, entry_price, entry_size, entry_order_id, exit_price, exit_size, exit_order_id, profit, opened_at
		FROM flip_cycles WHERE closed_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("query open flip cycles: %w", err)
	}
	defer rows.Close()

	var out []types.FlipCycle
	for rows.Next() {
		var c types.FlipCycle
		var status, opened string
		var exitTokenID sql.NullString
		var exitPrice, exitSize, profit sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.ConditionID, &c.TokenID, &exitTokenID, &status, &c.EntryPrice, &c.EntrySize,
			&c.EntryOrderID, &exitPrice, &exitSize, &c.ExitOrderID, &profit, &opened); err != nil {
			return nil, fmt.Errorf("scan flip cycle: %w", err)
		}
		c.Status = types.FlipStatus(status)
		c.ExitTokenID = exitTokenID.String
		c.ExitPrice = exitPrice.Float64
		c.ExitSize = exitSize.Float64
		c.Profit = profit.Float64
		c.OpenedAt, _ = time.Parse(time.RFC3339Nano, opened)
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordSynthSignal persists one forecast-edge evaluation regardless of its
// outcome ("trade", "skip", "invalid", "kelly_zero"), so the full decision
// history is auditable even when nothing was traded.
func (s *Store) RecordSynthSignal(ctx context.Context, f types.SynthForecast, outcome string) error {
	err := execWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO synth_signals (id, condition_id, token_id, fair_prob, market_price, edge, kelly_fraction, outcome, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), f.ConditionID, f.TokenID, f.FairProb, f.MarketPrice, f.Edge, f.KellyFraction, outcome,
			f.GeneratedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record synth signal: %w", err)
	}
	return nil
}

// GetState reads a bot_state value, used for copy-trading snapshot KV rows
// (key "copy_snapshot_<address>"). ok is false if the key has never been set.
func (s *Store) GetState(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state: %w", err)
	}
	return value, true, nil
}

// SetState unconditionally overwrites a bot_state row.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	err := execWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO bot_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
