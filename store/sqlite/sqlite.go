/*
Package sqlite provides a SQLite-backed implementation of the storage ports.

PURPOSE:
  Implements the item list, the event ledger, and the staging KV mirror
  on a single SQLite file. The same patterns apply to a hosted Postgres;
  only minor SQL dialect differences.

KEY TABLES:
  items:   the allotment rules, one row per type, with list position
  ledger:  redemption and admit-defeat events
  kv:      staging mirror and the document year

LEDGER SEMANTICS:
  Events are append-only with one exception: the explicit undo of an
  admit-defeat deletes that single row by ID. Nothing ever updates a
  ledger row in place.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block
  and crash recovery is cleaner.

SEE ALSO:
  - allot/ports.go: interface definitions
  - store/memory: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/allotment-engine/allot"
	"github.com/warp/allotment-engine/engine"
)

const yearKey = "allotments-year"

// Store implements allot.Store and staging.KV using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Allotment rules, one row per item type
	CREATE TABLE IF NOT EXISTS items (
		type TEXT PRIMARY KEY,
		quota INTEGER NOT NULL,
		cadence TEXT NOT NULL,
		multiplier INTEGER NOT NULL DEFAULT 1,
		position INTEGER NOT NULL
	);

	-- Redemption / admit-defeat events
	CREATE TABLE IF NOT EXISTS ledger (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		item_type TEXT NOT NULL,
		qty INTEGER NOT NULL DEFAULT 1,
		ts TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_item_kind
		ON ledger(item_type, kind, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_ts
		ON ledger(ts);

	-- Staging mirror and document metadata
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ITEM STORE (allot.ItemStore interface)
// =============================================================================

// FetchItems returns the configured items in list order.
func (s *Store) FetchItems(ctx context.Context) (allot.ItemsDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT type, quota, cadence, multiplier FROM items ORDER BY position ASC",
	)
	if err != nil {
		return allot.ItemsDoc{}, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	doc := allot.ItemsDoc{Items: []engine.AllotmentItem{}}
	for rows.Next() {
		var it engine.AllotmentItem
		var cadence string
		if err := rows.Scan(&it.Type, &it.Quota, &cadence, &it.Multiplier); err != nil {
			return allot.ItemsDoc{}, fmt.Errorf("scan item: %w", err)
		}
		it.Cadence = engine.Cadence(cadence)
		doc.Items = append(doc.Items, it)
	}
	if err := rows.Err(); err != nil {
		return allot.ItemsDoc{}, err
	}

	doc.Year, _ = s.storedYear(ctx)
	return doc, nil
}

// SaveItems replaces the list by diff: upsert every item by type, then
// delete stored types missing from the new list.
func (s *Store) SaveItems(ctx context.Context, year int, items []engine.AllotmentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO items (type, quota, cadence, multiplier, position)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET
			quota = excluded.quota,
			cadence = excluded.cadence,
			multiplier = excluded.multiplier,
			position = excluded.position
	`
	keep := make([]string, 0, len(items))
	for pos, it := range items {
		if _, err := tx.ExecContext(ctx, upsert,
			it.Type, it.Quota, string(it.Cadence), it.EffectiveMultiplier(), pos,
		); err != nil {
			return fmt.Errorf("upsert item %q: %w", it.Type, err)
		}
		keep = append(keep, it.Type)
	}

	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
	} else {
		placeholders := strings.Repeat("?,", len(keep)-1) + "?"
		args := make([]any, len(keep))
		for i, t := range keep {
			args[i] = t
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM items WHERE type NOT IN ("+placeholders+")", args...,
		); err != nil {
			return fmt.Errorf("delete missing items: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		yearKey, []byte(strconv.Itoa(year)),
	); err != nil {
		return fmt.Errorf("save year: %w", err)
	}

	return tx.Commit()
}

func (s *Store) storedYear(ctx context.Context) (int, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", yearKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	year, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, nil
	}
	return year, nil
}

// =============================================================================
// LEDGER STORE (allot.LedgerStore interface)
// =============================================================================

// LedgerJSONL renders the whole ledger as newline-delimited JSON in the
// raw event shape, oldest first.
func (s *Store) LedgerJSONL(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, item_type, qty, ts FROM ledger ORDER BY ts ASC",
	)
	if err != nil {
		return "", fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var ev engine.RawEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Item, &ev.Qty, &ev.TS); err != nil {
			return "", fmt.Errorf("scan ledger row: %w", err)
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return "", err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String(), rows.Err()
}

// AppendEvent inserts one event row.
func (s *Store) AppendEvent(ctx context.Context, ev engine.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ledger (id, kind, item_type, qty, ts) VALUES (?, ?, ?, ?, ?)",
		ev.ID, ev.Kind, ev.Item, ev.Qty, ev.TS,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// DeleteEvent removes one event by ID. Deleting a missing ID is a no-op.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM ledger WHERE id = ?", id)
	return err
}

// EventsByKind returns an item's events of one kind, most recent first.
func (s *Store) EventsByKind(ctx context.Context, itemType, kind string) ([]engine.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, item_type, qty, ts FROM ledger WHERE item_type = ? AND kind = ? ORDER BY ts DESC",
		itemType, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []engine.RawEvent
	for rows.Next() {
		var ev engine.RawEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Item, &ev.Qty, &ev.TS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// =============================================================================
// KV (staging.KV interface)
// =============================================================================

// Get returns the value for key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Put stores a value under key, replacing any existing value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// Delete removes a key. Missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}
