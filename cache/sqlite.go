package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	_ "modernc.org/sqlite"
)

var _ Store = (*SQLite)(nil)

// SQLite is a Store backed by a single embedded database file.
//
// Row replacement goes through an upsert inside the engine's write
// transaction, so the atomic-replace contract holds without any file
// juggling on our side.
type SQLite struct {
	db           *sql.DB
	gq           goqu.DialectWrapper
	maxBytes     int64
	hits, misses atomic.Int64
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entry (
	ns        TEXT    NOT NULL,
	key       TEXT    NOT NULL,
	value     BLOB    NOT NULL,
	stored_at INTEGER NOT NULL,
	ttl_ns    INTEGER NOT NULL,
	PRIMARY KEY (ns, key)
);
CREATE INDEX IF NOT EXISTS cache_entry_stored_at ON cache_entry (stored_at);
`

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(ctx context.Context, path string, maxBytes int64) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: unable to open sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: unable to create schema: %w", err)
	}
	return &SQLite{db: db, gq: goqu.Dialect("sqlite3"), maxBytes: maxBytes}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, ns Namespace, key string) ([]byte, time.Duration, error) {
	q, args, err := s.gq.From("cache_entry").
		Select("value", "stored_at", "ttl_ns").
		Where(goqu.Ex{"ns": string(ns), "key": key}).
		ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var value []byte
	var storedAt, ttl int64
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&value, &storedAt, &ttl)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.misses.Add(1)
		return nil, 0, ErrMiss
	case err != nil:
		return nil, 0, err
	}
	age := time.Since(time.Unix(0, storedAt))
	if age >= time.Duration(ttl) {
		s.Invalidate(ctx, ns, key)
		s.misses.Add(1)
		return nil, 0, ErrMiss
	}
	s.hits.Add(1)
	return value, age, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL(ns)
	}
	q, args, err := s.gq.Insert("cache_entry").
		Rows(goqu.Record{
			"ns":        string(ns),
			"key":       key,
			"value":     value,
			"stored_at": time.Now().UnixNano(),
			"ttl_ns":    int64(ttl),
		}).
		OnConflict(goqu.DoUpdate("ns, key", goqu.Record{
			"value":     value,
			"stored_at": time.Now().UnixNano(),
			"ttl_ns":    int64(ttl),
		})).
		ToSQL()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("cache: unable to store entry: %w", err)
	}
	return nil
}

// Invalidate implements Store.
func (s *SQLite) Invalidate(ctx context.Context, ns Namespace, key string) error {
	q, args, err := s.gq.Delete("cache_entry").
		Where(goqu.Ex{"ns": string(ns), "key": key}).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// PurgeNamespace implements Store.
func (s *SQLite) PurgeNamespace(ctx context.Context, ns Namespace) error {
	q, args, err := s.gq.Delete("cache_entry").
		Where(goqu.Ex{"ns": string(ns)}).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// Sweep implements Store.
func (s *SQLite) Sweep(ctx context.Context) error {
	now := time.Now().UnixNano()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entry WHERE stored_at + ttl_ns <= ?`, now); err != nil {
		return err
	}
	if s.maxBytes <= 0 {
		return nil
	}
	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	// Approximate LRU: drop oldest-stored entries until under budget.
	for st.SizeBytes > s.maxBytes && st.Entries > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM cache_entry WHERE rowid IN
			 (SELECT rowid FROM cache_entry ORDER BY stored_at ASC LIMIT 64)`); err != nil {
			return err
		}
		st, err = s.Stats(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// Stats implements Store.
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0) FROM cache_entry`).
		Scan(&st.Entries, &st.SizeBytes)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Close implements Store.
func (s *SQLite) Close() error { return s.db.Close() }
