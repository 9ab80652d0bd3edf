package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*Postgres)(nil)

// Postgres is a Store backed by a shared postgres database, for deployments
// where several analyser instances want a common cache.
type Postgres struct {
	pool         *pgxpool.Pool
	maxBytes     int64
	hits, misses atomic.Int64
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS cache_entry (
	ns        TEXT        NOT NULL,
	key       TEXT        NOT NULL,
	value     BYTEA       NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL,
	ttl       INTERVAL    NOT NULL,
	PRIMARY KEY (ns, key)
);
CREATE INDEX IF NOT EXISTS cache_entry_stored_at ON cache_entry (stored_at);
`

// NewPostgres connects with the given DSN and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string, maxBytes int64) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: unable to create pool: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: unable to create schema: %w", err)
	}
	return &Postgres{pool: pool, maxBytes: maxBytes}, nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, ns Namespace, key string) ([]byte, time.Duration, error) {
	var value []byte
	var storedAt time.Time
	var ttl time.Duration
	err := p.pool.QueryRow(ctx,
		`SELECT value, stored_at, ttl FROM cache_entry WHERE ns = $1 AND key = $2`,
		string(ns), key).Scan(&value, &storedAt, &ttl)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		p.misses.Add(1)
		return nil, 0, ErrMiss
	case err != nil:
		return nil, 0, err
	}
	age := time.Since(storedAt)
	if age >= ttl {
		p.Invalidate(ctx, ns, key)
		p.misses.Add(1)
		return nil, 0, ErrMiss
	}
	p.hits.Add(1)
	return value, age, nil
}

// Put implements Store.
func (p *Postgres) Put(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL(ns)
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO cache_entry (ns, key, value, stored_at, ttl)
		 VALUES ($1, $2, $3, now(), $4)
		 ON CONFLICT (ns, key) DO UPDATE
		 SET value = EXCLUDED.value, stored_at = EXCLUDED.stored_at, ttl = EXCLUDED.ttl`,
		string(ns), key, value, ttl)
	if err != nil {
		return fmt.Errorf("cache: unable to store entry: %w", err)
	}
	return nil
}

// Invalidate implements Store.
func (p *Postgres) Invalidate(ctx context.Context, ns Namespace, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM cache_entry WHERE ns = $1 AND key = $2`, string(ns), key)
	return err
}

// PurgeNamespace implements Store.
func (p *Postgres) PurgeNamespace(ctx context.Context, ns Namespace) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM cache_entry WHERE ns = $1`, string(ns))
	return err
}

// Sweep implements Store.
func (p *Postgres) Sweep(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM cache_entry WHERE stored_at + ttl <= now()`); err != nil {
		return err
	}
	if p.maxBytes <= 0 {
		return nil
	}
	st, err := p.Stats(ctx)
	if err != nil {
		return err
	}
	for st.SizeBytes > p.maxBytes && st.Entries > 0 {
		if _, err := p.pool.Exec(ctx,
			`DELETE FROM cache_entry WHERE (ns, key) IN
			 (SELECT ns, key FROM cache_entry ORDER BY stored_at ASC LIMIT 64)`); err != nil {
			return err
		}
		st, err = p.Stats(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// Stats implements Store.
func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Hits: p.hits.Load(), Misses: p.misses.Load()}
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0) FROM cache_entry`).
		Scan(&st.Entries, &st.SizeBytes)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
