package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store backed by an LRU.
//
// The entry-count bound doubles as the (approximate) size cap; TTLs vary
// per entry, so expiry is checked on read rather than delegated to the LRU.
type Memory struct {
	lru          *lru.Cache[string, memEntry]
	hits, misses atomic.Int64
}

type memEntry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e *memEntry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// NewMemory returns a Memory bounded to the given number of entries.
func NewMemory(entries int) (*Memory, error) {
	if entries <= 0 {
		entries = 4096
	}
	l, err := lru.New[string, memEntry](entries)
	if err != nil {
		return nil, err
	}
	return &Memory{lru: l}, nil
}

func memKey(ns Namespace, key string) string {
	return string(ns) + "\x00" + key
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, ns Namespace, key string) ([]byte, time.Duration, error) {
	e, ok := m.lru.Get(memKey(ns, key))
	now := time.Now()
	if !ok || e.expired(now) {
		if ok {
			m.lru.Remove(memKey(ns, key))
		}
		m.misses.Add(1)
		return nil, 0, ErrMiss
	}
	m.hits.Add(1)
	return e.value, now.Sub(e.storedAt), nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL(ns)
	}
	m.lru.Add(memKey(ns, key), memEntry{value: value, storedAt: time.Now(), ttl: ttl})
	return nil
}

// Invalidate implements Store.
func (m *Memory) Invalidate(_ context.Context, ns Namespace, key string) error {
	m.lru.Remove(memKey(ns, key))
	return nil
}

// PurgeNamespace implements Store.
func (m *Memory) PurgeNamespace(_ context.Context, ns Namespace) error {
	prefix := string(ns) + "\x00"
	for _, k := range m.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.lru.Remove(k)
		}
	}
	return nil
}

// Sweep implements Store.
func (m *Memory) Sweep(_ context.Context) error {
	now := time.Now()
	for _, k := range m.lru.Keys() {
		if e, ok := m.lru.Peek(k); ok && e.expired(now) {
			m.lru.Remove(k)
		}
	}
	return nil
}

// Stats implements Store.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	var sz int64
	for _, k := range m.lru.Keys() {
		if e, ok := m.lru.Peek(k); ok {
			sz += int64(len(e.value))
		}
	}
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Entries:   int64(m.lru.Len()),
		SizeBytes: sz,
	}, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
