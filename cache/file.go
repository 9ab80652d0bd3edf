package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/quay/zlog"
)

var _ Store = (*File)(nil)

// File is a Store with one file per entry under a namespace directory.
//
// Writes land in a sibling temporary file and are moved into place with
// [replaceFile], so readers observe either the old value or the new one,
// never a partial file. On platforms where rename-over-existing is not
// permitted the move is delete-then-rename, which leaves a vanishingly
// small window where a concurrent reader sees a miss.
type File struct {
	dir string
	// maxBytes caps the store's total size; 0 means unbounded. Enforcement
	// happens in Sweep and after Put, evicting oldest-stored first.
	maxBytes     int64
	hits, misses atomic.Int64
}

// entryEnvelope is the on-disk representation.
type entryEnvelope struct {
	StoredAt time.Time `json:"stored_at"`
	TTL      int64     `json:"ttl_seconds"`
	Value    []byte    `json:"value"`
}

// NewFile returns a File rooted at dir, creating it if needed.
func NewFile(dir string, maxBytes int64) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: unable to create cache dir: %w", err)
	}
	return &File{dir: dir, maxBytes: maxBytes}, nil
}

func (f *File) path(ns Namespace, key string) string {
	return filepath.Join(f.dir, string(ns), key)
}

// Get implements Store.
func (f *File) Get(_ context.Context, ns Namespace, key string) ([]byte, time.Duration, error) {
	b, err := os.ReadFile(f.path(ns, key))
	if err != nil {
		f.misses.Add(1)
		return nil, 0, ErrMiss
	}
	var e entryEnvelope
	if err := json.Unmarshal(b, &e); err != nil {
		// A torn or corrupt entry is a miss; drop it.
		os.Remove(f.path(ns, key))
		f.misses.Add(1)
		return nil, 0, ErrMiss
	}
	age := time.Since(e.StoredAt)
	if age >= time.Duration(e.TTL)*time.Second {
		os.Remove(f.path(ns, key))
		f.misses.Add(1)
		return nil, 0, ErrMiss
	}
	f.hits.Add(1)
	return e.Value, age, nil
}

// Put implements Store.
func (f *File) Put(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL(ns)
	}
	dir := filepath.Join(f.dir, string(ns))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: unable to create namespace dir: %w", err)
	}
	b, err := json.Marshal(entryEnvelope{
		StoredAt: time.Now(),
		TTL:      int64(ttl / time.Second),
		Value:    value,
	})
	if err != nil {
		return err
	}
	tf, err := os.CreateTemp(dir, key+".tmp.*")
	if err != nil {
		return fmt.Errorf("cache: unable to create temp file: %w", err)
	}
	name := tf.Name()
	if _, err := tf.Write(b); err != nil {
		tf.Close()
		os.Remove(name)
		return err
	}
	if err := tf.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := replaceFile(name, f.path(ns, key)); err != nil {
		os.Remove(name)
		return fmt.Errorf("cache: unable to install entry: %w", err)
	}
	if f.maxBytes > 0 {
		if err := f.evict(ctx); err != nil {
			zlog.Warn(ctx).Err(err).Msg("cache eviction failed")
		}
	}
	return nil
}

// Invalidate implements Store.
func (f *File) Invalidate(_ context.Context, ns Namespace, key string) error {
	err := os.Remove(f.path(ns, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PurgeNamespace implements Store.
func (f *File) PurgeNamespace(_ context.Context, ns Namespace) error {
	err := os.RemoveAll(filepath.Join(f.dir, string(ns)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type fileEntry struct {
	path     string
	size     int64
	storedAt time.Time
	expired  bool
}

func (f *File) walk() ([]fileEntry, error) {
	var out []fileEntry
	now := time.Now()
	err := filepath.WalkDir(f.dir, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil // raced with a concurrent delete
		}
		var e entryEnvelope
		if err := json.Unmarshal(b, &e); err != nil {
			out = append(out, fileEntry{path: p, size: int64(len(b)), expired: true})
			return nil
		}
		out = append(out, fileEntry{
			path:     p,
			size:     int64(len(b)),
			storedAt: e.StoredAt,
			expired:  now.Sub(e.StoredAt) >= time.Duration(e.TTL)*time.Second,
		})
		return nil
	})
	return out, err
}

// Sweep implements Store.
func (f *File) Sweep(ctx context.Context) error {
	es, err := f.walk()
	if err != nil {
		return err
	}
	var ct int
	for _, e := range es {
		if e.expired {
			os.Remove(e.path)
			ct++
		}
	}
	zlog.Debug(ctx).Int("removed", ct).Msg("swept expired cache entries")
	if f.maxBytes > 0 {
		return f.evict(ctx)
	}
	return nil
}

// evict removes oldest-stored entries until the store fits the byte budget.
// Approximate LRU: store time stands in for access time, which avoids
// rewriting entries on read.
func (f *File) evict(ctx context.Context) error {
	es, err := f.walk()
	if err != nil {
		return err
	}
	var total int64
	for _, e := range es {
		total += e.size
	}
	if total <= f.maxBytes {
		return nil
	}
	sort.Slice(es, func(i, j int) bool { return es[i].storedAt.Before(es[j].storedAt) })
	var ct int
	for _, e := range es {
		if total <= f.maxBytes {
			break
		}
		if err := os.Remove(e.path); err == nil {
			total -= e.size
			ct++
		}
	}
	zlog.Debug(ctx).Int("evicted", ct).Msg("enforced cache size cap")
	return nil
}

// Stats implements Store.
func (f *File) Stats(_ context.Context) (Stats, error) {
	es, err := f.walk()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Hits: f.hits.Load(), Misses: f.misses.Load()}
	for _, e := range es {
		if !e.expired {
			s.Entries++
			s.SizeBytes += e.size
		}
	}
	return s, nil
}

// Close implements Store.
func (*File) Close() error { return nil }
