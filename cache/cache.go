// Package cache implements the namespaced, content-addressed analysis cache.
//
// Keys are deterministic functions of the content they index; see [Key].
// Values are opaque byte slices, typically JSON. Four backends are provided:
// an in-process LRU, a file-per-entry directory store, an embedded sqlite
// database, and a shared postgres store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Namespace partitions the cache. TTL policy is per-namespace.
type Namespace string

const (
	// NamespaceLLM holds LLM responses. Long TTL: model output for the same
	// input document doesn't go stale.
	NamespaceLLM Namespace = "llm"
	// NamespaceReputation holds computed reputation assessments.
	NamespaceReputation Namespace = "reputation"
	// NamespaceRegistry holds registry metadata responses.
	NamespaceRegistry Namespace = "registry-metadata"
	// NamespaceOSV holds OSV query responses. Short TTL: upstream advisories
	// change.
	NamespaceOSV Namespace = "osv"
	// NamespaceMaliciousDB holds the known-malicious package set. Very long
	// TTL, refreshed explicitly.
	NamespaceMaliciousDB Namespace = "malicious-db"
)

// NotFoundTTL is the short TTL used when caching a registry 404.
const NotFoundTTL = 15 * time.Minute

// DefaultTTL reports the per-namespace default TTL.
func DefaultTTL(ns Namespace) time.Duration {
	switch ns {
	case NamespaceLLM:
		return 7 * 24 * time.Hour
	case NamespaceReputation:
		return 12 * time.Hour
	case NamespaceRegistry:
		return 6 * time.Hour
	case NamespaceOSV:
		return 6 * time.Hour
	case NamespaceMaliciousDB:
		return 7 * 24 * time.Hour
	}
	return time.Hour
}

// ErrMiss is the sentinel for an absent or expired entry.
var ErrMiss = errors.New("cache: miss")

// Stats are the counters exposed by a Store.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Entries   int64 `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
}

// Store is the backend contract.
//
// All backends enforce TTL on read, support atomic replacement of a key's
// value, and expose an expired-entry sweep the orchestrator calls between
// runs. Concurrent writers for the same key race and the last writer wins;
// values are content-addressed, so the race is idempotent.
type Store interface {
	// Get returns the value and its age. ErrMiss when absent or expired.
	Get(ctx context.Context, ns Namespace, key string) (value []byte, age time.Duration, err error)
	Put(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, ns Namespace, key string) error
	PurgeNamespace(ctx context.Context, ns Namespace) error
	// Sweep removes expired entries and enforces the size cap.
	Sweep(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Key derives the cache key for the given parts. The digest makes keys safe
// to use as filenames and collision-resistant for practical inputs.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
