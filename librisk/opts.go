package librisk

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/cache"
)

// Cache backend names accepted by Opts.CacheBackend.
const (
	CacheMemory   = "memory"
	CacheFile     = "file"
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
)

const (
	DefaultPoolSize = 10
	DefaultMaxDepth = 6
)

// Opts configures a Libris instance.
type Opts struct {
	// OutputDir receives the per-run report JSON and the history index.
	OutputDir string
	// CacheBackend selects the cache implementation; empty means memory.
	CacheBackend string
	// CacheDir holds the file and sqlite backends' data.
	CacheDir string
	// CacheDSN is the postgres connection string for the postgres backend.
	CacheDSN string
	// CacheMaxBytes caps the cache size; zero means no cap.
	CacheMaxBytes int64

	// RegistryRoots overrides registry base URLs per ecosystem.
	RegistryRoots map[chainlock.Ecosystem]string
	// OSVRoot overrides the vulnerability database endpoint.
	OSVRoot string
	// MaliciousFeedURL, when set, refreshes the known-malicious set from a
	// remote feed; the built-in seed set is always active.
	MaliciousFeedURL string
	// MaliciousFeedFile loads a local feed document instead.
	MaliciousFeedFile string

	// LLMKey enables the LLM paths; empty disables them.
	LLMKey   string
	LLMRoot  string
	LLMModel string

	// PoolSize bounds the shared I/O worker pool.
	PoolSize int64
	// MaxDepth bounds transitive resolution.
	MaxDepth int
	// RunTimeout bounds a whole run; zero means no bound beyond the
	// per-stage deadlines.
	RunTimeout time.Duration

	// Client is the http.Client used for registry and OSV traffic.
	Client *http.Client
}

// parse fills defaults and validates.
func (o *Opts) parse(_ context.Context) error {
	if o.OutputDir == "" {
		o.OutputDir = filepath.Join(os.TempDir(), "chainlock")
	}
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.CacheBackend == "" {
		o.CacheBackend = CacheMemory
	}
	if o.CacheDir == "" {
		o.CacheDir = filepath.Join(o.OutputDir, "cache")
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	switch o.CacheBackend {
	case CacheMemory, CacheFile, CacheSQLite:
	case CachePostgres:
		if o.CacheDSN == "" {
			return &chainlock.Error{
				Op:      "librisk.New",
				Kind:    chainlock.ErrConfiguration,
				Message: "postgres cache backend requires a connection string",
			}
		}
	default:
		return &chainlock.Error{
			Op:      "librisk.New",
			Kind:    chainlock.ErrConfiguration,
			Message: fmt.Sprintf("unknown cache backend %q", o.CacheBackend),
		}
	}
	return nil
}

// store builds the configured cache backend.
func (o *Opts) store(ctx context.Context) (cache.Store, error) {
	switch o.CacheBackend {
	case CacheFile:
		return cache.NewFile(o.CacheDir, o.CacheMaxBytes)
	case CacheSQLite:
		return cache.NewSQLite(ctx, filepath.Join(o.CacheDir, "cache.db"), o.CacheMaxBytes)
	case CachePostgres:
		return cache.NewPostgres(ctx, o.CacheDSN, o.CacheMaxBytes)
	}
	return cache.NewMemory(0)
}
