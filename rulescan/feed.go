package rulescan

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/cache"
)

// Compressor is used by FeedFetcher to decompress the data it fetches.
type Compressor uint

// These are the kinds of compression a FeedFetcher can deal with.
const (
	CompressionAuto Compressor = iota // auto
	CompressionNone                   // none
	CompressionGzip                   // gzip
	CompressionZstd                   // zstd
	CompressionXz                     // xz
)

// ParseCompressor reports the Compressor indicated by the passed in string.
func ParseCompressor(s string) (c Compressor, err error) {
	switch s {
	case "", "auto":
		c = CompressionAuto
	case "none":
		c = CompressionNone
	case "gz", "gzip":
		c = CompressionGzip
	case "zst", "zstd":
		c = CompressionZstd
	case "xz":
		c = CompressionXz
	default:
		return c, fmt.Errorf("rulescan: unknown compression scheme %q", s)
	}
	return c, nil
}

// Magic bytes for the supported compression formats.
var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// detectCompression sniffs the stream's leading bytes.
func detectCompression(b []byte) Compressor {
	switch {
	case bytes.HasPrefix(b, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(b, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(b, xzMagic):
		return CompressionXz
	}
	return CompressionNone
}

// Decompress wraps r according to c. CompressionAuto sniffs the magic bytes.
func Decompress(r io.Reader, c Compressor) (io.Reader, error) {
	br := bufio.NewReader(r)
	if c == CompressionAuto {
		peek, err := br.Peek(len(xzMagic))
		if err != nil && err != io.EOF {
			return nil, err
		}
		c = detectCompression(peek)
	}
	switch c {
	case CompressionNone:
		return br, nil
	case CompressionGzip:
		return gzip.NewReader(br)
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case CompressionXz:
		return xz.NewReader(br)
	}
	return nil, fmt.Errorf("rulescan: unknown compression scheme %d", c)
}

// FeedEntry is one record of the known-malicious feed.
type FeedEntry struct {
	Ecosystem chainlock.Ecosystem `json:"ecosystem"`
	Name      string              `json:"name"`
	// Versions lists the affected versions; empty means every version.
	Versions   []string `json:"versions,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	References []string `json:"references,omitempty"`
}

// ParseFeed decodes a feed document, decompressing as needed.
func ParseFeed(r io.Reader, c Compressor) ([]FeedEntry, error) {
	zr, err := Decompress(r, c)
	if err != nil {
		return nil, fmt.Errorf("rulescan: unable to open feed: %w", err)
	}
	var entries []FeedEntry
	if err := json.NewDecoder(zr).Decode(&entries); err != nil {
		return nil, fmt.Errorf("rulescan: malformed feed: %w", err)
	}
	return entries, nil
}

// LoadFeedFile parses a feed from the local filesystem.
func LoadFeedFile(path string) ([]FeedEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseFeed(f, CompressionAuto)
}

// FeedFetcher retrieves the known-malicious feed over HTTP and keeps the
// decoded document in the cache so runs between refreshes stay offline.
//
// FeedFetcher expects all of its exported members to be filled out
// appropriately, and may panic if not.
type FeedFetcher struct {
	URL         *url.URL
	Client      *http.Client
	Store       cache.Store
	Compression Compressor
}

// Fetch returns the current feed, preferring the cached copy.
func (f *FeedFetcher) Fetch(ctx context.Context) ([]FeedEntry, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "rulescan/FeedFetcher.Fetch")
	key := cache.Key("malicious-feed", f.URL.String())
	if f.Store != nil {
		if b, age, err := f.Store.Get(ctx, cache.NamespaceMaliciousDB, key); err == nil {
			var entries []FeedEntry
			if err := json.Unmarshal(b, &entries); err == nil {
				zlog.Debug(ctx).Dur("age", age).Msg("using cached feed")
				return entries, nil
			}
		}
	}
	entries, err := f.fetchRemote(ctx)
	if err != nil {
		return nil, err
	}
	if f.Store != nil {
		if b, err := json.Marshal(entries); err == nil {
			if err := f.Store.Put(ctx, cache.NamespaceMaliciousDB, key, b, 0); err != nil {
				zlog.Warn(ctx).Err(err).Msg("feed cache write failed")
			}
		}
	}
	return entries, nil
}

// Refresh forces a fetch and replaces the cached copy.
func (f *FeedFetcher) Refresh(ctx context.Context) ([]FeedEntry, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "rulescan/FeedFetcher.Refresh")
	if f.Store != nil {
		key := cache.Key("malicious-feed", f.URL.String())
		if err := f.Store.Invalidate(ctx, cache.NamespaceMaliciousDB, key); err != nil {
			return nil, err
		}
	}
	return f.Fetch(ctx)
}

func (f *FeedFetcher) fetchRemote(ctx context.Context) ([]FeedEntry, error) {
	zlog.Info(ctx).Str("database", f.URL.String()).Msg("starting fetch")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := f.Client.Do(req)
	if err != nil {
		return nil, &chainlock.Error{Op: "rulescan.FeedFetcher.Fetch", Kind: chainlock.ErrNetworkTransient, Inner: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, &chainlock.Error{
			Op:      "rulescan.FeedFetcher.Fetch",
			Kind:    chainlock.ErrNetworkTransient,
			Message: fmt.Sprintf("fetcher got unexpected HTTP response: %d (%s)", res.StatusCode, res.Status),
		}
	}
	return ParseFeed(res.Body, f.Compression)
}
