package rulescan

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/cache"
)

const feedDoc = `[
	{"ecosystem": "npm", "name": "evil-pkg", "versions": ["1.0.0"], "summary": "credential stealer"},
	{"ecosystem": "pypi", "name": "bad-wheel"}
]`

var feedWant = []FeedEntry{
	{Ecosystem: chainlock.NPM, Name: "evil-pkg", Versions: []string{"1.0.0"}, Summary: "credential stealer"},
	{Ecosystem: chainlock.PyPI, Name: "bad-wheel"},
}

func TestParseFeedPlain(t *testing.T) {
	got, err := ParseFeed(bytes.NewReader([]byte(feedDoc)), CompressionAuto)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, feedWant) {
		t.Error(cmp.Diff(got, feedWant))
	}
}

func TestParseFeedGzipAuto(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(feedDoc))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := ParseFeed(&buf, CompressionAuto)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, feedWant) {
		t.Error(cmp.Diff(got, feedWant))
	}
}

func TestParseCompressor(t *testing.T) {
	for in, want := range map[string]Compressor{
		"":     CompressionAuto,
		"auto": CompressionAuto,
		"none": CompressionNone,
		"gz":   CompressionGzip,
		"gzip": CompressionGzip,
		"zst":  CompressionZstd,
		"zstd": CompressionZstd,
		"xz":   CompressionXz,
	} {
		got, err := ParseCompressor(in)
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%q: got: %v, want: %v", in, got, want)
		}
	}
	if _, err := ParseCompressor("brotli"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

func TestFeedFetcherCaches(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(feedDoc))
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := cache.NewMemory(0)
	if err != nil {
		t.Fatal(err)
	}
	f := &FeedFetcher{URL: u, Client: srv.Client(), Store: mem}

	for i := 0; i < 2; i++ {
		got, err := f.Fetch(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !cmp.Equal(got, feedWant) {
			t.Error(cmp.Diff(got, feedWant))
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("feed fetched %d times, want 1", n)
	}

	// Refresh drops the cached copy and refetches.
	if _, err := f.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("feed fetched %d times after refresh, want 2", n)
	}
}
