package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/cache"
	"github.com/chainlock/chainlock/ecosystem/defaults"
)

func TestMain(m *testing.M) {
	defaults.Register()
	m.Run()
}

const leftPadDoc = `{
	"name": "left-pad",
	"version": "1.3.0",
	"dependencies": {"wide-align": "^1.1.0"},
	"maintainers": [{"name": "stevemao"}],
	"scripts": {"test": "node test", "postinstall": "node scripts/check.js"}
}`

func TestFetchMetadataNPM(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/left-pad/1.3.0" {
			t.Errorf("unexpected path: %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(leftPadDoc))
	}))
	defer srv.Close()

	c := New(WithClient(srv.Client()), WithRoot(chainlock.NPM, srv.URL))
	got, err := c.FetchMetadata(ctx, chainlock.PackageRef{Name: "left-pad", Version: "1.3.0", Ecosystem: chainlock.NPM})
	if err != nil {
		t.Fatal(err)
	}
	want := &Metadata{
		Name:         "left-pad",
		Version:      "1.3.0",
		Maintainers:  []string{"stevemao"},
		Downloads:    -1,
		Dependencies: map[string]string{"wide-align": "^1.1.0"},
		Scripts:      map[string]string{"test": "node test", "postinstall": "node scripts/check.js"},
	}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestFetchMetadataNotFoundCached(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	mem, err := cache.NewMemory(0)
	if err != nil {
		t.Fatal(err)
	}
	c := New(WithClient(srv.Client()), WithRoot(chainlock.NPM, srv.URL), WithCache(mem))
	ref := chainlock.PackageRef{Name: "no-such-pkg", Version: "1.0.0", Ecosystem: chainlock.NPM}
	for i := 0; i < 2; i++ {
		_, err := c.FetchMetadata(ctx, ref)
		if !errors.Is(err, chainlock.ErrNotFound) {
			t.Fatalf("attempt %d: got: %v, want not_found", i, err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("registry hit %d times, want 1 (negative result should be cached)", n)
	}
}

func TestFetchMetadataRetriesTransient(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(leftPadDoc))
	}))
	defer srv.Close()

	c := New(WithClient(srv.Client()), WithRoot(chainlock.NPM, srv.URL))
	md, err := c.FetchMetadata(ctx, chainlock.PackageRef{Name: "left-pad", Version: "1.3.0", Ecosystem: chainlock.NPM})
	if err != nil {
		t.Fatal(err)
	}
	if md.Version != "1.3.0" {
		t.Errorf("got: %q, want: %q", md.Version, "1.3.0")
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("registry hit %d times, want 2", n)
	}
}

func TestFetchMetadataPyPI(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	const doc = `{
		"info": {
			"name": "requests",
			"version": "2.31.0",
			"author": "Kenneth Reitz",
			"requires_dist": ["urllib3 (<3,>=1.21.1)", "idna (<4,>=2.5)", "win-inet-pton ; sys_platform == 'win32'"]
		},
		"urls": [{"upload_time_iso_8601": "2023-05-22T15:12:42Z"}]
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(doc))
	}))
	defer srv.Close()

	c := New(WithClient(srv.Client()), WithRoot(chainlock.PyPI, srv.URL))
	md, err := c.FetchMetadata(ctx, chainlock.PackageRef{Name: "requests", Version: "2.31.0", Ecosystem: chainlock.PyPI})
	if err != nil {
		t.Fatal(err)
	}
	wantDeps := map[string]string{
		"urllib3":       "<3,>=1.21.1",
		"idna":          "<4,>=2.5",
		"win-inet-pton": "",
	}
	if !cmp.Equal(md.Dependencies, wantDeps) {
		t.Error(cmp.Diff(md.Dependencies, wantDeps))
	}
	if md.PublishedAt.IsZero() {
		t.Error("published time not extracted")
	}
}

func TestFetchHistoryNPM(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	const doc = `{
		"name": "coa",
		"dist-tags": {"latest": "2.0.2"},
		"maintainers": [{"name": "veged"}],
		"time": {
			"created": "2012-01-01T00:00:00Z",
			"modified": "2021-11-04T19:00:00Z",
			"2.0.2": "2018-07-04T10:00:00Z",
			"2.0.3": "2021-11-04T18:57:00Z"
		},
		"versions": {
			"2.0.3": {"name": "coa", "version": "2.0.3", "dependencies": {"q": "^1.1.2"}}
		}
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coa" {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		w.Write([]byte(doc))
	}))
	defer srv.Close()

	c := New(WithClient(srv.Client()), WithRoot(chainlock.NPM, srv.URL))
	h, err := c.FetchHistory(ctx, chainlock.NPM, "coa")
	if err != nil {
		t.Fatal(err)
	}
	if h.Latest != "2.0.2" {
		t.Errorf("latest: got: %q, want: %q", h.Latest, "2.0.2")
	}
	if len(h.Releases) != 2 {
		t.Fatalf("got %d releases, want 2", len(h.Releases))
	}
	if h.Releases[0].Version != "2.0.2" || h.Releases[1].Version != "2.0.3" {
		t.Errorf("releases out of publish order: %v", h.Releases)
	}
	if h.FirstPublished.IsZero() {
		t.Error("first published not extracted")
	}
	if deps := h.DependenciesByVersion["2.0.3"]; deps["q"] != "^1.1.2" {
		t.Errorf("version dependencies not extracted: %v", deps)
	}
}

func TestSplitRequiresDist(t *testing.T) {
	tt := []struct {
		in, name, spec string
	}{
		{"requests (>=2.0)", "requests", ">=2.0"},
		{"idna<4,>=2.5", "idna", "<4,>=2.5"},
		{"win-inet-pton ; sys_platform == 'win32'", "win-inet-pton", ""},
		{"colorama", "colorama", ""},
	}
	for _, tc := range tt {
		name, spec := splitRequiresDist(tc.in)
		if name != tc.name || spec != tc.spec {
			t.Errorf("%q: got: (%q, %q), want: (%q, %q)", tc.in, name, spec, tc.name, tc.spec)
		}
	}
}
