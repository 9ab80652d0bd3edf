package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
	"github.com/chainlock/chainlock/ecosystem/defaults"
	"github.com/chainlock/chainlock/registry"
)

func TestMain(m *testing.M) {
	defaults.Register()
	m.Run()
}

// fakeRegistry serves a canned npm registry: version documents at
// /{name}/{version} and /{name}/latest.
type fakeRegistry struct {
	t *testing.T
	// packages maps name@version to its dependency set; the "latest" alias
	// must be present for unpinned specifiers.
	packages map[string]map[string]string
	versions map[string]string // name -> concrete latest version
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name, version := parts[0], parts[1]
	if version == "latest" {
		version = f.versions[name]
	}
	deps, ok := f.packages[name+"@"+version]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"name":         name,
		"version":      version,
		"dependencies": deps,
	})
}

func newResolver(t *testing.T, f *fakeRegistry, opts ...Option) *Resolver {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	reg := registry.New(registry.WithClient(srv.Client()), registry.WithRoot(chainlock.NPM, srv.URL))
	return New(reg, opts...)
}

func manifest(deps ...ecosystem.Dependency) *ecosystem.Manifest {
	return &ecosystem.Manifest{
		Ecosystem:    chainlock.NPM,
		Root:         chainlock.PackageRef{Name: "app", Version: "1.0.0", Ecosystem: chainlock.NPM},
		Dependencies: deps,
	}
}

func TestResolveTransitive(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	r := newResolver(t, &fakeRegistry{
		t: t,
		packages: map[string]map[string]string{
			"a@1.0.0": {"b": "2.0.0"},
			"b@2.0.0": {"c": "3.0.0"},
			"c@3.0.0": {},
		},
	})
	g, err := r.Resolve(ctx, manifest(ecosystem.Dependency{Name: "a", Specifier: "1.0.0"}))
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 4 {
		t.Fatalf("got %d nodes, want 4", g.Len())
	}
	c, ok := g.Lookup(chainlock.PackageRef{Name: "c", Version: "3.0.0", Ecosystem: chainlock.NPM})
	if !ok {
		t.Fatal("transitive dependency c not resolved")
	}
	if c.Depth != 3 {
		t.Errorf("c depth: got: %d, want: 3", c.Depth)
	}
	if c.Resolution != chainlock.ResolvedExact {
		t.Errorf("c resolution: got: %v", c.Resolution)
	}
}

func TestResolveRangeToLatest(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	r := newResolver(t, &fakeRegistry{
		t: t,
		packages: map[string]map[string]string{
			"express@4.18.2": {},
		},
		versions: map[string]string{"express": "4.18.2"},
	})
	g, err := r.Resolve(ctx, manifest(ecosystem.Dependency{Name: "express", Specifier: "^4.18.0"}))
	if err != nil {
		t.Fatal(err)
	}
	n, ok := g.Lookup(chainlock.PackageRef{Name: "express", Version: "4.18.2", Ecosystem: chainlock.NPM})
	if !ok {
		t.Fatal("range specifier did not resolve to latest")
	}
	if n.Resolution != chainlock.ResolvedLatest {
		t.Errorf("resolution: got: %v, want: latest", n.Resolution)
	}
	if n.Specifier != "^4.18.0" {
		t.Errorf("specifier: got: %q", n.Specifier)
	}
}

func TestResolveNotFound(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	r := newResolver(t, &fakeRegistry{
		t:        t,
		packages: map[string]map[string]string{"a@1.0.0": {}},
	})
	g, err := r.Resolve(ctx, manifest(
		ecosystem.Dependency{Name: "a", Specifier: "1.0.0"},
		ecosystem.Dependency{Name: "no-such-pkg", Specifier: "^1.0.0"},
	))
	if err != nil {
		t.Fatal(err)
	}
	var found *chainlock.DependencyNode
	for _, n := range g.Nodes {
		if n.Ref.Name == "no-such-pkg" {
			found = n
		}
	}
	if found == nil {
		t.Fatal("missing package absent from graph")
	}
	if found.Resolution != chainlock.ResolutionNotFound {
		t.Errorf("resolution: got: %v, want: not_found", found.Resolution)
	}
	// The rest of the resolution proceeded.
	if _, ok := g.Lookup(chainlock.PackageRef{Name: "a", Version: "1.0.0", Ecosystem: chainlock.NPM}); !ok {
		t.Error("healthy sibling missing from graph")
	}
}

func TestResolveSharedDependency(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	r := newResolver(t, &fakeRegistry{
		t: t,
		packages: map[string]map[string]string{
			"a@1.0.0":      {"shared": "1.0.0"},
			"b@1.0.0":      {"shared": "1.0.0"},
			"shared@1.0.0": {},
		},
	})
	g, err := r.Resolve(ctx, manifest(
		ecosystem.Dependency{Name: "a", Specifier: "1.0.0"},
		ecosystem.Dependency{Name: "b", Specifier: "1.0.0"},
	))
	if err != nil {
		t.Fatal(err)
	}
	// Interned once, two parent paths.
	if g.Len() != 4 {
		t.Fatalf("got %d nodes, want 4", g.Len())
	}
	n, ok := g.Lookup(chainlock.PackageRef{Name: "shared", Version: "1.0.0", Ecosystem: chainlock.NPM})
	if !ok {
		t.Fatal("shared dependency missing")
	}
	if len(n.ParentPaths) != 2 {
		t.Errorf("got %d parent paths, want 2", len(n.ParentPaths))
	}
}

func TestResolveDepthCap(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	// A ten-deep chain with a depth cap of 2 stops after level two.
	pkgs := make(map[string]map[string]string)
	for i := 0; i < 10; i++ {
		pkgs[fmt.Sprintf("p%d@1.0.0", i)] = map[string]string{fmt.Sprintf("p%d", i+1): "1.0.0"}
	}
	pkgs["p10@1.0.0"] = map[string]string{}
	r := newResolver(t, &fakeRegistry{t: t, packages: pkgs}, WithMaxDepth(2))
	g, err := r.Resolve(ctx, manifest(ecosystem.Dependency{Name: "p0", Specifier: "1.0.0"}))
	if err != nil {
		t.Fatal(err)
	}
	// Root, p0, p1.
	if g.Len() != 3 {
		t.Errorf("got %d nodes, want 3", g.Len())
	}
}

func TestResolveNodeCap(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	pkgs := map[string]map[string]string{"hub@1.0.0": {}}
	var deps []ecosystem.Dependency
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("leaf%02d", i)
		pkgs[name+"@1.0.0"] = map[string]string{}
		deps = append(deps, ecosystem.Dependency{Name: name, Specifier: "1.0.0"})
	}
	r := newResolver(t, &fakeRegistry{t: t, packages: pkgs}, WithMaxNodes(5))
	g, err := r.Resolve(ctx, manifest(deps...))
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() > 6 {
		t.Errorf("node cap not enforced: %d nodes", g.Len())
	}
}
