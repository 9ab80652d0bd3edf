package depgraph

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
)

func ref(name, version string) chainlock.PackageRef {
	return chainlock.PackageRef{Name: name, Version: version, Ecosystem: chainlock.NPM}
}

// cyclicGraph builds root -> a -> b -> c -> a.
func cyclicGraph() *chainlock.Graph {
	g := chainlock.NewGraph(ref("app", "1.0.0"))
	root := g.Node(g.Root)
	a, _ := g.Intern(ref("a", "1.0.0"))
	g.Attach(root, a)
	b, _ := g.Intern(ref("b", "1.0.0"))
	g.Attach(a, b)
	c, _ := g.Intern(ref("c", "1.0.0"))
	g.Attach(b, c)
	// Closing edge; no Attach, which would loop the path bookkeeping.
	c.Children[a.Ref.Name] = a.ID
	return g
}

func TestAnalyzeCycle(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := Analyze(ctx, cyclicGraph())
	if len(a.Cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(a.Cycles))
	}
	want := []chainlock.PackageRef{ref("a", "1.0.0"), ref("b", "1.0.0"), ref("c", "1.0.0")}
	if !cmp.Equal(a.Cycles[0], want) {
		t.Error(cmp.Diff(a.Cycles[0], want))
	}
	// The analysis completes despite the cycle.
	if len(a.Packages) != 4 {
		t.Errorf("got %d packages, want 4", len(a.Packages))
	}
}

func TestAnalyzeAcyclic(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	g := chainlock.NewGraph(ref("app", "1.0.0"))
	root := g.Node(g.Root)
	// The diamond root -> {a, b} -> shared is not a cycle.
	a, _ := g.Intern(ref("a", "1.0.0"))
	g.Attach(root, a)
	b, _ := g.Intern(ref("b", "1.0.0"))
	g.Attach(root, b)
	shared, _ := g.Intern(ref("shared", "1.0.0"))
	g.Attach(a, shared)
	g.Attach(b, shared)

	an := Analyze(ctx, g)
	if len(an.Cycles) != 0 {
		t.Errorf("diamond reported as cycle: %v", an.Cycles)
	}
	if an.MaxDepth != 2 {
		t.Errorf("max depth: got: %d, want: 2", an.MaxDepth)
	}
}

func TestAnalyzeConflicts(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	g := chainlock.NewGraph(ref("app", "1.0.0"))
	root := g.Node(g.Root)
	a, _ := g.Intern(ref("a", "1.0.0"))
	g.Attach(root, a)
	old, _ := g.Intern(ref("minimist", "0.0.8"))
	g.Attach(a, old)
	cur, _ := g.Intern(ref("minimist", "1.2.8"))
	g.Attach(root, cur)

	an := Analyze(ctx, g)
	if len(an.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(an.Conflicts))
	}
	c := an.Conflicts[0]
	if c.Name != "minimist" {
		t.Errorf("name: got: %q", c.Name)
	}
	if len(c.Versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(c.Versions))
	}
	if c.Versions[0].Version != "0.0.8" || c.Versions[1].Version != "1.2.8" {
		t.Errorf("versions: got: %v", c.Versions)
	}
	wantPath := []string{"npm/app@1.0.0", "npm/a@1.0.0", "npm/minimist@0.0.8"}
	if !cmp.Equal(c.Versions[0].Path, wantPath) {
		t.Error(cmp.Diff(c.Versions[0].Path, wantPath))
	}
}

func TestAnalyzeNotFound(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	g := chainlock.NewGraph(ref("app", "1.0.0"))
	root := g.Node(g.Root)
	ghost, _ := g.Intern(ref("ghost", ""))
	ghost.Resolution = chainlock.ResolutionNotFound
	g.Attach(root, ghost)

	an := Analyze(ctx, g)
	if len(an.NotFound) != 1 || an.NotFound[0].Name != "ghost" {
		t.Errorf("not found: got: %v", an.NotFound)
	}
}

func TestPathsTo(t *testing.T) {
	g := chainlock.NewGraph(ref("app", "1.0.0"))
	root := g.Node(g.Root)
	a, _ := g.Intern(ref("a", "1.0.0"))
	g.Attach(root, a)
	b, _ := g.Intern(ref("b", "1.0.0"))
	g.Attach(root, b)
	target, _ := g.Intern(ref("target", "2.0.0"))
	g.Attach(a, target)
	g.Attach(b, target)

	paths := PathsTo(g, ref("target", ""))
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
	for _, p := range paths {
		if p[0] != "npm/app@1.0.0" || p[len(p)-1] != "npm/target@2.0.0" {
			t.Errorf("path %v does not run root to target", p)
		}
	}
	if got := PathsTo(g, ref("target", "9.9.9")); len(got) != 0 {
		t.Errorf("version filter failed: %v", got)
	}
}

func TestWriteDOT(t *testing.T) {
	var sb strings.Builder
	g := chainlock.NewGraph(ref("app", "1.0.0"))
	root := g.Node(g.Root)
	a, _ := g.Intern(ref("a", "2.0.0"))
	g.Attach(root, a)
	missing, _ := g.Intern(ref("missing", ""))
	missing.Resolution = chainlock.ResolutionNotFound
	g.Attach(a, missing)

	if err := WriteDOT(&sb, g, 0); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{
		"digraph dependencies {",
		`label="app@1.0.0", style=bold`,
		`label="a@2.0.0"`,
		`label="missing", style=dashed, color=red`,
		"n0 -> n1;",
		"n1 -> n2;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Depth cap prunes the not-found leaf.
	sb.Reset()
	if err := WriteDOT(&sb, g, 1); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sb.String(), "missing") {
		t.Error("depth cap did not prune")
	}
}
