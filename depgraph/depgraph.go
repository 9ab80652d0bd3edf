// Package depgraph computes structural properties of a resolved dependency
// graph: cycles, version conflicts, and impact paths to a target package.
package depgraph

import (
	"context"
	"sort"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
)

// Conflict is one package name resolved at more than one version.
type Conflict struct {
	Name string `json:"name"`
	// Versions holds one entry per distinct resolved version, each with a
	// sample root-to-node path.
	Versions []ConflictVersion `json:"versions"`
}

// ConflictVersion pairs a resolved version with the path that introduced it.
type ConflictVersion struct {
	Version string   `json:"version"`
	Path    []string `json:"path"`
}

// Analysis is the structural summary of one graph.
type Analysis struct {
	Packages  []chainlock.PackageRef   `json:"packages"`
	Cycles    [][]chainlock.PackageRef `json:"cycles,omitempty"`
	Conflicts []Conflict               `json:"conflicts,omitempty"`
	NotFound  []chainlock.PackageRef   `json:"not_found,omitempty"`
	MaxDepth  int                      `json:"max_depth"`
}

// Analyze walks the graph once and returns its structural summary.
func Analyze(ctx context.Context, g *chainlock.Graph) *Analysis {
	ctx = zlog.ContextWithValues(ctx, "component", "depgraph/Analyze")
	a := &Analysis{
		Packages: g.Refs(),
		Cycles:   cycles(g),
	}
	for _, n := range g.Nodes {
		if n.Depth > a.MaxDepth {
			a.MaxDepth = n.Depth
		}
		if n.Resolution == chainlock.ResolutionNotFound {
			a.NotFound = append(a.NotFound, n.Ref)
		}
	}
	a.Conflicts = conflicts(g)
	zlog.Debug(ctx).
		Int("packages", len(a.Packages)).
		Int("cycles", len(a.Cycles)).
		Int("conflicts", len(a.Conflicts)).
		Msg("graph analysis done")
	return a
}

// cycles finds the minimal cycles reachable from the root by DFS with a
// recursion stack. Each cycle is reported once, starting at the node that
// closed it.
func cycles(g *chainlock.Graph) [][]chainlock.PackageRef {
	const (
		white = iota // unvisited
		grey         // on the recursion stack
		black        // done
	)
	color := make([]int, g.Len())
	var stack []chainlock.NodeID
	var out [][]chainlock.PackageRef

	var visit func(id chainlock.NodeID)
	visit = func(id chainlock.NodeID) {
		color[id] = grey
		stack = append(stack, id)
		n := g.Node(id)
		for _, name := range sortedChildren(n) {
			cid := n.Children[name]
			switch color[cid] {
			case white:
				visit(cid)
			case grey:
				// Found a back edge; the cycle is the stack suffix from the
				// child onward.
				start := 0
				for i, sid := range stack {
					if sid == cid {
						start = i
						break
					}
				}
				cyc := make([]chainlock.PackageRef, 0, len(stack)-start)
				for _, sid := range stack[start:] {
					cyc = append(cyc, g.Node(sid).Ref)
				}
				out = append(out, cyc)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}
	visit(g.Root)
	return out
}

// conflicts reports names resolved at more than one version.
func conflicts(g *chainlock.Graph) []Conflict {
	byName := make(map[string][]*chainlock.DependencyNode)
	for _, n := range g.Nodes {
		key := chainlock.NormalizeName(n.Ref.Ecosystem, n.Ref.Name)
		byName[key] = append(byName[key], n)
	}
	var names []string
	for name, ns := range byName {
		versions := make(map[string]struct{})
		for _, n := range ns {
			versions[n.Ref.Version] = struct{}{}
		}
		if len(versions) > 1 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Conflict, 0, len(names))
	for _, name := range names {
		c := Conflict{Name: name}
		ns := byName[name]
		sort.Slice(ns, func(i, j int) bool { return ns[i].Ref.Version < ns[j].Ref.Version })
		for _, n := range ns {
			cv := ConflictVersion{Version: n.Ref.Version}
			if len(n.ParentPaths) != 0 {
				cv.Path = pathNames(g, n.ParentPaths[0])
			}
			c.Versions = append(c.Versions, cv)
		}
		out = append(out, c)
	}
	return out
}

// PathsTo returns every root-to-node path for nodes matching target. An empty
// target version matches every resolved version of the name.
func PathsTo(g *chainlock.Graph, target chainlock.PackageRef) [][]string {
	name := chainlock.NormalizeName(target.Ecosystem, target.Name)
	var out [][]string
	for _, n := range g.Nodes {
		if chainlock.NormalizeName(n.Ref.Ecosystem, n.Ref.Name) != name {
			continue
		}
		if target.Version != "" && n.Ref.Version != target.Version {
			continue
		}
		for _, p := range n.ParentPaths {
			out = append(out, pathNames(g, p))
		}
	}
	return out
}

func pathNames(g *chainlock.Graph, path []chainlock.NodeID) []string {
	out := make([]string, 0, len(path))
	for _, id := range path {
		out = append(out, g.Node(id).Ref.String())
	}
	return out
}

func sortedChildren(n *chainlock.DependencyNode) []string {
	out := make([]string, 0, len(n.Children))
	for name := range n.Children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
