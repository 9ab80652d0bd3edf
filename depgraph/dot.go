package depgraph

import (
	"fmt"
	"io"
	"strings"

	"github.com/chainlock/chainlock"
)

// WriteDOT renders the graph in graphviz dot syntax, stopping at maxDepth.
// A maxDepth of zero or less renders the whole graph.
func WriteDOT(w io.Writer, g *chainlock.Graph, maxDepth int) error {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("\trankdir=LR;\n")
	b.WriteString("\tnode [shape=box, fontname=\"monospace\"];\n")
	for _, n := range g.Nodes {
		if maxDepth > 0 && n.Depth > maxDepth {
			continue
		}
		attrs := ""
		switch {
		case n.ID == g.Root:
			attrs = `, style=bold`
		case n.Resolution == chainlock.ResolutionNotFound:
			attrs = `, style=dashed, color=red`
		}
		fmt.Fprintf(&b, "\tn%d [label=%q%s];\n", n.ID, label(n), attrs)
	}
	for _, n := range g.Nodes {
		if maxDepth > 0 && n.Depth >= maxDepth {
			continue
		}
		for _, name := range sortedChildren(n) {
			c := g.Node(n.Children[name])
			if maxDepth > 0 && c.Depth > maxDepth {
				continue
			}
			fmt.Fprintf(&b, "\tn%d -> n%d;\n", n.ID, c.ID)
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func label(n *chainlock.DependencyNode) string {
	if n.Ref.Version == "" {
		return n.Ref.Name
	}
	return n.Ref.Name + "@" + n.Ref.Version
}
