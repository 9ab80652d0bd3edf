package chainlock

// NodeID indexes a DependencyNode within its Graph's arena.
type NodeID int

// Resolution records how a node's version was obtained.
type Resolution string

const (
	// ResolvedExact means the manifest pinned a concrete version.
	ResolvedExact Resolution = "exact"
	// ResolvedLatest means a specifier range was resolved to the registry's
	// latest version. Exact range resolution is deliberately out of scope.
	ResolvedLatest Resolution = "latest"
	// ResolutionNotFound marks a package the registry doesn't know about.
	ResolutionNotFound Resolution = "not_found"
)

// DependencyNode is one package in the resolved dependency graph.
//
// A package may appear at many positions in the logical tree but is stored
// once per (name, resolved-version). Children and parent paths reference
// other nodes by arena id, which keeps the structure free of ownership
// cycles and safe to mutate during BFS.
type DependencyNode struct {
	ID         NodeID     `json:"id"`
	Ref        PackageRef `json:"ref"`
	Specifier  string     `json:"specifier,omitempty"`
	Depth      int        `json:"depth"`
	Resolution Resolution `json:"resolution"`
	// Children maps child name → node id. Child names are unique within a
	// parent.
	Children map[string]NodeID `json:"children,omitempty"`
	// ParentPaths is the set of root-to-here paths, as node ids. Every path
	// starts at the root and ends at this node.
	ParentPaths [][]NodeID `json:"parent_paths,omitempty"`
}

// Graph is the arena holding every discovered DependencyNode.
type Graph struct {
	Nodes []*DependencyNode `json:"nodes"`
	Root  NodeID            `json:"root"`

	index map[string]NodeID
}

// NewGraph returns a Graph with the given root package installed at depth 0.
func NewGraph(root PackageRef) *Graph {
	g := &Graph{index: make(map[string]NodeID)}
	n, _ := g.Intern(root)
	n.ParentPaths = [][]NodeID{{n.ID}}
	g.Root = n.ID
	return g
}

// Intern returns the node for ref, creating it if absent. The second return
// reports whether the node was newly created.
func (g *Graph) Intern(ref PackageRef) (*DependencyNode, bool) {
	key := ref.Key()
	if id, ok := g.index[key]; ok {
		return g.Nodes[id], false
	}
	n := &DependencyNode{
		ID:       NodeID(len(g.Nodes)),
		Ref:      ref,
		Depth:    -1, // fixed up on first attach
		Children: make(map[string]NodeID),
	}
	g.Nodes = append(g.Nodes, n)
	g.index[key] = n.ID
	return n, true
}

// Node returns the node with the given id, or nil when out of range.
func (g *Graph) Node(id NodeID) *DependencyNode {
	if int(id) < 0 || int(id) >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[id]
}

// Lookup returns the node for ref, if present.
func (g *Graph) Lookup(ref PackageRef) (*DependencyNode, bool) {
	id, ok := g.index[ref.Key()]
	if !ok {
		return nil, false
	}
	return g.Nodes[id], true
}

// Attach links child under parent and extends every parent path. The
// invariant depth == min(len(path))-1 is maintained here.
func (g *Graph) Attach(parent, child *DependencyNode) {
	parent.Children[child.Ref.Name] = child.ID
	for _, p := range parent.ParentPaths {
		path := make([]NodeID, len(p), len(p)+1)
		copy(path, p)
		path = append(path, child.ID)
		child.ParentPaths = append(child.ParentPaths, path)
		if d := len(path) - 1; child.Depth == -1 || d < child.Depth {
			child.Depth = d
		}
	}
}

// Refs returns the set of refs present in the graph, in arena order.
func (g *Graph) Refs() []PackageRef {
	out := make([]PackageRef, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n.Ref)
	}
	return out
}

// Len reports the number of interned nodes.
func (g *Graph) Len() int { return len(g.Nodes) }
