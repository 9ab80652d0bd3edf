package chainlock

import "testing"

func mkref(name, version string) PackageRef {
	return PackageRef{Name: name, Version: version, Ecosystem: NPM}
}

func TestGraphIntern(t *testing.T) {
	g := NewGraph(mkref("app", "1.0.0"))
	a, created := g.Intern(mkref("a", "1.0.0"))
	if !created {
		t.Error("first intern reported existing")
	}
	again, created := g.Intern(mkref("a", "1.0.0"))
	if created {
		t.Error("second intern reported new")
	}
	if a.ID != again.ID {
		t.Errorf("interning returned different nodes: %d vs %d", a.ID, again.ID)
	}
	// Same name at a different version is a distinct node.
	other, _ := g.Intern(mkref("a", "2.0.0"))
	if other.ID == a.ID {
		t.Error("distinct versions shared a node")
	}
	if g.Len() != 3 {
		t.Errorf("got: %d nodes, want: 3", g.Len())
	}
}

func TestGraphAttachDepth(t *testing.T) {
	// root -> a -> c and root -> b -> c. Node c is reachable twice at the
	// same depth; attaching it again through a shorter path later must
	// shrink its depth.
	g := NewGraph(mkref("app", "1.0.0"))
	root := g.Node(g.Root)
	a, _ := g.Intern(mkref("a", "1.0.0"))
	g.Attach(root, a)
	b, _ := g.Intern(mkref("b", "1.0.0"))
	g.Attach(root, b)
	c, _ := g.Intern(mkref("c", "1.0.0"))
	g.Attach(a, c)
	g.Attach(b, c)

	if a.Depth != 1 || b.Depth != 1 {
		t.Errorf("direct deps at depth %d/%d, want 1/1", a.Depth, b.Depth)
	}
	if c.Depth != 2 {
		t.Errorf("c at depth %d, want 2", c.Depth)
	}
	if len(c.ParentPaths) != 2 {
		t.Fatalf("c has %d paths, want 2", len(c.ParentPaths))
	}
	for _, p := range c.ParentPaths {
		if p[0] != g.Root || p[len(p)-1] != c.ID {
			t.Errorf("path %v does not run root to c", p)
		}
	}

	// Promote c to a direct dependency.
	g.Attach(root, c)
	if c.Depth != 1 {
		t.Errorf("after direct attach c at depth %d, want 1", c.Depth)
	}
}

func TestGraphLookup(t *testing.T) {
	g := NewGraph(PackageRef{Name: "app", Version: "1.0.0", Ecosystem: PyPI})
	g.Intern(PackageRef{Name: "Zope.Interface", Version: "5.0", Ecosystem: PyPI})
	// Lookup uses the normalised key.
	if _, ok := g.Lookup(PackageRef{Name: "zope-interface", Version: "5.0", Ecosystem: PyPI}); !ok {
		t.Error("normalised lookup missed")
	}
	if _, ok := g.Lookup(PackageRef{Name: "absent", Version: "1.0", Ecosystem: PyPI}); ok {
		t.Error("lookup of absent ref succeeded")
	}
}
