// Package resolver builds the transitive dependency graph for a manifest.
//
// Resolution is a level-order BFS: every (name, specifier) at the current
// depth is fetched through the registry client on a bounded worker pool,
// the resulting nodes are attached, and newly-seen packages form the next
// frontier. Cycles are prevented by interning nodes per
// (name, resolved-version); a re-encountered package is linked in place and
// gains a new parent path.
//
// Version-specifier resolution is deliberately approximate: exact pins are
// honoured, anything else resolves to the registry's latest version.
package resolver

import (
	"context"
	"errors"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
	"github.com/chainlock/chainlock/registry"
)

const (
	// DefaultMaxDepth bounds the BFS.
	DefaultMaxDepth = 6
	// DefaultMaxNodes caps total discovered nodes per run.
	DefaultMaxNodes = 2000
	// DefaultConcurrency bounds in-flight registry fetches.
	DefaultConcurrency = 10
)

// Option controls the configuration of a Resolver.
type Option func(*Resolver)

// WithMaxDepth bounds resolution depth.
func WithMaxDepth(d int) Option {
	return func(r *Resolver) { r.maxDepth = d }
}

// WithMaxNodes caps the total number of nodes discovered in one run.
func WithMaxNodes(n int) Option {
	return func(r *Resolver) { r.maxNodes = n }
}

// WithSemaphore shares a bounded worker pool with other components of the
// run.
func WithSemaphore(sem *semaphore.Weighted) Option {
	return func(r *Resolver) { r.sem = sem }
}

// Resolver builds DependencyNode graphs.
type Resolver struct {
	reg      *registry.Client
	sem      *semaphore.Weighted
	maxDepth int
	maxNodes int
}

// New returns a configured Resolver.
func New(reg *registry.Client, opts ...Option) *Resolver {
	r := &Resolver{
		reg:      reg,
		maxDepth: DefaultMaxDepth,
		maxNodes: DefaultMaxNodes,
	}
	for _, o := range opts {
		o(r)
	}
	if r.sem == nil {
		r.sem = semaphore.NewWeighted(DefaultConcurrency)
	}
	return r
}

// frontierItem is one pending (parent, dependency) edge.
type frontierItem struct {
	parent *chainlock.DependencyNode
	dep    ecosystem.Dependency
}

// fetchResult is the outcome of resolving one frontier item.
type fetchResult struct {
	item frontierItem
	ref  chainlock.PackageRef
	res  chainlock.Resolution
	deps map[string]string
}

// Resolve builds the graph rooted at the manifest's declared package.
func (r *Resolver) Resolve(ctx context.Context, m *ecosystem.Manifest) (*chainlock.Graph, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "resolver/Resolver.Resolve")
	h, err := ecosystem.Get(m.Ecosystem)
	if err != nil {
		return nil, err
	}

	rootRef := m.Root
	if rootRef.Name == "" {
		rootRef.Name = "(root)"
	}
	rootRef.Ecosystem = m.Ecosystem
	g := chainlock.NewGraph(rootRef)
	root := g.Node(g.Root)
	root.Depth = 0
	root.Resolution = chainlock.ResolvedExact

	frontier := make([]frontierItem, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		frontier = append(frontier, frontierItem{parent: root, dep: d})
	}

	for depth := 1; depth <= r.maxDepth && len(frontier) != 0; depth++ {
		if err := ctx.Err(); err != nil {
			return g, &chainlock.Error{Op: "resolver.Resolve", Kind: chainlock.ErrCancelled, Inner: err}
		}
		results, err := r.fetchLevel(ctx, m.Ecosystem, h, frontier)
		if err != nil {
			return g, err
		}

		var next []frontierItem
		for _, fr := range results {
			node, novel := g.Intern(fr.ref)
			if novel {
				node.Resolution = fr.res
				node.Specifier = fr.item.dep.Specifier
				if g.Len() > r.maxNodes {
					zlog.Warn(ctx).
						Int("max", r.maxNodes).
						Msg("node cap reached, truncating resolution")
					g.Attach(fr.item.parent, node)
					return g, nil
				}
				for name, spec := range fr.deps {
					next = append(next, frontierItem{
						parent: node,
						dep:    ecosystem.Dependency{Name: name, Specifier: spec},
					})
				}
			}
			g.Attach(fr.item.parent, node)
		}
		frontier = next
		zlog.Debug(ctx).
			Int("depth", depth).
			Int("nodes", g.Len()).
			Int("frontier", len(frontier)).
			Msg("resolved level")
	}
	return g, nil
}

// fetchLevel dispatches every frontier item to the worker pool and collects
// resolution results. A registry 404 becomes a not_found node; transient
// errors degrade the same way rather than failing the build.
func (r *Resolver) fetchLevel(ctx context.Context, e chainlock.Ecosystem, h ecosystem.Handler, frontier []frontierItem) ([]fetchResult, error) {
	results := make([]fetchResult, len(frontier))
	eg, ctx := errgroup.WithContext(ctx)
	for i := range frontier {
		i := i
		item := frontier[i]
		eg.Go(func() error {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer r.sem.Release(1)
			results[i] = r.fetchOne(ctx, e, h, item)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &chainlock.Error{Op: "resolver.fetchLevel", Kind: chainlock.ErrCancelled, Inner: err}
		}
		return nil, err
	}
	return results, nil
}

func (r *Resolver) fetchOne(ctx context.Context, e chainlock.Ecosystem, h ecosystem.Handler, item frontierItem) fetchResult {
	out := fetchResult{item: item}
	ref := chainlock.PackageRef{Name: item.dep.Name, Ecosystem: e}
	res := chainlock.ResolvedLatest
	if v, ok := h.PinnedVersion(item.dep.Specifier); ok {
		ref.Version = v
		res = chainlock.ResolvedExact
	}

	md, err := r.reg.FetchMetadata(ctx, ref)
	switch {
	case err == nil:
		if ref.Version == "" {
			ref.Version = md.Version
		}
		out.ref, out.res, out.deps = ref, res, md.Dependencies
	case errors.Is(err, chainlock.ErrNotFound):
		if ref.Version == "" {
			ref.Version = item.dep.Specifier
		}
		out.ref, out.res = ref, chainlock.ResolutionNotFound
	default:
		zlog.Debug(ctx).
			Err(err).
			Str("package", ref.String()).
			Msg("metadata fetch failed")
		if ref.Version == "" {
			ref.Version = item.dep.Specifier
		}
		out.ref, out.res = ref, chainlock.ResolutionNotFound
	}
	return out
}
