package checkin

import (
	"context"
	"sort"
	"sync"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/object"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
	"golang.org/x/sync/semaphore"
)

// blobConcurrency bounds how many files are chunked and hashed at once
// (spec.md §5's backpressure note), matching the role
// golang.org/x/sync/semaphore plays for go-git's own concurrent fetch/pack
// operations.
const blobConcurrency = 8

// groupResult is the outcome of emitting one union-find group: either a
// single plain object (most nodes) or a Graph wrapping a cyclic cluster,
// per spec.md §4.3 step 5.
type groupResult struct {
	cyclic     bool
	computedId id.Id
	localIndex map[int]int // arena index -> position within the Graph, only set when cyclic
}

// emitter walks the arena bottom-up, writing objects to store as it goes
// (spec.md §4.3 step 6: "reverse topological order, children first").
// Each union-find group is built at most once via the memo.
type emitter struct {
	ctx        context.Context
	a          *arena
	s          store.Store
	uf         *unionFind
	cyclicRoot map[int]bool
	memo       map[int]*groupResult
	emitted    []emittedObject
}

// emittedObject records one object written to the store, for publish.go to
// batch into the index with its metadata (spec.md §4.3 step 7).
type emittedObject struct {
	id       id.Id
	children []id.Id
	size     int64
}

// emitArtifact implements steps 4-6 of spec.md §4.3: builds blobs, resolves cycles
// into graph objects, and writes every object bottom-up. It returns the
// root artifact's id.
func emitArtifact(ctx context.Context, a *arena, s store.Store) (id.Id, []emittedObject, error) {
	emitted, err := emitBlobs(ctx, a, s)
	if err != nil {
		return id.Id{}, nil, err
	}

	buildPathEdges(a)
	uf, cyclicRoot := groupNodes(a)
	e := &emitter{ctx: ctx, a: a, s: s, uf: uf, cyclicRoot: cyclicRoot, memo: map[int]*groupResult{}, emitted: emitted}

	result, err := e.buildGroup(uf.find(a.root))
	if err != nil {
		return id.Id{}, nil, err
	}
	// If the checkin root itself participates in a cycle (an unusual but
	// legal case per spec.md §9's open question on destructive/edge
	// inputs), the graph's own id stands for the root artifact; the
	// caller addresses the specific node via Subpath.
	return result.computedId, e.emitted, nil
}

// emitBlobs chunks and writes every file's blob, bounding the number of
// files open and hashed at once with a weighted semaphore — the same
// pattern go-git's own transport package uses to cap concurrent pack
// fetches, applied here to the checkin pipeline's own fan-out (spec.md §5).
func emitBlobs(ctx context.Context, a *arena, s store.Store) ([]emittedObject, error) {
	sem := semaphore.NewWeighted(blobConcurrency)
	var (
		mu       sync.Mutex
		emitted  []emittedObject
		firstErr error
	)

	for _, n := range a.nodes {
		if n.kind != kindFile {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, tgerror.Wrap(tgerror.Cancelled, err, "acquiring blob semaphore")
		}
		n := n
		go func() {
			defer sem.Release(1)
			buildBlob(n)

			var local []emittedObject
			err := putBlob(ctx, s, n, &local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			emitted = append(emitted, local...)
		}()
	}

	// Acquiring the full weight waits for every in-flight goroutine to
	// release, giving us a barrier without a separate WaitGroup.
	if err := sem.Acquire(ctx, blobConcurrency); err != nil {
		return nil, tgerror.Wrap(tgerror.Cancelled, err, "draining blob semaphore")
	}

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return nil, firstErr
	}
	return emitted, nil
}

func (e *emitter) buildGroup(root int) (*groupResult, error) {
	if r, ok := e.memo[root]; ok {
		return r, nil
	}

	var members []int
	for i := range e.a.nodes {
		if e.uf.find(i) == root {
			members = append(members, i)
		}
	}
	sort.Slice(members, func(i, j int) bool { return e.a.nodes[members[i]].path < e.a.nodes[members[j]].path })

	var result *groupResult
	var err error
	if e.cyclicRoot[root] {
		result, err = e.buildCyclicGroup(members)
	} else {
		result, err = e.buildPlainGroup(members[0])
	}
	if err != nil {
		return nil, err
	}
	e.memo[root] = result
	return result, nil
}

func (e *emitter) buildPlainGroup(idx int) (*groupResult, error) {
	n := e.a.nodes[idx]
	var v object.Variant
	var err error
	switch n.kind {
	case kindDirectory:
		v, err = e.buildPlainDirectory(n)
	case kindFile:
		v, err = e.buildPlainFile(n)
	case kindSymlink:
		v = &object.Symlink{Path: &n.linkTarget}
	default:
		return nil, tgerror.New(tgerror.Internal, "unreachable node kind for %s", n.path)
	}
	if err != nil {
		return nil, err
	}
	if err := e.put(v); err != nil {
		return nil, err
	}
	return &groupResult{cyclic: false, computedId: object.ComputeId(v)}, nil
}

func (e *emitter) buildPlainDirectory(n *arenaNode) (*object.Directory, error) {
	entries := make(map[string]object.Edge, len(n.entries))
	for name, childIdx := range n.entries {
		edge, err := e.edgeTo(childIdx)
		if err != nil {
			return nil, err
		}
		entries[name] = edge
	}
	d := &object.Directory{Entries: entries}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (e *emitter) buildPlainFile(n *arenaNode) (*object.File, error) {
	contents, err := id.Parse(n.contentsId)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Internal, err, "parsing computed contents id for %s", n.path)
	}
	deps, err := e.fileDependencies(n)
	if err != nil {
		return nil, err
	}
	f := &object.File{Contents: contents, Executable: n.executable, Dependencies: deps, ModuleKind: n.moduleKind}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// fileDependencies resolves every discovered import into the
// FileDependency shape stored on a File object (spec.md §3.2): tag
// imports carry the resolver's Referent, path imports outside this node's
// own graph carry a Referent pointing at the target's (or its
// containing graph's) id, and path imports into the SAME graph are left
// bare — the containing directory's Pointer edge is what actually
// resolves them, per spec.md §8 scenario 3.
func (e *emitter) fileDependencies(n *arenaNode) (map[string]object.FileDependency, error) {
	if len(n.dependencies) == 0 {
		return nil, nil
	}
	deps := make(map[string]object.FileDependency, len(n.dependencies))
	selfRoot := e.uf.find(n.selfIndex)
	for _, dep := range n.dependencies {
		fd := object.FileDependency{Reference: dep.reference}
		switch {
		case dep.referent != nil:
			fd.Referent = dep.referent
		case dep.hasResolvedNode:
			targetRoot := e.uf.find(dep.resolvedNode)
			if targetRoot != selfRoot {
				target, err := e.buildGroup(targetRoot)
				if err != nil {
					return nil, err
				}
				targetPath := e.a.nodes[dep.resolvedNode].path
				fd.Referent = &object.Referent{Item: target.computedId, Path: &targetPath}
			}
		}
		deps[dep.reference] = fd
	}
	return deps, nil
}

// edgeTo resolves a directory entry that points at childIdx, which may
// live in a different (already built) group, the same cyclic group (a
// self-pointer), or its own independent plain group.
func (e *emitter) edgeTo(childIdx int) (object.Edge, error) {
	selfRoot := e.uf.find(childIdx)
	target, err := e.buildGroup(selfRoot)
	if err != nil {
		return object.Edge{}, err
	}
	if target.cyclic {
		gid := target.computedId
		idx := target.localIndex[childIdx]
		return object.Edge{Pointer: &object.Pointer{Graph: &gid, Index: idx}}, nil
	}
	cid := target.computedId
	return object.Edge{Object: &cid}, nil
}

func (e *emitter) buildCyclicGroup(members []int) (*groupResult, error) {
	localIndex := make(map[int]int, len(members))
	for i, idx := range members {
		localIndex[idx] = i
	}

	nodes := make([]object.GraphNode, len(members))
	for i, idx := range members {
		n := e.a.nodes[idx]
		var err error
		switch n.kind {
		case kindDirectory:
			nodes[i], err = e.buildGraphDirectory(n, localIndex)
		case kindFile:
			nodes[i], err = e.buildGraphFile(n, localIndex)
		case kindSymlink:
			nodes[i] = object.GraphNode{Kind: object.NodeSymlink, Path: &n.linkTarget}
		}
		if err != nil {
			return nil, err
		}
	}

	g := &object.Graph{Nodes: nodes}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := e.put(g); err != nil {
		return nil, err
	}
	return &groupResult{cyclic: true, computedId: object.ComputeId(g), localIndex: localIndex}, nil
}

func (e *emitter) buildGraphDirectory(n *arenaNode, localIndex map[int]int) (object.GraphNode, error) {
	entries := make(map[string]object.Edge, len(n.entries))
	for name, childIdx := range n.entries {
		if local, ok := localIndex[childIdx]; ok {
			entries[name] = object.Edge{Pointer: &object.Pointer{Index: local}}
			continue
		}
		edge, err := e.edgeTo(childIdx)
		if err != nil {
			return object.GraphNode{}, err
		}
		entries[name] = edge
	}
	return object.GraphNode{Kind: object.NodeDirectory, Entries: entries}, nil
}

func (e *emitter) buildGraphFile(n *arenaNode, localIndex map[int]int) (object.GraphNode, error) {
	contents, err := id.Parse(n.contentsId)
	if err != nil {
		return object.GraphNode{}, tgerror.Wrap(tgerror.Internal, err, "parsing computed contents id for %s", n.path)
	}
	contentsEdge := object.Edge{Object: &contents}

	deps := make(map[string]object.FileDependency, len(n.dependencies))
	for _, dep := range n.dependencies {
		fd := object.FileDependency{Reference: dep.reference}
		switch {
		case dep.referent != nil:
			fd.Referent = dep.referent
		case dep.hasResolvedNode:
			if _, inGraph := localIndex[dep.resolvedNode]; !inGraph {
				targetRoot := e.uf.find(dep.resolvedNode)
				target, err := e.buildGroup(targetRoot)
				if err != nil {
					return object.GraphNode{}, err
				}
				targetPath := e.a.nodes[dep.resolvedNode].path
				fd.Referent = &object.Referent{Item: target.computedId, Path: &targetPath}
			}
			// else: dependency resolves within this same graph; left bare,
			// resolved implicitly by the directory's Pointer entry.
		}
		deps[dep.reference] = fd
	}

	return object.GraphNode{
		Kind:         object.NodeFile,
		Contents:     &contentsEdge,
		Executable:   n.executable,
		Dependencies: deps,
		ModuleKind:   n.moduleKind,
	}, nil
}

func (e *emitter) put(v object.Variant) error {
	frame := object.EncodeBinary(v)
	if _, err := e.s.Put(e.ctx, v.Kind(), frame); err != nil {
		return err
	}
	e.emitted = append(e.emitted, emittedObject{
		id:       object.ComputeId(v),
		children: childrenOfVariant(v),
		size:     int64(len(frame)),
	})
	return nil
}

// childrenOfVariant extracts every direct object reference out of v, for
// index publication (spec.md §4.2's object_children table) and
// completeness propagation. Pointer edges with no Graph set are
// self-references within the same object and are not separate store
// entries, so they contribute no child.
func childrenOfVariant(v object.Variant) []id.Id {
	var out []id.Id
	addEdge := func(e object.Edge) {
		if e.Object != nil {
			out = append(out, *e.Object)
		} else if e.Pointer != nil && e.Pointer.Graph != nil {
			out = append(out, *e.Pointer.Graph)
		}
	}
	switch t := v.(type) {
	case *object.Directory:
		for _, e := range t.Entries {
			addEdge(e)
		}
		for _, e := range t.Children {
			addEdge(e)
		}
	case *object.File:
		out = append(out, t.Contents)
		for _, dep := range t.Dependencies {
			if dep.Referent != nil {
				out = append(out, dep.Referent.Item)
			}
		}
	case *object.Symlink:
		if t.Artifact != nil {
			out = append(out, *t.Artifact)
		}
	case *object.Branch:
		for _, c := range t.Children {
			out = append(out, c.Child)
		}
	case *object.Graph:
		for _, n := range t.Nodes {
			switch n.Kind {
			case object.NodeDirectory:
				for _, e := range n.Entries {
					addEdge(e)
				}
			case object.NodeFile:
				if n.Contents != nil {
					addEdge(*n.Contents)
				}
				for _, dep := range n.Dependencies {
					if dep.Referent != nil {
						out = append(out, dep.Referent.Item)
					}
				}
			case object.NodeSymlink:
				if n.Artifact != nil {
					addEdge(*n.Artifact)
				}
			}
		}
	}
	return out
}
