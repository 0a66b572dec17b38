// Package checkin implements spec.md §4.3: walking a filesystem tree into
// tangram's object graph, chunking file contents into blobs, resolving
// module imports (including cyclic ones, via Tarjan's SCC algorithm), and
// publishing the result to the store and index. The pipeline shape — walk,
// then build persisted tree objects from the walked structure — is
// grounded on go-git's worktree_status.go walking a work tree followed by
// object.Tree constructing the persisted commit tree, generalized here
// from git's single "tree" object kind to tangram's six variants.
package checkin

import "github.com/tangramhq/tangram/internal/object"

// nodeKind mirrors object.NodeKind but additionally distinguishes a node
// not yet classified during the walk.
type nodeKind int

const (
	kindDirectory nodeKind = iota
	kindFile
	kindSymlink
)

// dependency is one raw import discovered by modules.go, not yet resolved
// to a target (spec.md §4.3 step 2).
type dependency struct {
	reference string
	// resolved is filled in by resolve.go: either a node index within this
	// arena (path import) or a referent from outside it (tag import).
	resolvedNode    int
	hasResolvedNode bool
	referent        *object.Referent
	moduleKind      *string
}

// arenaNode is one visited filesystem path (spec.md §9's "Arena + index"):
// a dense array of nodes referenced by index rather than pointer, which is
// what makes representing a cycle ("node 3 points back to node 1") natural
// without unsafe self-referential pointers.
type arenaNode struct {
	selfIndex int // this node's own index in arena.nodes, set by arena.add
	path      string // relative to the checkin root
	kind      nodeKind

	// kindDirectory
	entries map[string]int // name -> arena index

	// kindFile
	size         int64
	executable   bool
	rawContents  []byte // read by the walker, consumed and cleared by blob.go
	dependencies []dependency
	moduleKind   *string
	chunks       []chunk // filled by blob.go
	contentsId   string  // the leaf/branch id computed by blob.go

	// kindSymlink
	linkTarget string // relative path target, as read from the filesystem

	// edges discovered during module resolution that point at other arena
	// nodes, used by graph.go to find strongly connected components.
	pathEdges []int
}

// arena is the in-memory node set built by the walker and consumed by
// every later checkin stage.
type arena struct {
	nodes []*arenaNode
	root  int
}

func newArena() *arena {
	return &arena{}
}

func (a *arena) add(n *arenaNode) int {
	n.selfIndex = len(a.nodes)
	a.nodes = append(a.nodes, n)
	return n.selfIndex
}
