package object

import (
	"sort"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// NodeKind discriminates which artifact shape a GraphNode carries.
type NodeKind string

const (
	NodeDirectory NodeKind = "directory"
	NodeFile      NodeKind = "file"
	NodeSymlink   NodeKind = "symlink"
)

// GraphNode is one directory/file/symlink participating in a cyclic
// cluster, addressed by its dense index within the graph (spec.md §3.2,
// §9 "Arena + index"). Its edges may point elsewhere (Object) or back into
// this same graph (Pointer), which is what makes cycles representable.
type GraphNode struct {
	Kind NodeKind `json:"kind"`

	// NodeDirectory
	Entries map[string]Edge `json:"entries,omitempty"`

	// NodeFile
	Contents     *Edge                     `json:"contents,omitempty"`
	Executable   bool                      `json:"executable,omitempty"`
	Dependencies map[string]FileDependency `json:"dependencies,omitempty"`
	ModuleKind   *string                   `json:"moduleKind,omitempty"`

	// NodeSymlink
	Artifact *Edge   `json:"artifact,omitempty"`
	Path     *string `json:"path,omitempty"`
}

// Graph is an ordered sequence of nodes enabling cyclic artifact
// structures (spec.md §3.2), typically produced by checkin when module
// imports form a strongly connected component.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
}

func (*Graph) Kind() id.Kind { return id.Graph }

// Validate checks that every Pointer edge's index is in range, per
// spec.md §3.2's "A graph pointer's index is in range for the target
// graph" (checked here only for self-pointers; cross-graph pointers are
// checked by the resolver at traversal time).
func (g *Graph) Validate() error {
	for i, n := range g.Nodes {
		for _, e := range n.edges() {
			if e.Pointer != nil && e.Pointer.Graph == nil {
				if e.Pointer.Index < 0 || e.Pointer.Index >= len(g.Nodes) {
					return tgerror.New(tgerror.Validation, "node %d: pointer index %d out of range (graph has %d nodes)", i, e.Pointer.Index, len(g.Nodes))
				}
			}
		}
	}
	return nil
}

func (n GraphNode) edges() []Edge {
	var out []Edge
	switch n.Kind {
	case NodeDirectory:
		for _, e := range n.Entries {
			out = append(out, e)
		}
	case NodeFile:
		if n.Contents != nil {
			out = append(out, *n.Contents)
		}
	case NodeSymlink:
		if n.Artifact != nil {
			out = append(out, *n.Artifact)
		}
	}
	return out
}

func (g *Graph) marshalBinary(w *writer) {
	w.uvarint(uint64(len(g.Nodes)))
	for _, n := range g.Nodes {
		w.stringField(string(n.Kind))
		switch n.Kind {
		case NodeDirectory:
			names := make([]string, 0, len(n.Entries))
			for name := range n.Entries {
				names = append(names, name)
			}
			sort.Strings(names)
			w.uvarint(uint64(len(names)))
			for _, name := range names {
				w.stringField(name)
				n.Entries[name].marshalBinary(w)
			}
		case NodeFile:
			if n.Contents != nil {
				w.boolField(true)
				n.Contents.marshalBinary(w)
			} else {
				w.boolField(false)
			}
			w.boolField(n.Executable)
			refs := make([]string, 0, len(n.Dependencies))
			for r := range n.Dependencies {
				refs = append(refs, r)
			}
			sort.Strings(refs)
			w.uvarint(uint64(len(refs)))
			for _, ref := range refs {
				dep := n.Dependencies[ref]
				w.stringField(ref)
				w.stringField(dep.Reference)
				if dep.Referent != nil {
					w.boolField(true)
					w.stringField(dep.Referent.Item.String())
				} else {
					w.boolField(false)
				}
			}
			writeOptionalString(w, n.ModuleKind)
		case NodeSymlink:
			if n.Artifact != nil {
				w.boolField(true)
				n.Artifact.marshalBinary(w)
			} else {
				w.boolField(false)
			}
			writeOptionalString(w, n.Path)
		}
	}
}

func decodeGraph(r *reader) (*Graph, error) {
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	nodes := make([]GraphNode, 0, count)
	for i := uint64(0); i < count; i++ {
		kindStr, err := r.stringField()
		if err != nil {
			return nil, err
		}
		n := GraphNode{Kind: NodeKind(kindStr)}
		switch n.Kind {
		case NodeDirectory:
			c, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			n.Entries = make(map[string]Edge, c)
			for j := uint64(0); j < c; j++ {
				name, err := r.stringField()
				if err != nil {
					return nil, err
				}
				e, err := decodeEdge(r)
				if err != nil {
					return nil, err
				}
				n.Entries[name] = e
			}
		case NodeFile:
			hasContents, err := r.boolField()
			if err != nil {
				return nil, err
			}
			if hasContents {
				e, err := decodeEdge(r)
				if err != nil {
					return nil, err
				}
				n.Contents = &e
			}
			executable, err := r.boolField()
			if err != nil {
				return nil, err
			}
			n.Executable = executable

			depCount, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			n.Dependencies = make(map[string]FileDependency, depCount)
			for j := uint64(0); j < depCount; j++ {
				key, err := r.stringField()
				if err != nil {
					return nil, err
				}
				reference, err := r.stringField()
				if err != nil {
					return nil, err
				}
				hasReferent, err := r.boolField()
				if err != nil {
					return nil, err
				}
				dep := FileDependency{Reference: reference}
				if hasReferent {
					itemStr, err := r.stringField()
					if err != nil {
						return nil, err
					}
					item, err := id.Parse(itemStr)
					if err != nil {
						return nil, err
					}
					dep.Referent = &Referent{Item: item}
				}
				n.Dependencies[key] = dep
			}
			moduleKind, err := readOptionalString(r)
			if err != nil {
				return nil, err
			}
			n.ModuleKind = moduleKind
		case NodeSymlink:
			hasArtifact, err := r.boolField()
			if err != nil {
				return nil, err
			}
			if hasArtifact {
				e, err := decodeEdge(r)
				if err != nil {
					return nil, err
				}
				n.Artifact = &e
			}
			path, err := readOptionalString(r)
			if err != nil {
				return nil, err
			}
			n.Path = path
		default:
			return nil, tgerror.New(tgerror.Validation, "unknown graph node kind %q", n.Kind)
		}
		nodes = append(nodes, n)
	}
	g := &Graph{Nodes: nodes}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
