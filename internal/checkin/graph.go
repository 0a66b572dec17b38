package checkin

// tarjan finds the strongly connected components of the arena's path-edge
// graph (spec.md §4.3 step 5), so that cyclic clusters of mutually
// importing files can be materialized as a single graph object while
// acyclic nodes are emitted individually. The algorithm is textbook
// Tarjan, written recursively; grounded on the same "dense-index, no external graph
// library" shape go-git's plumbing/object/commit_walker.go uses for its
// own graph traversals, generalized from commit ancestry to file imports.
type tarjan struct {
	a       *arena
	index   []int // -1 if unvisited
	low     []int
	onStack []bool
	stack   []int
	counter int
	sccs    [][]int
}

// buildPathEdges populates each file node's pathEdges from its resolved
// path-form dependencies, which is the only edge kind that can form a
// cycle within a single checkin (tag-form dependencies point outside this
// arena entirely).
func buildPathEdges(a *arena) {
	for _, n := range a.nodes {
		if n.kind != kindFile {
			continue
		}
		for _, dep := range n.dependencies {
			if dep.hasResolvedNode {
				n.pathEdges = append(n.pathEdges, dep.resolvedNode)
			}
		}
	}
}

// stronglyConnectedComponents returns, for every node reachable via
// pathEdges, the set of components with more than one member, plus
// single-node components where the node has an edge to itself.
func stronglyConnectedComponents(a *arena) [][]int {
	t := &tarjan{
		a:       a,
		index:   make([]int, len(a.nodes)),
		low:     make([]int, len(a.nodes)),
		onStack: make([]bool, len(a.nodes)),
	}
	for i := range t.index {
		t.index[i] = -1
	}
	for i := range a.nodes {
		if t.index[i] == -1 {
			t.strongConnect(i)
		}
	}

	var cyclic [][]int
	for _, scc := range t.sccs {
		if len(scc) > 1 || selfLoop(a, scc[0]) {
			cyclic = append(cyclic, scc)
		}
	}
	return cyclic
}

func selfLoop(a *arena, i int) bool {
	for _, e := range a.nodes[i].pathEdges {
		if e == i {
			return true
		}
	}
	return false
}

func (t *tarjan) strongConnect(v int) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.a.nodes[v].pathEdges {
		if t.index[w] == -1 {
			t.strongConnect(w)
			if t.low[w] < t.low[v] {
				t.low[v] = t.low[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.low[v] {
				t.low[v] = t.index[w]
			}
		}
	}

	if t.low[v] == t.index[v] {
		var scc []int
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}
