package checkin

// unionFind groups arena nodes that must be emitted together as a single
// Graph object: every file in a mutual-import cycle, plus every directory
// that directly contains one of those files as an entry (spec.md §4.3
// step 5). groupNodes repeats that step until nothing changes, so each
// directory further up that contains a grouped directory joins as well,
// up to the checkin root.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// groupNodes computes the final grouping: cyclic SCCs unioned together,
// then any directory with an entry into a cyclic group pulled in too,
// repeated to a fixpoint since a directory's own inclusion can in turn
// pull in its parent.
func groupNodes(a *arena) (uf *unionFind, cyclicRoot map[int]bool) {
	uf = newUnionFind(len(a.nodes))
	for _, scc := range stronglyConnectedComponents(a) {
		for i := 1; i < len(scc); i++ {
			uf.union(scc[0], scc[i])
		}
	}

	cyclicRoot = map[int]bool{}
	markCyclic := func() {
		counts := map[int]int{}
		for i := range a.nodes {
			counts[uf.find(i)]++
		}
		for i, n := range a.nodes {
			root := uf.find(i)
			if counts[root] > 1 {
				cyclicRoot[root] = true
			} else if n.kind == kindFile && selfLoop(a, i) {
				cyclicRoot[root] = true
			}
		}
	}
	markCyclic()

	for {
		changed := false
		for _, n := range a.nodes {
			if n.kind != kindDirectory {
				continue
			}
			for _, childIdx := range n.entries {
				if cyclicRoot[uf.find(childIdx)] {
					self := uf.find(n.selfIndex)
					child := uf.find(childIdx)
					if self != child {
						uf.union(self, child)
						changed = true
					}
				}
			}
		}
		if !changed {
			break
		}
		markCyclic()
	}
	return uf, cyclicRoot
}
