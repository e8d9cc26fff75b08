// Package graph implements component B (§4.B): the per-token weighted
// trade digraph and the layered SCC-peeling loop that mines recurring
// circular trading relationships out of it.
//
// Per §9's design notes, no graph library is used here — the peeling loop
// needs to mutate edge weights and re-run SCC extraction every layer, which
// a generic graph library would only get in the way of. This is a direct
// port of Tarjan's algorithm over a hand-rolled adjacency structure.
package graph

// Digraph is a weighted directed simple graph (no self-loops, no parallel
// edges — those are collapsed at construction time into one weighted
// edge) over dense integer node IDs. It is the in-memory form of the
// "token trade graph" in §3.
type Digraph struct {
	nodes map[int64]struct{}
	out   map[int64]map[int64]int // out[u][v] = edge weight; u present only if out-degree > 0
}

// NewDigraph builds the token trade graph from a token's trade slice:
// edge (s -> b) gets +1 weight per trade with s as seller and b as buyer;
// self-loops (s == b) are dropped at construction per §4.B step 1.
func NewDigraph(sellerIDs, buyerIDs []int64) *Digraph {
	g := &Digraph{
		nodes: make(map[int64]struct{}),
		out:   make(map[int64]map[int64]int),
	}
	for i := range sellerIDs {
		s, b := sellerIDs[i], buyerIDs[i]
		if s == b {
			continue
		}
		g.nodes[s] = struct{}{}
		g.nodes[b] = struct{}{}
		if g.out[s] == nil {
			g.out[s] = make(map[int64]int)
		}
		g.out[s][b]++
	}
	return g
}

// NumNodes returns the number of nodes currently present in the graph.
func (g *Digraph) NumNodes() int { return len(g.nodes) }

// TotalWeight sums every edge's weight — used to verify the peeling
// loop's monotonicity invariant (§8 property 3) in tests.
func (g *Digraph) TotalWeight() int {
	total := 0
	for _, adj := range g.out {
		for _, w := range adj {
			total += w
		}
	}
	return total
}

// Neighbors returns the out-neighbors of u with nonzero weight.
func (g *Digraph) Neighbors(u int64) map[int64]int {
	return g.out[u]
}

// Nodes returns the current node set (order is unspecified; callers sort
// if they need determinism).
func (g *Digraph) Nodes() []int64 {
	result := make([]int64, 0, len(g.nodes))
	for n := range g.nodes {
		result = append(result, n)
	}
	return result
}

// decrementAndPrune implements §4.B steps 2d-2f: decrement every remaining
// edge's weight by 1, drop edges that reach 0, then drop nodes left with
// zero total (in + out) degree.
func (g *Digraph) decrementAndPrune() {
	for u, adj := range g.out {
		for v, w := range adj {
			w--
			if w <= 0 {
				delete(adj, v)
			} else {
				adj[v] = w
			}
		}
		if len(adj) == 0 {
			delete(g.out, u)
		}
	}

	inDegree := make(map[int64]int, len(g.nodes))
	for _, adj := range g.out {
		for v := range adj {
			inDegree[v]++
		}
	}
	for n := range g.nodes {
		outDegree := len(g.out[n])
		if outDegree == 0 && inDegree[n] == 0 {
			delete(g.nodes, n)
		}
	}
}
