package graph

import "sort"

// tarjanState carries the iterative Tarjan's-algorithm bookkeeping. The
// algorithm is implemented with an explicit stack rather than recursion
// because a dense trading graph's DFS depth can exceed a comfortable Go
// goroutine stack on pathological inputs.
type tarjanState struct {
	g *Digraph

	index   map[int64]int
	lowlink map[int64]int
	onStack map[int64]bool
	stack   []int64
	counter int

	sccs [][]int64
}

// stronglyConnectedComponents returns every SCC of g (including trivial
// singletons), using Tarjan's algorithm with an explicit work stack over
// (node, neighbor-iteration-index) frames.
func stronglyConnectedComponents(g *Digraph) [][]int64 {
	st := &tarjanState{
		g:       g,
		index:   make(map[int64]int),
		lowlink: make(map[int64]int),
		onStack: make(map[int64]bool),
	}

	// Sort nodes for deterministic DFS root ordering — the SCCs found are
	// the same set regardless of order (§4.B: "SCC iteration order need
	// not be stable, but outputs are order-independent"), but a stable
	// root order makes this package's own tests reproducible to read.
	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	for _, v := range nodes {
		if _, visited := st.index[v]; !visited {
			st.strongConnect(v)
		}
	}
	return st.sccs
}

type tarjanFrame struct {
	node        int64
	neighbors   []int64
	neighborIdx int
}

func (st *tarjanState) strongConnect(root int64) {
	work := []*tarjanFrame{st.push(root)}

	for len(work) > 0 {
		frame := work[len(work)-1]

		if frame.neighborIdx < len(frame.neighbors) {
			w := frame.neighbors[frame.neighborIdx]
			frame.neighborIdx++

			if _, visited := st.index[w]; !visited {
				work = append(work, st.push(w))
				continue
			} else if st.onStack[w] {
				if st.index[w] < st.lowlink[frame.node] {
					st.lowlink[frame.node] = st.index[w]
				}
			}
			continue
		}

		// All neighbors processed: pop this frame and propagate lowlink.
		work = work[:len(work)-1]
		if len(work) > 0 {
			parent := work[len(work)-1]
			if st.lowlink[frame.node] < st.lowlink[parent.node] {
				st.lowlink[parent.node] = st.lowlink[frame.node]
			}
		}

		if st.lowlink[frame.node] == st.index[frame.node] {
			var component []int64
			for {
				n := st.stack[len(st.stack)-1]
				st.stack = st.stack[:len(st.stack)-1]
				st.onStack[n] = false
				component = append(component, n)
				if n == frame.node {
					break
				}
			}
			st.sccs = append(st.sccs, component)
		}
	}
}

func (st *tarjanState) push(v int64) *tarjanFrame {
	st.index[v] = st.counter
	st.lowlink[v] = st.counter
	st.counter++
	st.stack = append(st.stack, v)
	st.onStack[v] = true

	neighbors := make([]int64, 0, len(st.g.out[v]))
	for w := range st.g.out[v] {
		neighbors = append(neighbors, w)
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

	return &tarjanFrame{node: v, neighbors: neighbors}
}
