package sim

import (
	"fmt"
)

// Edge is a permitted directed transition between two health states.
// Index is the global declaration order of the edge; it doubles as the
// deterministic tie-break rule in the competing-risks race.
type Edge struct {
	From  int
	To    int
	Index int
}

// StateGraph is the fixed multi-state structure of a disease model: a finite
// set of health states plus the permitted transitions between them. A state
// with no outgoing edges is absorbing. The graph is immutable once built and
// shared read-only across all replicates of a batch run.
type StateGraph struct {
	states  []string
	index   map[string]int
	initial int
	out     [][]Edge
}

// NewStateGraph builds and validates a state graph from a state list, a set of
// (from, to) transition pairs in declaration order, and the designated initial
// state. Validation failures are configuration errors and abort the run.
func NewStateGraph(states []string, transitions [][2]string, initial string) (*StateGraph, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("state graph: no states defined")
	}

	index := make(map[string]int, len(states))
	for i, s := range states {
		if s == "" {
			return nil, fmt.Errorf("state graph: state %d has empty name", i)
		}
		if _, dup := index[s]; dup {
			return nil, fmt.Errorf("state graph: duplicate state %q", s)
		}
		index[s] = i
	}

	g := &StateGraph{
		states: states,
		index:  index,
		out:    make([][]Edge, len(states)),
	}

	for i, tr := range transitions {
		from, ok := index[tr[0]]
		if !ok {
			return nil, fmt.Errorf("transition %d: unknown from-state %q", i, tr[0])
		}
		to, ok := index[tr[1]]
		if !ok {
			return nil, fmt.Errorf("transition %d: unknown to-state %q", i, tr[1])
		}
		if from == to {
			return nil, fmt.Errorf("transition %d: self-loop on state %q", i, tr[0])
		}
		g.out[from] = append(g.out[from], Edge{From: from, To: to, Index: i})
	}

	init, ok := index[initial]
	if !ok {
		return nil, fmt.Errorf("initial state %q not in state list", initial)
	}
	g.initial = init

	if err := g.checkAbsorbingReachable(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAbsorbingReachable verifies that at least one absorbing state can be
// reached from the initial state. A model violating this would simulate until
// the horizon on every replicate, which is almost always a misconfiguration.
func (g *StateGraph) checkAbsorbingReachable() error {
	visited := make([]bool, len(g.states))
	queue := []int{g.initial}
	visited[g.initial] = true
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if g.Absorbing(s) {
			return nil
		}
		for _, e := range g.out[s] {
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return fmt.Errorf("no absorbing state reachable from initial state %q", g.states[g.initial])
}

// NumStates returns the number of health states.
func (g *StateGraph) NumStates() int { return len(g.states) }

// NumEdges returns the number of permitted transitions.
func (g *StateGraph) NumEdges() int {
	n := 0
	for _, edges := range g.out {
		n += len(edges)
	}
	return n
}

// Initial returns the index of the designated starting state.
func (g *StateGraph) Initial() int { return g.initial }

// StateName returns the declared name of state s.
func (g *StateGraph) StateName(s int) string { return g.states[s] }

// StateIndex resolves a state name to its index.
func (g *StateGraph) StateIndex(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Absorbing reports whether state s has no outgoing transitions.
func (g *StateGraph) Absorbing(s int) bool { return len(g.out[s]) == 0 }

// Outgoing returns the edges leaving state s in declaration order. Callers
// must not mutate the returned slice.
func (g *StateGraph) Outgoing(s int) []Edge { return g.out[s] }

// Edges returns all edges in declaration order.
func (g *StateGraph) Edges() []Edge {
	edges := make([]Edge, g.NumEdges())
	for _, out := range g.out {
		for _, e := range out {
			edges[e.Index] = e
		}
	}
	return edges
}

// EdgeName renders an edge as "From->To" for error and log context.
func (g *StateGraph) EdgeName(e Edge) string {
	return g.states[e.From] + "->" + g.states[e.To]
}
