package graph

import "math"

// Cycle is an ordered, non-empty, structurally closed sequence of
// edges: eᵢ.To == eᵢ₊₁.From and the last edge's To equals the first
// edge's From.
type Cycle []Edge

// predecessor indexes, by vertex, the edge that last improved its
// distance during relaxation. A nil entry means the vertex has no
// known predecessor.
type predecessor []*Edge

// FindOne runs Bellman-Ford from vertex 0 and returns the first
// negative cycle discovered by a single post-relaxation edge scan, or
// nil if none exists. Two-edge reciprocation cycles are discarded.
func FindOne(g *Graph) Cycle {
	dist, pred := relax(g, true)
	for i := range g.Edges {
		e := &g.Edges[i]
		u, v := g.VertexIdx[e.From], g.VertexIdx[e.To]
		if dist[u]+e.Weight < dist[v] {
			cycle := reconstruct(g, v, pred)
			if len(cycle) > 2 {
				return cycle
			}
			return nil
		}
	}
	return nil
}

// FindAll runs Bellman-Ford to convergence (no early exit) and returns
// every disjoint negative cycle it can reconstruct, deduplicated by
// structural equality. Edge endpoints already claimed by a reported
// cycle are skipped on the scan so no two returned cycles share an
// edge.
func FindAll(g *Graph) []Cycle {
	dist, pred := relax(g, false)

	visited := make(map[[2]int]bool)
	var cycles []Cycle

	for i := range g.Edges {
		e := &g.Edges[i]
		u, v := g.VertexIdx[e.From], g.VertexIdx[e.To]
		if visited[[2]int{u, v}] {
			continue
		}
		if dist[u]+e.Weight < dist[v] {
			cycle := reconstruct(g, v, pred)
			if len(cycle) == 0 {
				continue
			}
			for _, ce := range cycle {
				cu, cv := g.VertexIdx[ce.From], g.VertexIdx[ce.To]
				visited[[2]int{cu, cv}] = true
			}
			if !containsCycle(cycles, cycle) {
				cycles = append(cycles, cycle)
			}
		}
	}
	return cycles
}

// relax runs up to V relaxation rounds, source vertex 0. When
// earlyExit is set, a round producing no updates stops the loop early
// (FindOne only needs convergence, not every round).
func relax(g *Graph, earlyExit bool) ([]float64, predecessor) {
	n := g.NumVertices()
	dist := make([]float64, n)
	pred := make(predecessor, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	if n > 0 {
		dist[0] = 0
	}

	for round := 0; round < n; round++ {
		updated := false
		for i := range g.Edges {
			e := &g.Edges[i]
			u, v := g.VertexIdx[e.From], g.VertexIdx[e.To]
			if dist[u]+e.Weight < dist[v] {
				dist[v] = dist[u] + e.Weight
				pred[v] = e
				updated = true
			}
		}
		if earlyExit && !updated {
			break
		}
	}
	return dist, pred
}

// reconstruct walks predecessors from a violating vertex to find the
// cycle's entry point (the first revisited vertex), then walks again
// from that entry to collect the cycle's edges, reversing them into
// trade order. Cycles of length <= 2 are discarded as spurious
// back-edge reciprocations.
func reconstruct(g *Graph, start int, pred predecessor) Cycle {
	visited := make(map[int]bool)
	current := start
	entry := -1
	for pred[current] != nil {
		if visited[current] {
			entry = current
			break
		}
		visited[current] = true
		current = g.VertexIdx[pred[current].From]
	}
	if entry == -1 {
		return nil
	}

	var cycle Cycle
	visited = make(map[int]bool)
	current = entry
	for {
		e := pred[current]
		if e == nil || visited[current] {
			break
		}
		visited[current] = true
		cycle = append(cycle, *e)
		current = g.VertexIdx[e.From]
	}

	if len(cycle) <= 2 {
		return nil
	}

	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}

// Sum returns the cycle's total edge weight. A genuine negative cycle
// satisfies Sum() < 0.
func (c Cycle) Sum() float64 {
	var s float64
	for _, e := range c {
		s += e.Weight
	}
	return s
}

// SurfaceRate is the cheap, depth-independent pre-check: the product of
// exp(-weight) over the cycle's edges, minus one. Because weights are
// -log10(rate), this equals (product of rates)^(1/ln 10) - 1, which is
// positive exactly when the product of rates exceeds one.
func (c Cycle) SurfaceRate() float64 {
	product := 1.0
	for _, e := range c {
		product *= math.Exp(-e.Weight)
	}
	return product - 1
}

func containsCycle(cycles []Cycle, candidate Cycle) bool {
	for _, c := range cycles {
		if cyclesEqual(c, candidate) {
			return true
		}
	}
	return false
}

func cyclesEqual(a, b Cycle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
