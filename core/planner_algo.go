package core

// Pure planning algorithms: all-pairs shortest paths under a failure set,
// loop-free alternate derivation, and the next-hop tables derived from
// both. Everything here is a pure function of (topology, failure set) so a
// planning pass can never observe stale state; results are memoized by the
// caller within one pass and never across passes.

import (
	"container/heap"
	"math"
	"slices"

	"github.com/encodeous/reflex/state"
)

// Unreachable is the distance between disconnected nodes.
var Unreachable = math.Inf(1)

// Distances maps (source, destination) to shortest distance under the
// failure set the planning pass was run with.
type Distances map[state.NodeId]map[state.NodeId]float64

// NextHops maps (source, destination) to the first hop of a shortest path.
// Pairs that are unreachable are absent.
type NextHops map[state.NodeId]map[state.NodeId]state.NodeId

func (d Distances) Between(a, b state.NodeId) float64 {
	if m, ok := d[a]; ok {
		if v, ok := m[b]; ok {
			return v
		}
	}
	return Unreachable
}

type pqItem struct {
	node state.NodeId
	dist float64
	idx  int
}

type nodeQueue []*pqItem

func (q nodeQueue) Len() int { return len(q) }

func (q nodeQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	// deterministic tie-break
	return q[i].node < q[j].node
}

func (q nodeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].idx = i
	q[j].idx = j
}

func (q *nodeQueue) Push(x any) {
	it := x.(*pqItem)
	it.idx = len(*q)
	*q = append(*q, it)
}

func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// dijkstra computes shortest distances and predecessor pointers from src on
// the topology with edges in failed removed.
func dijkstra(topo *state.Topology, failed state.FailureSet, src state.NodeId) (map[state.NodeId]float64, map[state.NodeId]state.NodeId) {
	dist := make(map[state.NodeId]float64)
	prev := make(map[state.NodeId]state.NodeId)
	items := make(map[state.NodeId]*pqItem)

	q := &nodeQueue{}
	srcItem := &pqItem{node: src, dist: 0}
	items[src] = srcItem
	heap.Push(q, srcItem)

	for q.Len() > 0 {
		cur := heap.Pop(q).(*pqItem)
		if _, done := dist[cur.node]; done {
			continue
		}
		dist[cur.node] = cur.dist
		for _, nb := range topo.Neighbors(cur.node) {
			if failed.Has(state.NewLink(cur.node, nb)) {
				continue
			}
			if _, done := dist[nb]; done {
				continue
			}
			w, _ := topo.Weight(cur.node, nb)
			nd := cur.dist + w
			it, seen := items[nb]
			if !seen {
				it = &pqItem{node: nb, dist: nd}
				items[nb] = it
				heap.Push(q, it)
				prev[nb] = cur.node
			} else if nd < it.dist {
				it.dist = nd
				heap.Fix(q, it.idx)
				prev[nb] = cur.node
			}
		}
	}
	return dist, prev
}

// ShortestPaths runs Dijkstra from every node on the working graph (the
// topology minus failed links). It is the expensive step of a planning
// pass; callers compute it once and reuse the result.
func ShortestPaths(topo *state.Topology, failed state.FailureSet) (Distances, NextHops) {
	dists := make(Distances)
	next := make(NextHops)
	for _, src := range topo.Nodes() {
		dist, prev := dijkstra(topo, failed, src)
		dists[src] = dist
		firstHops := make(map[state.NodeId]state.NodeId)
		for dst := range dist {
			if dst == src {
				continue
			}
			// walk predecessors back to the hop adjacent to src
			hop := dst
			for prev[hop] != src {
				hop = prev[hop]
			}
			firstHops[dst] = hop
		}
		next[src] = firstHops
	}
	return dists, next
}

// ComputeLFA returns a loop-free alternate next hop for traffic from sw to
// dst whose primary next hop is primary: a switch neighbour N with
//
//	dist(N, dst) < dist(N, sw) + dist(sw, dst)
//
// so that N never routes the traffic back through sw. Distances must come
// from the same planning pass (failed links removed); infinite distances
// disqualify a candidate. Among qualifying neighbours the one minimizing
// dist(sw,N)+dist(N,dst) wins. ok is false when no LFA exists, which is an
// expected outcome on sparse topologies.
func ComputeLFA(topo *state.Topology, failed state.FailureSet, dist Distances, sw, primary, dst state.NodeId) (lfa state.NodeId, ok bool) {
	best := Unreachable
	for _, n := range topo.SwitchNeighbors(sw) {
		if n == primary {
			continue
		}
		// a neighbour across a failed link is not reachable as a next hop
		if failed.Has(state.NewLink(sw, n)) {
			continue
		}
		dNd := dist.Between(n, dst)
		dNs := dist.Between(n, sw)
		dSd := dist.Between(sw, dst)
		if math.IsInf(dNd, 1) || math.IsInf(dNs, 1) || math.IsInf(dSd, 1) {
			continue
		}
		if dNd < dNs+dSd {
			total := dist.Between(sw, n) + dNd
			if total < best || (total == best && n < lfa) {
				best = total
				lfa = n
				ok = true
			}
		}
	}
	return lfa, ok
}

// Tables is the planner's output for one switch: resolved egress ports by
// next-hop index. NoLFA marks indices whose backup is only the primary port
// again because no loop-free alternate exists.
type Tables struct {
	Primary map[uint16]uint16
	Backup  map[uint16]uint16
	NoLFA   map[uint16]bool
}

// ComputeTables runs one full planning pass: shortest paths on the working
// graph, then per (switch, destination host) the primary egress port and
// its loop-free alternate. Hosts unreachable under the failure set are
// simply absent from the result. The output is deterministic for a given
// (topology, failure set), which makes reinstallation idempotent.
func ComputeTables(topo *state.Topology, failed state.FailureSet) (map[state.NodeId]Tables, Distances) {
	dist, next := ShortestPaths(topo, failed)

	out := make(map[state.NodeId]Tables, len(topo.Switches()))
	for _, sw := range topo.Switches() {
		t := Tables{
			Primary: make(map[uint16]uint16),
			Backup:  make(map[uint16]uint16),
			NoLFA:   make(map[uint16]bool),
		}
		for _, host := range topo.Hosts() {
			nh, ok := next[sw][host]
			if !ok {
				continue // disconnected under this failure set
			}
			index, _ := topo.HostIndex(host)
			port, ok := topo.PortOf(sw, nh)
			if !ok {
				continue
			}
			t.Primary[index] = port

			if nh == host {
				// Nothing can be done if the host link itself fails.
				t.Backup[index] = port
				t.NoLFA[index] = true
				continue
			}
			alt, ok := ComputeLFA(topo, failed, dist, sw, nh, host)
			if !ok {
				// fall back to the primary port; a failure here degrades to
				// loss until the planner reconverges
				t.Backup[index] = port
				t.NoLFA[index] = true
				continue
			}
			altPort, _ := topo.PortOf(sw, alt)
			t.Backup[index] = altPort
		}
		out[sw] = t
	}
	return out, dist
}

// SortedIndices returns the table's installed indices in install order.
func (t Tables) SortedIndices() []uint16 {
	idx := make([]uint16, 0, len(t.Primary))
	for i := range t.Primary {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	return idx
}
