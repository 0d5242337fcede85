package state

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
)

// Link is an undirected edge, normalized so that A < B.
type Link struct {
	A NodeId
	B NodeId
}

func NewLink(a, b NodeId) Link {
	if b < a {
		a, b = b, a
	}
	return Link{A: a, B: b}
}

func (l Link) String() string {
	return fmt.Sprintf("%s-%s", l.A, l.B)
}

func (l Link) Has(n NodeId) bool {
	return l.A == n || l.B == n
}

func (l Link) Other(n NodeId) NodeId {
	if l.A == n {
		return l.B
	}
	return l.A
}

// FailureSet is the set of links currently considered down.
type FailureSet map[Link]struct{}

func (f FailureSet) Has(l Link) bool {
	_, ok := f[l]
	return ok
}

func (f FailureSet) Add(l Link) {
	f[l] = struct{}{}
}

func (f FailureSet) Clone() FailureSet {
	c := make(FailureSet, len(f))
	for l := range f {
		c[l] = struct{}{}
	}
	return c
}

// Links returns the failed links in deterministic order.
func (f FailureSet) Links() []Link {
	out := make([]Link, 0, len(f))
	for l := range f {
		out = append(out, l)
	}
	slices.SortFunc(out, func(x, y Link) int {
		if x.A != y.A {
			return cmpId(x.A, y.A)
		}
		return cmpId(x.B, y.B)
	})
	return out
}

func cmpId(a, b NodeId) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Topology is the canonical network graph: switches and hosts as nodes,
// weighted undirected links as edges. Host attachments become weight-1
// edges. Port numbers are derived deterministically: each node numbers its
// neighbours in sorted order starting at 1 (port 0 is the CPU port).
// The topology is immutable after construction; planning passes take a
// FailureSet instead of mutating it.
type Topology struct {
	switches  []NodeId
	hosts     []NodeId
	neighbors map[NodeId][]NodeId
	weights   map[Link]float64
	attached  map[NodeId]NodeId // host -> switch
	prefixes  map[NodeId]netip.Prefix
	addrs     map[NodeId]netip.Addr
	nodeIdx   map[NodeId]int
}

func NewTopology(cfg *CentralCfg) (*Topology, error) {
	t := &Topology{
		neighbors: make(map[NodeId][]NodeId),
		weights:   make(map[Link]float64),
		attached:  make(map[NodeId]NodeId),
		prefixes:  make(map[NodeId]netip.Prefix),
		addrs:     make(map[NodeId]netip.Addr),
		nodeIdx:   make(map[NodeId]int),
	}
	for _, sw := range cfg.Switches {
		t.switches = append(t.switches, sw.Id)
	}
	slices.Sort(t.switches)

	for _, h := range cfg.Hosts {
		t.hosts = append(t.hosts, h.Id)
		t.attached[h.Id] = h.Switch
		t.prefixes[h.Id] = h.Prefix
		t.addrs[h.Id] = h.Addr
	}
	slices.Sort(t.hosts)

	addEdge := func(a, b NodeId, w float64) error {
		l := NewLink(a, b)
		if _, ok := t.weights[l]; ok {
			return fmt.Errorf("duplicate link: %s", l)
		}
		t.weights[l] = w
		t.neighbors[a] = append(t.neighbors[a], b)
		t.neighbors[b] = append(t.neighbors[b], a)
		return nil
	}
	for _, l := range cfg.Links {
		w := l.Weight
		if w == 0 {
			w = DefaultLinkWeight
		}
		if err := addEdge(l.A, l.B, w); err != nil {
			return nil, err
		}
	}
	for _, h := range cfg.Hosts {
		if err := addEdge(h.Id, h.Switch, DefaultLinkWeight); err != nil {
			return nil, err
		}
	}

	for _, n := range t.Nodes() {
		slices.Sort(t.neighbors[n])
		if len(t.neighbors[n])+1 > MaxPorts {
			return nil, fmt.Errorf("node %s has too many ports (max %d)", n, MaxPorts-1)
		}
	}
	for i, n := range t.Nodes() {
		t.nodeIdx[n] = i
	}
	return t, nil
}

// Nodes returns all switches followed by all hosts, sorted within each group.
func (t *Topology) Nodes() []NodeId {
	out := make([]NodeId, 0, len(t.switches)+len(t.hosts))
	out = append(out, t.switches...)
	out = append(out, t.hosts...)
	return out
}

func (t *Topology) Switches() []NodeId {
	return t.switches
}

func (t *Topology) Hosts() []NodeId {
	return t.hosts
}

func (t *Topology) IsSwitch(n NodeId) bool {
	_, ok := t.nodeIdx[n]
	return ok && !t.IsHost(n)
}

func (t *Topology) IsHost(n NodeId) bool {
	_, ok := t.attached[n]
	return ok
}

// Neighbors returns the sorted neighbours of n, hosts included.
func (t *Topology) Neighbors(n NodeId) []NodeId {
	return t.neighbors[n]
}

// SwitchNeighbors returns the switch neighbours of n. Only these are LFA
// candidates; hosts do not forward.
func (t *Topology) SwitchNeighbors(n NodeId) []NodeId {
	out := make([]NodeId, 0, len(t.neighbors[n]))
	for _, nb := range t.neighbors[n] {
		if t.IsSwitch(nb) {
			out = append(out, nb)
		}
	}
	return out
}

func (t *Topology) Weight(a, b NodeId) (float64, bool) {
	w, ok := t.weights[NewLink(a, b)]
	return w, ok
}

func (t *Topology) HasLink(l Link) bool {
	_, ok := t.weights[l]
	return ok
}

// Links returns all edges (host attachments included) in deterministic order.
func (t *Topology) Links() []Link {
	out := make([]Link, 0, len(t.weights))
	for l := range t.weights {
		out = append(out, l)
	}
	slices.SortFunc(out, func(x, y Link) int {
		if x.A != y.A {
			return cmpId(x.A, y.A)
		}
		return cmpId(x.B, y.B)
	})
	return out
}

// PortOf returns the egress port of node towards neigh.
func (t *Topology) PortOf(node, neigh NodeId) (uint16, bool) {
	idx := slices.Index(t.neighbors[node], neigh)
	if idx < 0 {
		return 0, false
	}
	return uint16(idx + 1), true
}

// PeerOf returns the node at the far end of the given port.
func (t *Topology) PeerOf(node NodeId, port uint16) (NodeId, bool) {
	nbs := t.neighbors[node]
	if port < 1 || int(port) > len(nbs) {
		return "", false
	}
	return nbs[port-1], true
}

// PortCount returns the number of physical ports on node.
func (t *Topology) PortCount(node NodeId) int {
	return len(t.neighbors[node])
}

// SwitchOf returns the switch a host is attached to.
func (t *Topology) SwitchOf(host NodeId) (NodeId, bool) {
	sw, ok := t.attached[host]
	return sw, ok
}

func (t *Topology) HostPrefix(host NodeId) (netip.Prefix, bool) {
	p, ok := t.prefixes[host]
	return p, ok
}

func (t *Topology) HostAddr(host NodeId) (netip.Addr, bool) {
	a, ok := t.addrs[host]
	return a, ok
}

// HostIndex returns the next-hop index assigned to a host destination.
// Indices are positions in the sorted host list; they are stable for the
// lifetime of the topology.
func (t *Topology) HostIndex(host NodeId) (uint16, bool) {
	idx, ok := slices.BinarySearch(t.hosts, host)
	if !ok {
		return 0, false
	}
	return uint16(idx), true
}

func (t *Topology) HostByIndex(idx uint16) (NodeId, bool) {
	if int(idx) >= len(t.hosts) {
		return "", false
	}
	return t.hosts[idx], true
}

// MACOf returns the deterministic, locally administered MAC of a node port.
func (t *Topology) MACOf(node NodeId, port uint16) net.HardwareAddr {
	idx := t.nodeIdx[node]
	return net.HardwareAddr{
		0x02, 0x00,
		byte(idx >> 8), byte(idx),
		byte(port >> 8), byte(port),
	}
}
