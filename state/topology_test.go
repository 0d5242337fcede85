package state

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringCfg() *CentralCfg {
	cfg := &CentralCfg{
		Switches: []SwitchCfg{{Id: "s1"}, {Id: "s2"}, {Id: "s3"}, {Id: "s4"}},
		Hosts: []HostCfg{
			{Id: "h1", Switch: "s1", Prefix: netip.MustParsePrefix("10.0.1.0/24"), Addr: netip.MustParseAddr("10.0.1.1")},
			{Id: "h2", Switch: "s2", Prefix: netip.MustParsePrefix("10.0.2.0/24"), Addr: netip.MustParseAddr("10.0.2.2")},
			{Id: "h3", Switch: "s3", Prefix: netip.MustParsePrefix("10.0.3.0/24"), Addr: netip.MustParseAddr("10.0.3.3")},
			{Id: "h4", Switch: "s4", Prefix: netip.MustParsePrefix("10.0.4.0/24"), Addr: netip.MustParseAddr("10.0.4.4")},
		},
		Links: []LinkCfg{
			{A: "s1", B: "s2"},
			{A: "s2", B: "s3"},
			{A: "s3", B: "s4"},
			{A: "s4", B: "s1"},
		},
	}
	ExpandCentralConfig(cfg)
	return cfg
}

func TestTopologyPorts(t *testing.T) {
	topo, err := NewTopology(ringCfg())
	require.NoError(t, err)

	// s2 neighbours sorted: h2, s1, s3
	assert.Equal(t, []NodeId{"h2", "s1", "s3"}, topo.Neighbors("s2"))
	p, ok := topo.PortOf("s2", "h2")
	require.True(t, ok)
	assert.Equal(t, uint16(1), p)
	p, ok = topo.PortOf("s2", "s1")
	require.True(t, ok)
	assert.Equal(t, uint16(2), p)

	peer, ok := topo.PeerOf("s2", 3)
	require.True(t, ok)
	assert.Equal(t, NodeId("s3"), peer)

	_, ok = topo.PeerOf("s2", 4)
	assert.False(t, ok)
	_, ok = topo.PeerOf("s2", PortCpu)
	assert.False(t, ok)

	assert.Equal(t, 3, topo.PortCount("s2"))
	assert.Equal(t, 1, topo.PortCount("h1"))
}

func TestTopologyHostIndices(t *testing.T) {
	topo, err := NewTopology(ringCfg())
	require.NoError(t, err)

	// indices follow sorted host order and are stable
	for i, h := range []NodeId{"h1", "h2", "h3", "h4"} {
		idx, ok := topo.HostIndex(h)
		require.True(t, ok)
		assert.Equal(t, uint16(i), idx)
		back, ok := topo.HostByIndex(idx)
		require.True(t, ok)
		assert.Equal(t, h, back)
	}
	_, ok := topo.HostIndex("s1")
	assert.False(t, ok)
}

func TestTopologyClassification(t *testing.T) {
	topo, err := NewTopology(ringCfg())
	require.NoError(t, err)

	sw, ok := topo.SwitchOf("h3")
	require.True(t, ok)
	assert.Equal(t, NodeId("s3"), sw)

	pfx, ok := topo.HostPrefix("h3")
	require.True(t, ok)
	assert.True(t, pfx.Contains(netip.MustParseAddr("10.0.3.99")))

	assert.True(t, topo.IsHost("h1"))
	assert.False(t, topo.IsHost("s1"))
	assert.True(t, topo.IsSwitch("s1"))
	assert.False(t, topo.IsSwitch("h1"))
	assert.Equal(t, []NodeId{"s1", "s3"}, topo.SwitchNeighbors("s2"))
}

func TestTopologyWeights(t *testing.T) {
	cfg := ringCfg()
	cfg.Links[0].Weight = 2.5
	topo, err := NewTopology(cfg)
	require.NoError(t, err)

	w, ok := topo.Weight("s1", "s2")
	require.True(t, ok)
	assert.Equal(t, 2.5, w)
	// symmetric
	w, ok = topo.Weight("s2", "s1")
	require.True(t, ok)
	assert.Equal(t, 2.5, w)
	// host attachment defaults to weight 1
	w, ok = topo.Weight("h1", "s1")
	require.True(t, ok)
	assert.Equal(t, 1.0, w)

	_, ok = topo.Weight("s1", "s3")
	assert.False(t, ok)
}

func TestLinkNormalization(t *testing.T) {
	assert.Equal(t, NewLink("s2", "s1"), NewLink("s1", "s2"))
	l := NewLink("s2", "s1")
	assert.Equal(t, "s1-s2", l.String())
	assert.Equal(t, NodeId("s2"), l.Other("s1"))
	assert.True(t, l.Has("s1"))
	assert.False(t, l.Has("s3"))
}

func TestFailureSet(t *testing.T) {
	f := make(FailureSet)
	f.Add(NewLink("s3", "s4"))
	f.Add(NewLink("s1", "s2"))
	f.Add(NewLink("s2", "s1")) // duplicate
	assert.Len(t, f, 2)
	assert.True(t, f.Has(NewLink("s2", "s1")))

	links := f.Links()
	assert.Equal(t, []Link{{A: "s1", B: "s2"}, {A: "s3", B: "s4"}}, links)

	c := f.Clone()
	c.Add(NewLink("s2", "s3"))
	assert.Len(t, f, 2)
	assert.Len(t, c, 3)
}

func TestTopologyMACs(t *testing.T) {
	topo, err := NewTopology(ringCfg())
	require.NoError(t, err)

	seen := map[string]struct{}{}
	for _, n := range topo.Nodes() {
		for port := uint16(0); int(port) <= topo.PortCount(n); port++ {
			mac := topo.MACOf(n, port)
			assert.Len(t, []byte(mac), 6)
			_, dup := seen[mac.String()]
			assert.False(t, dup, "duplicate MAC %s", mac)
			seen[mac.String()] = struct{}{}
		}
	}
}
