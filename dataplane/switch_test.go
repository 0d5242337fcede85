package dataplane

import (
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/reflex/state"
	"github.com/encodeous/reflex/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSink captures everything a switch emits, decoded.
type recordSink struct {
	ports  []uint16
	frames []*wire.Frame
}

func (r *recordSink) Emit(port uint16, raw []byte) {
	f, err := wire.Decode(raw)
	if err != nil {
		panic(err)
	}
	r.ports = append(r.ports, port)
	r.frames = append(r.frames, f)
}

func (r *recordSink) reset() {
	r.ports = nil
	r.frames = nil
}

func portMAC(port uint16) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x01, byte(port >> 8), byte(port)}
}

func peerMAC(port uint16) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x02, byte(port >> 8), byte(port)}
}

func newTestSwitch() *Switch {
	sw := New(Config{
		Id:         "s1",
		Ports:      4,
		Indices:    8,
		StaleAfter: 100 * time.Millisecond,
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	for port := uint16(1); port <= 4; port++ {
		sw.InstallMACRewrite(port, portMAC(port), peerMAC(port))
	}
	sw.InstallPrefixes(map[netip.Prefix]uint16{
		netip.MustParsePrefix("10.0.4.0/24"): 4,
		netip.MustParsePrefix("10.0.0.0/8"):  7, // shorter prefix, must lose
	})
	return sw
}

func dataFrame(t *testing.T, dst string, ttl uint8) []byte {
	t.Helper()
	raw, err := wire.EncodeIPv4Packet(peerMAC(1), portMAC(1),
		netip.MustParseAddr("10.0.1.1"), netip.MustParseAddr(dst), ttl, []byte("data"))
	require.NoError(t, err)
	return raw
}

func cpProbe(port uint16) []byte {
	return wire.EncodeHeartbeat(portMAC(0), portMAC(0), wire.Heartbeat{Port: port, FromCP: true})
}

func peerProbe(port uint16) []byte {
	return wire.EncodeHeartbeat(peerMAC(port), portMAC(port), wire.Heartbeat{Port: port})
}

func TestForwardLongestPrefix(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}
	sw.InstallPrimary(4, 2)
	sw.InstallPrimary(7, 3)

	sw.HandleFrame(1, dataFrame(t, "10.0.4.9", 64), time.Now(), sink)
	require.Len(t, sink.ports, 1)
	// 10.0.4.0/24 wins over 10.0.0.0/8
	assert.Equal(t, uint16(2), sink.ports[0])
	f := sink.frames[0]
	require.NotNil(t, f.IPv4)
	assert.Equal(t, uint8(63), f.IPv4.TTL)
	assert.Equal(t, portMAC(2), f.SrcMAC)
	assert.Equal(t, peerMAC(2), f.DstMAC)
	assert.Equal(t, []byte("data"), f.Payload)

	sink.reset()
	sw.HandleFrame(1, dataFrame(t, "10.9.9.9", 64), time.Now(), sink)
	assert.Equal(t, uint16(3), sink.ports[0])
}

func TestClassificationMissDrops(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}
	sw.InstallPrimary(4, 2)

	sw.HandleFrame(1, dataFrame(t, "192.168.1.1", 64), time.Now(), sink)
	assert.Empty(t, sink.ports)
}

func TestTTLExpiredDrops(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}
	sw.InstallPrimary(4, 2)

	sw.HandleFrame(1, dataFrame(t, "10.0.4.9", 1), time.Now(), sink)
	assert.Empty(t, sink.ports)
}

func TestUnparseableDrops(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}
	sw.HandleFrame(1, []byte{0xde, 0xad}, time.Now(), sink)
	assert.Empty(t, sink.ports)
}

func TestNoRouteInstalledDrops(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}
	// classifier hits index 4 but no port was ever installed
	sw.HandleFrame(1, dataFrame(t, "10.0.4.9", 64), time.Now(), sink)
	assert.Empty(t, sink.ports)
}

func TestResolveEgressFlips(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}
	sw.InstallPrimary(4, 2)
	sw.InstallBackup(4, 3)

	port, viaBackup, ok := sw.ResolveEgress(4)
	require.True(t, ok)
	assert.False(t, viaBackup)
	assert.Equal(t, uint16(2), port)

	// drive port 2 stale: a peer probe long ago, then a controller probe now
	base := time.Now()
	sw.HandleFrame(2, peerProbe(2), base, sink)
	sink.reset()
	sw.HandleFrame(state.PortCpu, cpProbe(2), base.Add(200*time.Millisecond), sink)

	assert.True(t, sw.LinkDown(2))
	port, viaBackup, ok = sw.ResolveEgress(4)
	require.True(t, ok)
	assert.True(t, viaBackup)
	assert.Equal(t, uint16(3), port)

	// data traffic actually takes the backup port
	sink.reset()
	sw.HandleFrame(1, dataFrame(t, "10.0.4.9", 64), base.Add(201*time.Millisecond), sink)
	require.Len(t, sink.ports, 1)
	assert.Equal(t, uint16(3), sink.ports[0])

	// planner hands authority back
	sw.ResetLinkState(2)
	port, viaBackup, ok = sw.ResolveEgress(4)
	require.True(t, ok)
	assert.False(t, viaBackup)
	assert.Equal(t, uint16(2), port)
}

func TestHeartbeatNoPriorTimestampNotStale(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}

	// absence of data is not staleness
	sw.HandleFrame(state.PortCpu, cpProbe(2), time.Now(), sink)
	assert.False(t, sw.LinkDown(2))
	// forwarded towards the peer with from_cp cleared, nothing to the cpu
	require.Len(t, sink.ports, 1)
	assert.Equal(t, uint16(2), sink.ports[0])
	hb := sink.frames[0].Heartbeat
	require.NotNil(t, hb)
	assert.False(t, hb.FromCP)
	assert.False(t, hb.FailedLink)
	assert.Equal(t, uint16(2), hb.Port)
}

func TestPeerHeartbeatConsumed(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}

	now := time.Now()
	assert.True(t, sw.LastHeartbeat(3).IsZero())
	sw.HandleFrame(3, peerProbe(3), now, sink)
	assert.Empty(t, sink.ports, "peer probes are not forwarded")
	assert.Equal(t, now.UnixNano(), sw.LastHeartbeat(3).UnixNano())

	// fresh timestamp: a controller probe within the threshold stays quiet
	sink.reset()
	sw.HandleFrame(state.PortCpu, cpProbe(3), now.Add(50*time.Millisecond), sink)
	assert.False(t, sw.LinkDown(3))
	require.Len(t, sink.ports, 1)
	assert.Equal(t, uint16(3), sink.ports[0])
}

func TestStalenessDetection(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}
	base := time.Now()

	sw.HandleFrame(2, peerProbe(2), base, sink)
	sw.HandleFrame(state.PortCpu, cpProbe(2), base.Add(150*time.Millisecond), sink)

	assert.True(t, sw.LinkDown(2))
	// one mirror to the cpu port, and the probe still relayed to the peer
	require.Len(t, sink.ports, 2)
	assert.Equal(t, state.PortCpu, sink.ports[0])
	mirror := sink.frames[0].Heartbeat
	require.NotNil(t, mirror)
	assert.True(t, mirror.FailedLink)
	assert.Equal(t, uint16(2), mirror.Port)
	assert.Equal(t, uint16(2), sink.ports[1])
	relay := sink.frames[1].Heartbeat
	require.NotNil(t, relay)
	assert.False(t, relay.FromCP)
	assert.False(t, relay.FailedLink)

	// a second stale probe does not mirror again while the flag is set
	sink.reset()
	sw.HandleFrame(state.PortCpu, cpProbe(2), base.Add(300*time.Millisecond), sink)
	require.Len(t, sink.ports, 1)
	assert.Equal(t, uint16(2), sink.ports[0])
}

func TestHeartbeatBadPortDropped(t *testing.T) {
	sw := newTestSwitch()
	sink := &recordSink{}
	sw.HandleFrame(state.PortCpu, cpProbe(300), time.Now(), sink)
	assert.Empty(t, sink.ports)
	// a peer probe claiming the cpu port is nonsense too
	sw.HandleFrame(state.PortCpu, wire.EncodeHeartbeat(portMAC(0), portMAC(0), wire.Heartbeat{Port: 0}), time.Now(), sink)
	assert.Empty(t, sink.ports)
}

func TestInstallIdempotent(t *testing.T) {
	sw := newTestSwitch()
	sw.InstallPrimary(4, 2)
	sw.InstallBackup(4, 3)
	sw.InstallPrimary(4, 2)
	sw.InstallBackup(4, 3)
	port, _, ok := sw.ResolveEgress(4)
	require.True(t, ok)
	assert.Equal(t, uint16(2), port)
	sw.ResetLinkState(2)
	sw.ResetLinkState(2)
	assert.False(t, sw.LinkDown(2))
}

func TestInstallOutOfRangeIgnored(t *testing.T) {
	sw := newTestSwitch()
	sw.InstallPrimary(1000, 2)
	sw.InstallBackup(1000, 2)
	sw.ResetLinkState(1000)
	_, _, ok := sw.ResolveEgress(1000)
	assert.False(t, ok)
}
