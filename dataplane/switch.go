// Package dataplane implements the per-switch forwarding pipeline and
// failure detector. A Switch owns four register tables sized at
// construction time: primary and backup egress port by next-hop index,
// link state and last-heartbeat timestamp by port. Every cell is an atomic;
// packets on different ports or indices never contend and no packet takes
// a lock.
package dataplane

import (
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/encodeous/reflex/perf"
	"github.com/encodeous/reflex/state"
	"github.com/encodeous/reflex/wire"
	"github.com/gaissmai/bart"
)

// NoPort marks an empty next-hop register cell.
const NoPort = ^uint32(0)

// Sink receives the frames a switch emits. Port state.PortCpu addresses the
// controller; every other port is a physical link. Implementations must not
// block.
type Sink interface {
	Emit(port uint16, frame []byte)
}

// Installer is the table-installation surface the planner drives. All
// operations are idempotent and safe to call while traffic is flowing;
// the data plane tolerates transiently inconsistent primary/backup pairs
// during a reinstall.
type Installer interface {
	InstallPrimary(index, port uint16)
	InstallBackup(index, port uint16)
	ResetLinkState(port uint16)
}

type Config struct {
	Id         state.NodeId
	Ports      int // physical ports, numbered 1..Ports
	Indices    int // next-hop index space
	StaleAfter time.Duration
	Log        *slog.Logger
}

type Switch struct {
	id         state.NodeId
	log        *slog.Logger
	staleAfter time.Duration

	// prefix -> next-hop index, installed once at bootstrap
	classifier atomic.Pointer[bart.Table[uint16]]

	primary  []atomic.Uint32 // by next-hop index
	backup   []atomic.Uint32 // by next-hop index
	linkDown []atomic.Bool   // by port
	lastSeen []atomic.Int64  // by port, unix nanos, 0 = never heard

	// MAC rewrite registers by egress port, written only at bootstrap
	srcMAC []net.HardwareAddr
	dstMAC []net.HardwareAddr
}

func New(cfg Config) *Switch {
	sw := &Switch{
		id:         cfg.Id,
		log:        cfg.Log.With("switch", cfg.Id),
		staleAfter: cfg.StaleAfter,
		primary:    make([]atomic.Uint32, cfg.Indices),
		backup:     make([]atomic.Uint32, cfg.Indices),
		linkDown:   make([]atomic.Bool, cfg.Ports+1),
		lastSeen:   make([]atomic.Int64, cfg.Ports+1),
		srcMAC:     make([]net.HardwareAddr, cfg.Ports+1),
		dstMAC:     make([]net.HardwareAddr, cfg.Ports+1),
	}
	for i := range sw.primary {
		sw.primary[i].Store(NoPort)
		sw.backup[i].Store(NoPort)
	}
	return sw
}

func (sw *Switch) Id() state.NodeId {
	return sw.id
}

// HandleFrame runs the per-packet pipeline for one frame arriving on
// ingress. All side effects go through the four register tables and sink.
func (sw *Switch) HandleFrame(ingress uint16, raw []byte, now time.Time, sink Sink) {
	f, err := wire.Decode(raw)
	if err != nil {
		perf.PacketsDropped.Add(1)
		sw.log.Debug("dropping unparseable frame", "ingress", ingress, "err", err)
		return
	}
	if f.Heartbeat != nil {
		sw.handleHeartbeat(ingress, *f.Heartbeat, now, sink)
		return
	}
	sw.forwardIPv4(f, sink)
}

func (sw *Switch) handleHeartbeat(ingress uint16, hb wire.Heartbeat, now time.Time, sink Sink) {
	if !hb.FromCP {
		// Peer-relayed probe: refresh the timestamp for the ingress port and
		// consume it.
		if int(ingress) >= len(sw.lastSeen) || ingress == state.PortCpu {
			perf.PacketsDropped.Add(1)
			return
		}
		sw.lastSeen[ingress].Store(now.UnixNano())
		return
	}

	// Controller-originated probe for hb.Port.
	port := hb.Port
	if int(port) >= len(sw.lastSeen) || port == state.PortCpu {
		perf.PacketsDropped.Add(1)
		return
	}
	prior := sw.lastSeen[port].Load()
	// Absence of any prior probe is not staleness.
	if prior != 0 && now.Sub(time.Unix(0, prior)) > sw.staleAfter {
		// Declare the link down once per detection; the flag stays set until
		// the planner has reconverged and resets it.
		if sw.linkDown[port].CompareAndSwap(false, true) {
			perf.FailuresDetected.Add(1)
			sw.log.Warn("link declared down", "port", port,
				"silence", now.Sub(time.Unix(0, prior)))
			mirror := wire.EncodeHeartbeat(sw.srcMAC[port], sw.dstMAC[port], wire.Heartbeat{
				Port:       port,
				FromCP:     true,
				FailedLink: true,
			})
			sink.Emit(state.PortCpu, mirror)
		}
	}
	// Always relay the probe towards the peer with the origin flag cleared,
	// so the peer records it as a peer heartbeat.
	perf.HeartbeatsRelayed.Add(1)
	relay := wire.EncodeHeartbeat(sw.srcMAC[port], sw.dstMAC[port], wire.Heartbeat{Port: port})
	sink.Emit(port, relay)
}

func (sw *Switch) forwardIPv4(f *wire.Frame, sink Sink) {
	dst, ok := netip.AddrFromSlice(f.IPv4.DstIP)
	if !ok {
		perf.PacketsDropped.Add(1)
		return
	}
	index, ok := sw.classify(dst.Unmap())
	if !ok {
		// expected for unreachable destinations
		perf.PacketsDropped.Add(1)
		return
	}
	port, viaBackup, ok := sw.ResolveEgress(index)
	if !ok {
		perf.PacketsDropped.Add(1)
		return
	}
	if f.IPv4.TTL <= 1 {
		perf.PacketsDropped.Add(1)
		return
	}
	f.IPv4.TTL--
	out, err := wire.EncodeIPv4(sw.srcMAC[port], sw.dstMAC[port], f.IPv4, f.Payload)
	if err != nil {
		perf.PacketsDropped.Add(1)
		sw.log.Debug("reserialize failed", "err", err)
		return
	}
	if viaBackup {
		perf.PacketsRerouted.Add(1)
	} else {
		perf.PacketsForwarded.Add(1)
	}
	sink.Emit(port, out)
}

func (sw *Switch) classify(dst netip.Addr) (uint16, bool) {
	tbl := sw.classifier.Load()
	if tbl == nil {
		return 0, false
	}
	return tbl.Lookup(dst)
}

// ResolveEgress picks the egress port for a next-hop index: the primary
// port unless its link is marked down, in which case the backup port.
// Exactly one link-state read decides; there is no recursive fallback.
func (sw *Switch) ResolveEgress(index uint16) (port uint16, viaBackup bool, ok bool) {
	if int(index) >= len(sw.primary) {
		return 0, false, false
	}
	p := sw.primary[index].Load()
	if p == NoPort {
		return 0, false, false
	}
	if sw.linkDown[p].Load() {
		b := sw.backup[index].Load()
		if b == NoPort {
			return 0, false, false
		}
		return uint16(b), true, true
	}
	return uint16(p), false, true
}

// Bootstrap-only installation below. The classifier and MAC registers are
// populated once by the planner and not touched by failure handling.

// InstallPrefixes replaces the whole prefix classifier.
func (sw *Switch) InstallPrefixes(entries map[netip.Prefix]uint16) {
	tbl := &bart.Table[uint16]{}
	for pfx, idx := range entries {
		tbl.Insert(pfx, idx)
	}
	sw.classifier.Store(tbl)
}

// InstallMACRewrite sets the source/destination rewrite pair for an egress
// port.
func (sw *Switch) InstallMACRewrite(port uint16, src, dst net.HardwareAddr) {
	if int(port) >= len(sw.srcMAC) {
		return
	}
	sw.srcMAC[port] = src
	sw.dstMAC[port] = dst
}

func (sw *Switch) InstallPrimary(index, port uint16) {
	if int(index) >= len(sw.primary) {
		return
	}
	sw.primary[index].Store(uint32(port))
}

func (sw *Switch) InstallBackup(index, port uint16) {
	if int(index) >= len(sw.backup) {
		return
	}
	sw.backup[index].Store(uint32(port))
}

// ResetLinkState hands authority for a port back to the installed tables
// once the planner has routed around the failure.
func (sw *Switch) ResetLinkState(port uint16) {
	if int(port) >= len(sw.linkDown) {
		return
	}
	sw.linkDown[port].Store(false)
}

// LinkDown reports the advisory link-state flag for a port.
func (sw *Switch) LinkDown(port uint16) bool {
	if int(port) >= len(sw.linkDown) {
		return false
	}
	return sw.linkDown[port].Load()
}

// LastHeartbeat returns the receipt time of the most recent peer probe on a
// port, or the zero time if none was ever seen.
func (sw *Switch) LastHeartbeat(port uint16) time.Time {
	if int(port) >= len(sw.lastSeen) {
		return time.Time{}
	}
	ns := sw.lastSeen[port].Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
