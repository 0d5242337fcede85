package core

import (
	"net/netip"
	"sync"
	"time"

	"github.com/encodeous/reflex/dataplane"
	"github.com/encodeous/reflex/perf"
	"github.com/encodeous/reflex/state"
	"github.com/encodeous/reflex/wire"
	"golang.org/x/sync/errgroup"
)

type inFrame struct {
	port uint16
	raw  []byte
}

// Fabric is the emulated network: one data-plane Switch per topology
// switch, in-memory links between ports, host attachment points, and the
// punt path that carries failed-link mirrors back to the controller.
// A failed link silently eats frames in both directions, so the only
// observable symptom is heartbeat silence, as with a real dead wire.
type Fabric struct {
	env  *state.Env
	topo *state.Topology

	switches map[state.NodeId]*dataplane.Switch
	queues   map[state.NodeId]chan inFrame
	eg       *errgroup.Group

	mu        sync.RWMutex
	downLinks map[state.Link]bool
	taps      map[state.NodeId]func(*wire.Frame)
}

func (f *Fabric) Init(s *state.State) error {
	s.Log.Debug("init fabric")
	f.env = s.Env
	f.topo = s.Topo
	f.switches = make(map[state.NodeId]*dataplane.Switch)
	f.queues = make(map[state.NodeId]chan inFrame)
	f.downLinks = make(map[state.Link]bool)
	f.taps = make(map[state.NodeId]func(*wire.Frame))

	for _, swId := range f.topo.Switches() {
		f.switches[swId] = dataplane.New(dataplane.Config{
			Id:         swId,
			Ports:      f.topo.PortCount(swId),
			Indices:    len(f.topo.Hosts()),
			StaleAfter: s.StalenessThreshold.D(),
			Log:        s.Log,
		})
		f.queues[swId] = make(chan inFrame, state.SwitchQueueDepth)
	}

	f.eg = &errgroup.Group{}
	for _, swId := range f.topo.Switches() {
		f.eg.Go(func() error {
			f.pump(swId)
			return nil
		})
	}
	return nil
}

func (f *Fabric) Cleanup(s *state.State) error {
	return f.eg.Wait()
}

// pump drains one switch's ingress queue through its pipeline.
func (f *Fabric) pump(swId state.NodeId) {
	sw := f.switches[swId]
	sink := &fabricSink{f: f, sw: swId}
	q := f.queues[swId]
	for {
		select {
		case <-f.env.Context.Done():
			return
		case frm := <-q:
			sw.HandleFrame(frm.port, frm.raw, time.Now(), sink)
		}
	}
}

// Switch returns the data plane of a switch, or nil.
func (f *Fabric) Switch(id state.NodeId) *dataplane.Switch {
	return f.switches[id]
}

// Inject queues a frame for processing as if it arrived on the given port.
// Frames beyond the queue depth are dropped.
func (f *Fabric) Inject(swId state.NodeId, port uint16, raw []byte) bool {
	q, ok := f.queues[swId]
	if !ok {
		return false
	}
	select {
	case q <- inFrame{port: port, raw: raw}:
		return true
	default:
		perf.PacketsDropped.Add(1)
		return false
	}
}

// FailLink makes a link silently drop all frames in both directions.
func (f *Fabric) FailLink(l state.Link) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downLinks[l] = true
}

// RestoreLink reverses FailLink. The planner keeps routing around the link;
// restoration is only observable to newly injected traffic and heartbeats.
func (f *Fabric) RestoreLink(l state.Link) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.downLinks, l)
}

func (f *Fabric) linkIsDown(l state.Link) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.downLinks[l]
}

// TapHost registers a receiver for frames delivered to a host.
func (f *Fabric) TapHost(host state.NodeId, fn func(*wire.Frame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taps[host] = fn
}

func (f *Fabric) tapFor(host state.NodeId) func(*wire.Frame) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.taps[host]
}

// SendFromHost injects an IPv4 packet from a host towards dst, entering the
// fabric at the host's gateway switch.
func (f *Fabric) SendFromHost(host state.NodeId, dst netip.Addr, payload []byte) bool {
	swId, ok := f.topo.SwitchOf(host)
	if !ok {
		return false
	}
	src, _ := f.topo.HostAddr(host)
	ingress, ok := f.topo.PortOf(swId, host)
	if !ok {
		return false
	}
	hostPort, _ := f.topo.PortOf(host, swId)
	raw, err := wire.EncodeIPv4Packet(
		f.topo.MACOf(host, hostPort),
		f.topo.MACOf(swId, ingress),
		src, dst, state.DefaultHostTTL, payload)
	if err != nil {
		return false
	}
	return f.Inject(swId, ingress, raw)
}

// fabricSink delivers a switch's emitted frames: punt-path frames go to the
// controller, frames towards a host go to its tap, frames towards a switch
// are queued at the peer's ingress port.
type fabricSink struct {
	f  *Fabric
	sw state.NodeId
}

func (k *fabricSink) Emit(port uint16, raw []byte) {
	f := k.f
	if port == state.PortCpu {
		f.deliverToController(k.sw, raw)
		return
	}
	peer, ok := f.topo.PeerOf(k.sw, port)
	if !ok {
		perf.PacketsDropped.Add(1)
		return
	}
	if f.linkIsDown(state.NewLink(k.sw, peer)) {
		return // dead wire
	}
	if f.topo.IsHost(peer) {
		if tap := f.tapFor(peer); tap != nil {
			if frame, err := wire.Decode(raw); err == nil {
				tap(frame)
			}
		}
		return
	}
	peerPort, _ := f.topo.PortOf(peer, k.sw)
	f.Inject(peer, peerPort, raw)
}

func (f *Fabric) deliverToController(swId state.NodeId, raw []byte) {
	frame, err := wire.Decode(raw)
	if err != nil || frame.Heartbeat == nil || !frame.Heartbeat.FailedLink {
		return
	}
	port := frame.Heartbeat.Port
	f.env.Dispatch(func(s *state.State) error {
		return notifyFailure(s, swId, port)
	})
}
