package core

import (
	"github.com/encodeous/reflex/perf"
	"github.com/encodeous/reflex/state"
	"github.com/encodeous/reflex/wire"
)

// HeartbeatGen periodically injects one controller-originated probe per
// switch-to-switch port. The probes flow through the ordinary per-packet
// path of each switch; the detector does the rest.
type HeartbeatGen struct{}

func (h *HeartbeatGen) Init(s *state.State) error {
	s.Log.Debug("init heartbeat generator")
	if !s.CentralCfg.TimingSane() {
		// Deliberately a warning, not an error: the threshold/interval
		// relationship is a deployment contract the operator owns.
		s.Log.Warn("staleness threshold does not exceed heartbeat interval, expect spurious failures",
			"interval", s.HeartbeatInterval.D(), "threshold", s.StalenessThreshold.D())
	}
	s.Env.RepeatTask(emitHeartbeats, s.HeartbeatInterval.D())
	return nil
}

func (h *HeartbeatGen) Cleanup(s *state.State) error {
	return nil
}

func emitHeartbeats(s *state.State) error {
	f := Get[*Fabric](s)
	topo := s.Topo
	for _, swId := range topo.Switches() {
		for port := uint16(1); int(port) <= topo.PortCount(swId); port++ {
			peer, _ := topo.PeerOf(swId, port)
			if !topo.IsSwitch(peer) {
				continue // host links are not probed
			}
			mac := topo.MACOf(swId, state.PortCpu)
			probe := wire.EncodeHeartbeat(mac, mac, wire.Heartbeat{
				Port:   port,
				FromCP: true,
			})
			f.Inject(swId, state.PortCpu, probe)
			perf.HeartbeatsSent.Add(1)
		}
	}
	return nil
}
