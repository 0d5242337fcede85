package state

import "time"

const (
	// PortCpu is the reserved punt/inject port between a switch and the
	// controller. Physical ports are numbered starting at 1.
	PortCpu = uint16(0)

	// MaxPorts bounds per-switch port numbers; the wire format carries the
	// port in a 9-bit field.
	MaxPorts = 512
)

var (
	// DefaultHeartbeatInterval is how often the controller emits one probe
	// per switch-to-switch port.
	DefaultHeartbeatInterval = 500 * time.Millisecond

	// DefaultStalenessThreshold declares a link dead once no peer probe has
	// been seen for this long. Must stay above the heartbeat interval with
	// margin; see config validation.
	DefaultStalenessThreshold = 1500 * time.Millisecond

	// DefaultNotificationDelay models reconvergence latency between a
	// data-plane failure notification and the planner acting on it.
	DefaultNotificationDelay = time.Second

	// NotifyDedupTTL suppresses repeated notifications for the same link
	// while a planning pass is pending.
	NotifyDedupTTL = 3 * time.Second

	// DefaultLinkWeight is used for links with no explicit weight.
	DefaultLinkWeight = 1.0

	// SwitchQueueDepth bounds each switch's ingress queue; frames beyond it
	// are dropped, the protocol is loss tolerant.
	SwitchQueueDepth = 1024

	DefaultHostTTL = uint8(64)
)
