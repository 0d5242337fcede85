package state

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

type NodeId string

// Duration wraps time.Duration so timing knobs can be written as "500ms"
// in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"'`)
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) D() time.Duration {
	return time.Duration(d)
}

type SwitchCfg struct {
	Id NodeId
}

// HostCfg attaches a host to a switch. The host's prefix is what the
// switches classify on; the address is the host's own.
type HostCfg struct {
	Id     NodeId
	Switch NodeId
	Prefix netip.Prefix
	Addr   netip.Addr
}

// LinkCfg is an undirected switch-to-switch link. Weight defaults to 1.
type LinkCfg struct {
	A      NodeId
	B      NodeId
	Weight float64 `yaml:",omitempty"`
}

type CentralCfg struct {
	Switches []SwitchCfg
	Hosts    []HostCfg
	Links    []LinkCfg

	HeartbeatInterval  Duration `yaml:"heartbeat_interval,omitempty"`
	StalenessThreshold Duration `yaml:"staleness_threshold,omitempty"`
	NotificationDelay  Duration `yaml:"notification_delay,omitempty"`

	LogPath string `yaml:"log_path,omitempty"`
}

// ExpandCentralConfig fills in defaults for everything the file left out.
func ExpandCentralConfig(cfg *CentralCfg) {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = Duration(DefaultHeartbeatInterval)
	}
	if cfg.StalenessThreshold == 0 {
		cfg.StalenessThreshold = Duration(DefaultStalenessThreshold)
	}
	if cfg.NotificationDelay == 0 {
		cfg.NotificationDelay = Duration(DefaultNotificationDelay)
	}
	for i := range cfg.Links {
		if cfg.Links[i].Weight == 0 {
			cfg.Links[i].Weight = DefaultLinkWeight
		}
	}
}

// TimingSane reports whether the staleness threshold leaves margin over the
// heartbeat interval. A false result is a deployment mistake that produces
// spurious failure declarations, but it is deliberately not a hard error.
func (c *CentralCfg) TimingSane() bool {
	return c.StalenessThreshold.D() > c.HeartbeatInterval.D()
}

func CentralConfigValidator(cfg *CentralCfg) error {
	if len(cfg.Switches) == 0 {
		return fmt.Errorf("config defines no switches")
	}
	seen := map[NodeId]struct{}{}
	for _, sw := range cfg.Switches {
		if err := NameValidator(string(sw.Id)); err != nil {
			return err
		}
		if _, ok := seen[sw.Id]; ok {
			return fmt.Errorf("duplicate node id: %s", sw.Id)
		}
		seen[sw.Id] = struct{}{}
	}
	isSwitch := func(n NodeId) bool {
		for _, sw := range cfg.Switches {
			if sw.Id == n {
				return true
			}
		}
		return false
	}
	for _, h := range cfg.Hosts {
		if err := NameValidator(string(h.Id)); err != nil {
			return err
		}
		if _, ok := seen[h.Id]; ok {
			return fmt.Errorf("duplicate node id: %s", h.Id)
		}
		seen[h.Id] = struct{}{}
		if !isSwitch(h.Switch) {
			return fmt.Errorf("host %s attached to unknown switch %s", h.Id, h.Switch)
		}
		if !h.Prefix.IsValid() {
			return fmt.Errorf("host %s has an invalid prefix", h.Id)
		}
		if !h.Addr.IsValid() || !h.Prefix.Contains(h.Addr) {
			return fmt.Errorf("host %s address %s is not inside %s", h.Id, h.Addr, h.Prefix)
		}
	}
	links := map[Link]struct{}{}
	for _, l := range cfg.Links {
		if l.A == l.B {
			return fmt.Errorf("link %s-%s is a self loop", l.A, l.B)
		}
		if !isSwitch(l.A) || !isSwitch(l.B) {
			return fmt.Errorf("link %s-%s references a non-switch node", l.A, l.B)
		}
		if l.Weight < 0 {
			return fmt.Errorf("link %s-%s has negative weight", l.A, l.B)
		}
		lnk := NewLink(l.A, l.B)
		if _, ok := links[lnk]; ok {
			return fmt.Errorf("duplicate link: %s", lnk)
		}
		links[lnk] = struct{}{}
	}
	if cfg.HeartbeatInterval < 0 || cfg.StalenessThreshold < 0 || cfg.NotificationDelay < 0 {
		return fmt.Errorf("timing values must not be negative")
	}
	return nil
}
