package config

import (
	"fmt"
	"net/netip"
	"time"

	"grimm.is/brcompat/internal/brand"
	"grimm.is/brcompat/internal/genl"
	"grimm.is/brcompat/internal/transport"
)

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportUDP    = "udp"
)

// Config is the top-level configuration.
type Config struct {
	Control   *ControlConfig   `hcl:"control,block"`
	Transport *TransportConfig `hcl:"transport,block"`
	Ctl       *CtlConfig       `hcl:"ctl,block"`
	Metrics   *MetricsConfig   `hcl:"metrics,block"`
	Logging   *LoggingConfig   `hcl:"logging,block"`
	Device    *DeviceConfig    `hcl:"device,block"`
}

// ControlConfig configures the correlator and the family it speaks.
type ControlConfig struct {
	// Timeout bounds one round trip, as a Go duration string.
	Timeout  string `hcl:"timeout,optional"`
	GroupID  int    `hcl:"group_id,optional"`
	FamilyID int    `hcl:"family_id,optional"`
	// InitialSequence pins the first sequence number. Unset picks a random one.
	InitialSequence *int64 `hcl:"initial_sequence,optional"`
}

// TransportConfig selects and configures the conduit.
type TransportConfig struct {
	Kind      string `hcl:"kind,optional"`
	Group     string `hcl:"group,optional"`
	Interface string `hcl:"interface,optional"`
	Listen    string `hcl:"listen,optional"`
	// Join makes the shim join its own group; off, daemons must unicast
	// pushes to Listen.
	Join      bool `hcl:"join,optional"`
	TTL       int  `hcl:"ttl,optional"`
	QueueSize int  `hcl:"queue_size,optional"`
	// AllowedPeers lists the addresses or prefixes inbound messages may
	// come from. Unset means loopback only.
	AllowedPeers []string `hcl:"allowed_peers,optional"`
}

// CtlConfig configures the control socket.
type CtlConfig struct {
	Socket string `hcl:"socket,optional"`
	// AdminUIDs may add and remove bridges and ports besides root and the
	// shim's own user.
	AdminUIDs []int `hcl:"admin_uids,optional"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `hcl:"level,optional"`
	JSON  bool   `hcl:"json,optional"`
}

// DeviceConfig configures device lookups.
type DeviceConfig struct {
	// Netns names the namespace links are looked up in. Empty is the
	// current namespace.
	Netns string `hcl:"netns,optional"`
}

// DefaultListen keeps the shim's reply socket off the network unless a
// listen address is configured.
const DefaultListen = "127.0.0.1:0"

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Control: &ControlConfig{
			Timeout:  "5s",
			GroupID:  1,
			FamilyID: int(genl.DefaultFamilyID),
		},
		Transport: &TransportConfig{
			Kind:         TransportUDP,
			Group:        transport.DefaultGroup,
			Listen:       DefaultListen,
			TTL:          1,
			QueueSize:    64,
			AllowedPeers: []string{"127.0.0.0/8"},
		},
		Ctl:     &CtlConfig{Socket: brand.GetSocketPath()},
		Metrics: &MetricsConfig{Listen: "127.0.0.1:9466"},
		Logging: &LoggingConfig{Level: "info"},
		Device:  &DeviceConfig{},
	}
}

// applyDefaults fills blocks and attributes the file left out.
func (c *Config) applyDefaults() {
	d := DefaultConfig()

	if c.Control == nil {
		c.Control = d.Control
	} else {
		setString(&c.Control.Timeout, d.Control.Timeout)
		setInt(&c.Control.GroupID, d.Control.GroupID)
		setInt(&c.Control.FamilyID, d.Control.FamilyID)
	}

	if c.Transport == nil {
		c.Transport = d.Transport
	} else {
		setString(&c.Transport.Kind, d.Transport.Kind)
		setString(&c.Transport.Group, d.Transport.Group)
		setString(&c.Transport.Listen, d.Transport.Listen)
		if c.Transport.AllowedPeers == nil {
			c.Transport.AllowedPeers = d.Transport.AllowedPeers
		}
		setInt(&c.Transport.TTL, d.Transport.TTL)
		setInt(&c.Transport.QueueSize, d.Transport.QueueSize)
	}

	if c.Ctl == nil {
		c.Ctl = d.Ctl
	} else {
		setString(&c.Ctl.Socket, d.Ctl.Socket)
	}

	// An explicit metrics block with no listen address turns metrics off.
	if c.Metrics == nil {
		c.Metrics = d.Metrics
	}

	if c.Logging == nil {
		c.Logging = d.Logging
	} else {
		setString(&c.Logging.Level, d.Logging.Level)
	}

	if c.Device == nil {
		c.Device = d.Device
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// TimeoutDuration returns the parsed round-trip timeout.
func (c *ControlConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// PeerPrefixes parses AllowedPeers. A bare address is a single-host prefix.
func (t *TransportConfig) PeerPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(t.AllowedPeers))
	for _, p := range t.AllowedPeers {
		if addr, err := netip.ParseAddr(p); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("allowed peer %q: %w", p, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}
