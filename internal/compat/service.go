// Package compat implements the legacy bridge control surface on top of the
// correlator: enumerate bridges, add and delete bridges and ports, describe
// a bridge, list its ports and read its forwarding table.
package compat

import (
	"context"
	"fmt"
	"net"
	"time"

	"grimm.is/brcompat/internal/clock"
	"grimm.is/brcompat/internal/command"
	"grimm.is/brcompat/internal/correlator"
	"grimm.is/brcompat/internal/events"
	"grimm.is/brcompat/internal/genl"
	"grimm.is/brcompat/internal/logging"
	"grimm.is/brcompat/internal/metrics"
	"grimm.is/brcompat/internal/result"
)

// Caller performs one correlated round trip.
type Caller interface {
	Call(ctx context.Context, req *genl.Request) (*correlator.Reply, error)
}

// Devices resolves the devices named by legacy calls.
type Devices interface {
	PortName(ifindex int) (string, error)
	HardwareAddr(name string) (net.HardwareAddr, error)
}

// Config configures a Service.
type Config struct {
	Caller  Caller
	Devices Devices
	// GroupID is the multicast group id announced in QUERY_MC answers.
	GroupID uint32

	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Hub     *events.Hub
}

// Service is the legacy bridge control surface.
type Service struct {
	caller  Caller
	devices Devices
	groupID uint32
	diag    *Diagnostics

	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Registry
	hub     *events.Hub
}

// NewService creates the legacy surface.
func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}
	if cfg.Hub == nil {
		cfg.Hub = events.NewHub()
	}
	return &Service{
		caller:  cfg.Caller,
		devices: cfg.Devices,
		groupID: cfg.GroupID,
		diag:    NewDiagnostics(),
		clock:   cfg.Clock,
		logger:  cfg.Logger.WithComponent("compat"),
		metrics: cfg.Metrics,
		hub:     cfg.Hub,
	}
}

// Diagnostics returns the table of diagnostic pushes received from daemons.
func (s *Service) Diagnostics() *Diagnostics {
	return s.diag
}

// observe logs and counts one legacy call.
func (s *Service) observe(op string, start time.Time, err error, args ...any) {
	errno := Errno(err)
	s.metrics.LegacyCalls.WithLabelValues(op, errnoLabel(errno)).Inc()
	args = append(args, "op", op, "elapsed", s.clock.Since(start))
	if err != nil {
		args = append(args, "errno", errno, "error", err)
	}
	s.logger.Debug("legacy call", args...)
}

// simple runs a request whose reply carries only an error code.
func (s *Service) simple(ctx context.Context, req *genl.Request) error {
	reply, err := s.caller.Call(ctx, req)
	if err != nil {
		return err
	}
	return result.Simple(reply.Attrs)
}

// GetBridges returns the interface indexes of up to n bridges.
func (s *Service) GetBridges(ctx context.Context, n int) (indices []int32, err error) {
	defer func(start time.Time) { s.observe("get_bridges", start, err, "n", n) }(s.clock.Now())
	return s.indices(ctx, command.GetBridges(), n)
}

// GetPortList returns the interface indexes of up to n ports of bridge.
func (s *Service) GetPortList(ctx context.Context, bridge string, n int) (indices []int32, err error) {
	defer func(start time.Time) { s.observe("get_port_list", start, err, "bridge", bridge, "n", n) }(s.clock.Now())
	return s.indices(ctx, command.GetPorts(bridge), n)
}

func (s *Service) indices(ctx context.Context, req *genl.Request, n int) ([]int32, error) {
	if err := result.CheckIndexCount(n); err != nil {
		return nil, err
	}
	reply, err := s.caller.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Indices(reply.Attrs, n)
}

// AddBridge creates a bridge.
func (s *Service) AddBridge(ctx context.Context, bridge string) (err error) {
	defer func(start time.Time) { s.observe("add_bridge", start, err, "bridge", bridge) }(s.clock.Now())
	return s.simple(ctx, command.AddBridge(bridge))
}

// DelBridge deletes a bridge.
func (s *Service) DelBridge(ctx context.Context, bridge string) (err error) {
	defer func(start time.Time) { s.observe("del_bridge", start, err, "bridge", bridge) }(s.clock.Now())
	return s.simple(ctx, command.DelBridge(bridge))
}

// AddPort attaches the interface with index ifindex to bridge.
func (s *Service) AddPort(ctx context.Context, bridge string, ifindex int) (err error) {
	defer func(start time.Time) { s.observe("add_port", start, err, "bridge", bridge, "ifindex", ifindex) }(s.clock.Now())
	return s.port(ctx, bridge, ifindex, command.AddPort)
}

// DelPort detaches the interface with index ifindex from bridge.
func (s *Service) DelPort(ctx context.Context, bridge string, ifindex int) (err error) {
	defer func(start time.Time) { s.observe("del_port", start, err, "bridge", bridge, "ifindex", ifindex) }(s.clock.Now())
	return s.port(ctx, bridge, ifindex, command.DelPort)
}

func (s *Service) port(ctx context.Context, bridge string, ifindex int, build func(bridge, port string) *genl.Request) error {
	// The port name is captured now; the device may be renamed while the
	// request is in flight.
	port, err := s.devices.PortName(ifindex)
	if err != nil {
		return err
	}
	return s.simple(ctx, build(bridge, port))
}

// GetBridgeInfo describes bridge from its hardware address. No request is
// sent.
func (s *Service) GetBridgeInfo(ctx context.Context, bridge string) (info result.BridgeInfo, err error) {
	defer func(start time.Time) { s.observe("get_bridge_info", start, err, "bridge", bridge) }(s.clock.Now())

	mac, err := s.devices.HardwareAddr(bridge)
	if err != nil {
		return result.BridgeInfo{}, err
	}
	info, err = result.NewBridgeInfo(mac)
	if err != nil {
		return result.BridgeInfo{}, fmt.Errorf("%s: %w", bridge, err)
	}
	return info, nil
}

// GetFDBEntries reads up to maxnum forwarding table records of bridge after
// skipping offset records. maxnum is clamped to one page of records.
func (s *Service) GetFDBEntries(ctx context.Context, bridge string, maxnum, offset uint64) (entries []result.FDBEntry, err error) {
	defer func(start time.Time) {
		s.observe("get_fdb_entries", start, err, "bridge", bridge, "maxnum", maxnum, "offset", offset)
	}(s.clock.Now())

	maxnum = result.ClampFDBCount(maxnum)
	reply, err := s.caller.Call(ctx, command.FDBQuery(bridge, maxnum, offset))
	if err != nil {
		return nil, err
	}
	return result.FDBEntries(reply.Attrs, maxnum)
}
