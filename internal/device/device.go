// Package device resolves the network devices named by legacy bridge calls:
// port interface indexes to names and bridge names to hardware addresses.
package device

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

var (
	// ErrNoSuchDevice is returned when a lookup finds no device.
	ErrNoSuchDevice = errors.New("no such device")
	// ErrNotSupported is returned on platforms without netlink.
	ErrNotSupported = errors.New("device lookups not supported on this platform")
)

// Netlinker is the subset of netlink the resolver needs.
type Netlinker interface {
	LinkByIndex(index int) (netlink.Link, error)
	LinkByName(name string) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
}

// Resolver looks devices up through a Netlinker.
type Resolver struct {
	nl Netlinker
}

// NewResolver creates a resolver over nl.
func NewResolver(nl Netlinker) *Resolver {
	return &Resolver{nl: nl}
}

// PortName returns the name of the interface with the given index.
func (r *Resolver) PortName(ifindex int) (string, error) {
	if ifindex <= 0 {
		return "", fmt.Errorf("ifindex %d: %w", ifindex, ErrNoSuchDevice)
	}
	link, err := r.nl.LinkByIndex(ifindex)
	if err != nil {
		return "", lookupError(fmt.Sprintf("ifindex %d", ifindex), err)
	}
	return link.Attrs().Name, nil
}

// Index returns the interface index of the named device.
func (r *Resolver) Index(name string) (int, error) {
	link, err := r.nl.LinkByName(name)
	if err != nil {
		return 0, lookupError(name, err)
	}
	return link.Attrs().Index, nil
}

// HardwareAddr returns the hardware address of the named device.
func (r *Resolver) HardwareAddr(name string) (net.HardwareAddr, error) {
	link, err := r.nl.LinkByName(name)
	if err != nil {
		return nil, lookupError(name, err)
	}
	return link.Attrs().HardwareAddr, nil
}

// Names maps interface indexes to names. Indexes that no longer resolve are
// left out.
func (r *Resolver) Names(indices []int32) (map[int32]string, error) {
	links, err := r.nl.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	byIndex := make(map[int32]string, len(links))
	for _, l := range links {
		byIndex[int32(l.Attrs().Index)] = l.Attrs().Name
	}
	out := make(map[int32]string, len(indices))
	for _, idx := range indices {
		if name, ok := byIndex[idx]; ok {
			out[idx] = name
		}
	}
	return out, nil
}

func lookupError(what string, err error) error {
	if errors.Is(err, ErrNoSuchDevice) || isNotFound(err) {
		return fmt.Errorf("%s: %w", what, ErrNoSuchDevice)
	}
	return fmt.Errorf("%s: %w", what, err)
}
